package binlog

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func decodeValueFromBytes(t *testing.T, col Column, data []byte) interface{} {
	t.Helper()
	r := newReader(bytes.NewReader(newPacketData(data)), new(uint8))
	v, err := col.decodeValue(r)
	if err != nil {
		t.Fatal(err)
	}
	if r.err != nil {
		t.Fatal(r.err)
	}
	return v
}

func TestDecodeValue_legacyTimestampZero(t *testing.T) {
	col := Column{Type: TypeTimestamp}
	buf := make([]byte, 4) // raw 0
	got := decodeValueFromBytes(t, col, buf)
	if got != "0000-00-00 00:00:00" {
		t.Fatalf("got %#v, want the literal zero-timestamp string", got)
	}
}

func TestDecodeValue_legacyTimestampNonZero(t *testing.T) {
	col := Column{Type: TypeTimestamp}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 1000000000)
	got := decodeValueFromBytes(t, col, buf)
	want := time.Unix(1000000000, 0).UTC()
	tm, ok := got.(time.Time)
	if !ok || !tm.Equal(want) {
		t.Fatalf("got %#v, want %v", got, want)
	}
}

func TestDecodeValue_legacyDateTimeZero(t *testing.T) {
	col := Column{Type: TypeDateTime}
	buf := make([]byte, 8) // raw 0
	got := decodeValueFromBytes(t, col, buf)
	if got != "0000-00-00 00:00:00" {
		t.Fatalf("got %#v, want the literal zero-timestamp string", got)
	}
}

func TestDecodeValue_legacyDateTimeNonZero(t *testing.T) {
	col := Column{Type: TypeDateTime}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 20210214203712)
	got := decodeValueFromBytes(t, col, buf)
	want := time.Date(2021, time.February, 14, 20, 37, 12, 0, time.UTC)
	tm, ok := got.(time.Time)
	if !ok || !tm.Equal(want) {
		t.Fatalf("got %#v, want %v", got, want)
	}
}

func TestDecodeValue_legacyTime(t *testing.T) {
	col := Column{Type: TypeTime}
	buf := make([]byte, 3)
	buf[0], buf[1], buf[2] = 0x34, 0x03, 0x00 // 0x000334 = 820 = 00:08:20
	got := decodeValueFromBytes(t, col, buf)
	want := 8*time.Minute + 20*time.Second
	d, ok := got.(time.Duration)
	if !ok || d != want {
		t.Fatalf("got %#v, want %v", got, want)
	}
}

func TestDecodeValue_legacyTimeNegative(t *testing.T) {
	col := Column{Type: TypeTime}
	var raw uint32 = 820 // 00:08:20
	neg := (^raw + 1) & 0x00FFFFFF
	buf := []byte{byte(neg), byte(neg >> 8), byte(neg >> 16)}
	got := decodeValueFromBytes(t, col, buf)
	want := -(8*time.Minute + 20*time.Second)
	d, ok := got.(time.Duration)
	if !ok || d != want {
		t.Fatalf("got %#v, want %v", got, want)
	}
}
