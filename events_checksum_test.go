package binlog

import (
	"bytes"
	"testing"
)

// buildFDBody constructs a FORMAT_DESCRIPTION event body (everything after
// the event header) for the given server version string and optional
// checksum-algorithm trailer.
func buildFDBody(serverVersion string, typeHeaderLengths []byte, trailer []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{4, 0}) // BinlogVersion = 4, little-endian uint16
	sv := make([]byte, 50)
	copy(sv, serverVersion)
	buf.Write(sv)
	buf.Write([]byte{0, 0, 0, 0}) // CreateTimestamp
	buf.WriteByte(19)             // EventHeaderLength
	buf.Write(typeHeaderLengths)
	buf.Write(trailer)
	return buf.Bytes()
}

func decodeFD(t *testing.T, body []byte) *FormatDescriptionEvent {
	t.Helper()
	r := newReader(bytes.NewReader(newPacketData(body)), new(uint8))
	r.fde = FormatDescriptionEvent{BinlogVersion: 4}
	eventSize := uint32(19 + len(body))
	e := FormatDescriptionEvent{}
	if err := e.decode(r, eventSize); err != nil {
		t.Fatal(err)
	}
	return &e
}

func TestFormatDescriptionEvent_checksumCRC32(t *testing.T) {
	typeHeaderLengths := []byte{10, 20, 30}
	trailer := []byte{0x01, 0, 0, 0, 0} // alg=CRC32, 4-byte reserved slot
	body := buildFDBody("5.6.24-log", typeHeaderLengths, trailer)

	e := decodeFD(t, body)
	if e.ChecksumAlg != ChecksumCRC32 {
		t.Fatalf("ChecksumAlg = %v, want CRC32", e.ChecksumAlg)
	}
	if !bytes.Equal(e.EventTypeHeaderLengths, typeHeaderLengths) {
		t.Fatalf("EventTypeHeaderLengths = %v, want %v", e.EventTypeHeaderLengths, typeHeaderLengths)
	}
}

func TestFormatDescriptionEvent_checksumUndefOldServer(t *testing.T) {
	typeHeaderLengths := []byte{10, 20, 30}
	body := buildFDBody("5.5.62-log", typeHeaderLengths, nil)

	e := decodeFD(t, body)
	if e.ChecksumAlg != ChecksumUndef {
		t.Fatalf("ChecksumAlg = %v, want UNDEF", e.ChecksumAlg)
	}
	if !bytes.Equal(e.EventTypeHeaderLengths, typeHeaderLengths) {
		t.Fatalf("EventTypeHeaderLengths = %v, want %v", e.EventTypeHeaderLengths, typeHeaderLengths)
	}
}

func TestChecksumAwareVersionProduct(t *testing.T) {
	cases := []struct {
		version string
		aware   bool
	}{
		{"5.6.24-log", true},
		{"5.6.1", true},
		{"5.5.62-log", false},
		{"5.6.0", false},
		{"garbage", false},
	}
	for _, c := range cases {
		if got := checksumAwareVersion(c.version); got != c.aware {
			t.Errorf("checksumAwareVersion(%q) = %v, want %v", c.version, got, c.aware)
		}
	}
}
