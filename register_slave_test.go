package binlog

import (
	"bytes"
	"testing"
)

func TestRegisterSlave_encode(t *testing.T) {
	var buf bytes.Buffer
	var seq uint8
	w := newWriter(&buf, &seq)

	rs := registerSlave{
		serverID:     42,
		reportHost:   "127.0.0.1",
		reportUser:   "mrl_user",
		reportPasswd: "pw",
		reportPort:   3306,
	}
	if err := rs.encode(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got := buf.Bytes()
	body := got[headerSize:]
	if body[0] != comRegisterSlave {
		t.Fatalf("command byte = %#x, want %#x", body[0], comRegisterSlave)
	}

	r := newReader(bytes.NewReader(got), new(uint8))
	if b := r.int1(); b != comRegisterSlave {
		t.Fatalf("decoded command byte = %#x", b)
	}
	if id := r.int4(); id != 42 {
		t.Fatalf("decoded serverID = %d, want 42", id)
	}
	if host := r.stringN(); host != "127.0.0.1" {
		t.Fatalf("decoded reportHost = %q, want %q", host, "127.0.0.1")
	}
	if user := r.stringN(); user != "mrl_user" {
		t.Fatalf("decoded reportUser = %q, want %q", user, "mrl_user")
	}
	if pw := r.stringN(); pw != "pw" {
		t.Fatalf("decoded reportPasswd = %q, want %q", pw, "pw")
	}
	if port := r.int2(); port != 3306 {
		t.Fatalf("decoded reportPort = %d, want 3306", port)
	}
	if r.err != nil {
		t.Fatal(r.err)
	}
}
