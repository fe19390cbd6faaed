package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeStartupGoldenBytes(t *testing.T) {
	got := EncodeStartup([][2]string{{"user", "alice"}, {"database", "app"}})

	var body []byte
	verBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(verBuf, protocolVersion3)
	body = append(body, verBuf...)
	body = appendCString(body, "user")
	body = appendCString(body, "alice")
	body = appendCString(body, "database")
	body = appendCString(body, "app")
	body = append(body, 0)

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)+4))
	want := append(lenBuf, body...)

	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeStartup:\n got  % x\n want % x", got, want)
	}
	if got[0] != 0 {
		t.Error("StartupMessage must be untagged (no leading type byte)")
	}
}

func TestEncodeSSLRequestGoldenBytes(t *testing.T) {
	got := EncodeSSLRequest()
	want := []byte{0, 0, 0, 8, 4, 210, 22, 47} // length=8, code=80877103
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeSSLRequest = % x, want % x", got, want)
	}
}

func TestEncodeParseRoundTripsThroughReader(t *testing.T) {
	msg := EncodeParse("stmt1", "SELECT $1", []uint32{23})
	if msg[0] != MsgParse {
		t.Fatalf("type byte = %q, want 'P'", msg[0])
	}
	length := binary.BigEndian.Uint32(msg[1:5])
	if int(length)+1 != len(msg) {
		t.Fatalf("frame length %d doesn't match message size %d", length, len(msg))
	}

	r := NewReader(msg[5:])
	name, err := r.ReadCString()
	if err != nil || name != "stmt1" {
		t.Fatalf("name = %q, err = %v", name, err)
	}
	query, err := r.ReadCString()
	if err != nil || query != "SELECT $1" {
		t.Fatalf("query = %q, err = %v", query, err)
	}
	n, err := r.ReadUint16()
	if err != nil || n != 1 {
		t.Fatalf("param count = %d, err = %v", n, err)
	}
	oid, err := r.ReadUint32()
	if err != nil || oid != 23 {
		t.Fatalf("oid = %d, err = %v", oid, err)
	}
	if !r.AtEnd() {
		t.Error("trailing bytes after Parse body")
	}
}

func TestEncodeBindNullAndNonNullValues(t *testing.T) {
	v := "hello"
	msg := EncodeBind("", "stmt1", []*string{&v, nil})

	r := NewReader(msg[5:])
	portal, _ := r.ReadCString()
	stmt, _ := r.ReadCString()
	if portal != "" || stmt != "stmt1" {
		t.Fatalf("portal=%q stmt=%q", portal, stmt)
	}
	paramFormatCount, _ := r.ReadUint16()
	if paramFormatCount != 0 {
		t.Fatalf("param format count = %d, want 0 (all text)", paramFormatCount)
	}
	n, _ := r.ReadUint16()
	if n != 2 {
		t.Fatalf("value count = %d, want 2", n)
	}
	l1, _ := r.ReadInt32()
	if l1 != 5 {
		t.Fatalf("first value length = %d, want 5", l1)
	}
	b1, _ := r.ReadBytes(5)
	if string(b1) != "hello" {
		t.Fatalf("first value = %q", b1)
	}
	l2, _ := r.ReadInt32()
	if l2 != -1 {
		t.Fatalf("NULL length = %d, want -1", l2)
	}
	resultFormatCount, _ := r.ReadUint16()
	if resultFormatCount != 1 {
		t.Fatalf("result format count = %d, want 1", resultFormatCount)
	}
	resultFormat, _ := r.ReadUint16()
	if resultFormat != 0 {
		t.Fatalf("result format = %d, want 0 (text)", resultFormat)
	}
	if !r.AtEnd() {
		t.Error("trailing bytes after Bind body")
	}
}

func TestEncodeSASLInitialResponseFraming(t *testing.T) {
	first := []byte("n,,n=,r=abc123")
	msg := EncodeSASLInitialResponse("SCRAM-SHA-256", first)
	if msg[0] != MsgPassword {
		t.Fatalf("type byte = %q, want 'p'", msg[0])
	}

	r := NewReader(msg[5:])
	mech, _ := r.ReadCString()
	if mech != "SCRAM-SHA-256" {
		t.Fatalf("mechanism = %q", mech)
	}
	n, _ := r.ReadInt32()
	if int(n) != len(first) {
		t.Fatalf("declared length = %d, want %d", n, len(first))
	}
	rest, _ := r.ReadBytes(int(n))
	if !bytes.Equal(rest, first) {
		t.Fatalf("message = %q, want %q", rest, first)
	}
	if !r.AtEnd() {
		t.Error("trailing bytes after SASLInitialResponse body")
	}
}

func TestEncodeFlushAndSyncAreTaggedMinimalFrames(t *testing.T) {
	flush := EncodeFlush()
	if len(flush) != 5 || flush[0] != MsgFlush {
		t.Fatalf("EncodeFlush = % x", flush)
	}
	sync := EncodeSync()
	if len(sync) != 5 || sync[0] != MsgSync {
		t.Fatalf("EncodeSync = % x", sync)
	}
}

func TestReaderShortReadErrors(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadUint32(); err == nil {
		t.Error("expected a short-read error for ReadUint32 on a 2-byte buffer")
	}
}

func TestReaderReadCStringUnterminated(t *testing.T) {
	r := NewReader([]byte("no-nul-terminator"))
	if _, err := r.ReadCString(); err == nil {
		t.Error("expected an unterminated-string error")
	}
}
