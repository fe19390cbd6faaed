package wire

import (
	"encoding/binary"
	"testing"
)

func u16(n uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, n); return b }
func u32(n uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, n); return b }
func i32(n int32) []byte  { return u32(uint32(n)) }

func TestDecodeRowDescriptionRoundTrip(t *testing.T) {
	var body []byte
	body = append(body, u16(1)...)
	body = appendCString(body, "id")
	body = append(body, u32(16385)...) // table OID
	body = append(body, u16(1)...)     // attr num
	body = append(body, u32(23)...)    // type OID (int4)
	body = append(body, u16(4)...)     // type size
	body = append(body, i32(-1)...)    // type modifier
	body = append(body, u16(0)...)     // format code

	cols, err := DecodeRowDescription(body)
	if err != nil {
		t.Fatalf("DecodeRowDescription: %v", err)
	}
	if len(cols) != 1 {
		t.Fatalf("len(cols) = %d, want 1", len(cols))
	}
	c := cols[0]
	if c.Name != "id" || c.TableOID != 16385 || c.ColumnAttributeNumber != 1 ||
		c.DataTypeOID != 23 || c.DataTypeSize != 4 || c.DataTypeModifier != -1 {
		t.Fatalf("decoded column = %+v", c)
	}
}

func TestDecodeRowDescriptionRejectsTrailingBytes(t *testing.T) {
	body := append(u16(0), 0xFF)
	if _, err := DecodeRowDescription(body); err == nil {
		t.Error("expected a trailing-bytes error")
	}
}

func TestDecodeDataRowRoundTripWithNull(t *testing.T) {
	var body []byte
	body = append(body, u16(2)...)
	body = append(body, i32(3)...)
	body = append(body, "abc"...)
	body = append(body, i32(-1)...)

	values, err := DecodeDataRow(body)
	if err != nil {
		t.Fatalf("DecodeDataRow: %v", err)
	}
	if len(values) != 2 || values[0] == nil || *values[0] != "abc" || values[1] != nil {
		t.Fatalf("values = %v, %v", values[0], values[1])
	}
}

func TestDecodeAuthenticationSplitsSubTypeAndRest(t *testing.T) {
	body := append(u32(5), []byte{1, 2, 3, 4}...) // AuthenticationMD5Password + salt
	authType, rest, err := DecodeAuthentication(body)
	if err != nil {
		t.Fatalf("DecodeAuthentication: %v", err)
	}
	if authType != 5 {
		t.Fatalf("authType = %d, want 5", authType)
	}
	if string(rest) != "\x01\x02\x03\x04" {
		t.Fatalf("rest = %v", rest)
	}
}

func TestDecodeFieldsParsesUntilNUL(t *testing.T) {
	var body []byte
	body = append(body, FieldSeverity)
	body = appendCString(body, "ERROR")
	body = append(body, FieldCode)
	body = appendCString(body, "42601")
	body = append(body, 0)

	fields, err := DecodeFields(body)
	if err != nil {
		t.Fatalf("DecodeFields: %v", err)
	}
	if fields[FieldSeverity] != "ERROR" || fields[FieldCode] != "42601" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestDecodeReadyForQueryRejectsWrongLength(t *testing.T) {
	if _, err := DecodeReadyForQuery([]byte("II")); err == nil {
		t.Error("expected an error for a 2-byte ReadyForQuery body")
	}
	status, err := DecodeReadyForQuery([]byte("T"))
	if err != nil || status != 'T' {
		t.Fatalf("status = %q, err = %v", status, err)
	}
}
