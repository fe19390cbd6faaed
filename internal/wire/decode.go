package wire

import "fmt"

// ColumnMetadata describes one result column, from RowDescription.
type ColumnMetadata struct {
	Name                 string
	TableOID             uint32
	ColumnAttributeNumber uint16
	DataTypeOID          uint32
	DataTypeSize         int16
	DataTypeModifier     int32
}

// DecodeRowDescription parses a RowDescription ('T') body.
func DecodeRowDescription(body []byte) ([]ColumnMetadata, error) {
	r := NewReader(body)
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnMetadata, 0, count)
	for i := uint16(0); i < count; i++ {
		name, err := r.ReadCString()
		if err != nil {
			return nil, err
		}
		tableOID, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		attrNum, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		typeOID, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		typeSizeRaw, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		typeMod, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		// format code, always 0 (text) for this client
		if _, err := r.ReadUint16(); err != nil {
			return nil, err
		}
		cols = append(cols, ColumnMetadata{
			Name:                  name,
			TableOID:              tableOID,
			ColumnAttributeNumber: attrNum,
			DataTypeOID:           typeOID,
			DataTypeSize:          int16(typeSizeRaw),
			DataTypeModifier:      typeMod,
		})
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("wire: trailing bytes in RowDescription")
	}
	return cols, nil
}

// DecodeDataRow parses a DataRow ('D') body into per-column values. A nil
// entry denotes SQL NULL (length -1 on the wire).
func DecodeDataRow(body []byte) ([]*string, error) {
	r := NewReader(body)
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	values := make([]*string, 0, count)
	for i := uint16(0); i < count; i++ {
		n, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			values = append(values, nil)
			continue
		}
		b, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		s := string(b)
		values = append(values, &s)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("wire: trailing bytes in DataRow")
	}
	return values, nil
}

// DecodeParameterStatus parses a ParameterStatus ('S') body into a
// name/value pair.
func DecodeParameterStatus(body []byte) (name, value string, err error) {
	r := NewReader(body)
	if name, err = r.ReadCString(); err != nil {
		return "", "", err
	}
	if value, err = r.ReadCString(); err != nil {
		return "", "", err
	}
	return name, value, nil
}

// DecodeBackendKeyData parses a BackendKeyData ('K') body.
func DecodeBackendKeyData(body []byte) (pid, secret uint32, err error) {
	r := NewReader(body)
	if pid, err = r.ReadUint32(); err != nil {
		return 0, 0, err
	}
	if secret, err = r.ReadUint32(); err != nil {
		return 0, 0, err
	}
	return pid, secret, nil
}

// DecodeAuthentication parses an Authentication* ('R') body: a 4-byte
// sub-type followed by a sub-type-specific payload.
func DecodeAuthentication(body []byte) (authType uint32, rest []byte, err error) {
	r := NewReader(body)
	if authType, err = r.ReadUint32(); err != nil {
		return 0, nil, err
	}
	rest = body[r.pos:]
	return authType, rest, nil
}

// DecodeFields parses the field list common to ErrorResponse and
// NoticeResponse: a sequence of (byte fieldType, cstring value) pairs
// terminated by a NUL fieldType.
func DecodeFields(body []byte) (map[byte]string, error) {
	r := NewReader(body)
	fields := make(map[byte]string)
	for {
		typ, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if typ == 0 {
			break
		}
		val, err := r.ReadCString()
		if err != nil {
			return nil, err
		}
		fields[typ] = val
	}
	return fields, nil
}

// DecodeCommandComplete parses a CommandComplete ('C') body's command tag.
func DecodeCommandComplete(body []byte) (string, error) {
	r := NewReader(body)
	return r.ReadCString()
}

// DecodeReadyForQuery parses a ReadyForQuery ('Z') body's transaction status
// byte ('I', 'T', or 'E').
func DecodeReadyForQuery(body []byte) (byte, error) {
	if len(body) != 1 {
		return 0, fmt.Errorf("wire: ReadyForQuery body must be 1 byte, got %d", len(body))
	}
	return body[0], nil
}

// ErrorResponse field type letters used by the errors package.
const (
	FieldSeverity = 'S'
	FieldCode     = 'C'
	FieldMessage  = 'M'
	FieldDetail   = 'D'
	FieldHint     = 'H'
	FieldPosition = 'P'
)
