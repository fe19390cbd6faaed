// Package pgtest provides a minimal in-memory PostgreSQL backend double,
// built on net.Pipe, for driving the Connection FSM in tests without a real
// server.
package pgtest

import (
	"encoding/binary"
	"net"
)

// Server is the backend side of a net.Pipe-connected pair. Tests read the
// frontend's bytes off it and write hand-built backend messages back.
type Server struct {
	Conn net.Conn
}

// Pipe returns a connected (clientConn, *Server) pair.
func Pipe() (net.Conn, *Server) {
	client, server := net.Pipe()
	return client, &Server{Conn: server}
}

func frame(typ byte, body []byte) []byte {
	out := make([]byte, 0, 5+len(body))
	if typ != 0 {
		out = append(out, typ)
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)+4))
	out = append(out, lenBuf...)
	out = append(out, body...)
	return out
}

func cstr(s string) []byte { return append([]byte(s), 0) }

// ReadMessage reads one tagged, length-prefixed message and returns its type
// byte and body. The untagged Startup/SSLRequest messages are read with
// ReadStartupMessage instead.
func (s *Server) ReadMessage() (byte, []byte, error) {
	head := make([]byte, 1)
	if _, err := readFull(s.Conn, head); err != nil {
		return 0, nil, err
	}
	typ := head[0]
	lenBuf := make([]byte, 4)
	if _, err := readFull(s.Conn, lenBuf); err != nil {
		return 0, nil, err
	}
	bodyLen := int(binary.BigEndian.Uint32(lenBuf)) - 4
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := readFull(s.Conn, body); err != nil {
			return 0, nil, err
		}
	}
	return typ, body, nil
}

// ReadStartupMessage reads the untagged StartupMessage (length + protocol
// version + params + trailing NUL — no leading type byte).
func (s *Server) ReadStartupMessage() ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := readFull(s.Conn, lenBuf); err != nil {
		return nil, err
	}
	bodyLen := int(binary.BigEndian.Uint32(lenBuf)) - 4
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := readFull(s.Conn, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Server) write(b []byte) error {
	_, err := s.Conn.Write(b)
	return err
}

// WriteAuthenticationOk writes AuthenticationOk.
func (s *Server) WriteAuthenticationOk() error {
	body := make([]byte, 4)
	return s.write(frame('R', body))
}

// WriteAuthenticationCleartextPassword writes AuthenticationCleartextPassword.
func (s *Server) WriteAuthenticationCleartextPassword() error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, 3)
	return s.write(frame('R', body))
}

// WriteAuthenticationMD5Password writes AuthenticationMD5Password with salt.
func (s *Server) WriteAuthenticationMD5Password(salt [4]byte) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[:4], 5)
	copy(body[4:], salt[:])
	return s.write(frame('R', body))
}

// WriteAuthenticationSASL writes AuthenticationSASL offering the given
// mechanism names.
func (s *Server) WriteAuthenticationSASL(mechanisms ...string) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, 10)
	for _, m := range mechanisms {
		body = append(body, cstr(m)...)
	}
	body = append(body, 0)
	return s.write(frame('R', body))
}

// WriteAuthenticationSASLContinue writes AuthenticationSASLContinue carrying
// the server-first-message.
func (s *Server) WriteAuthenticationSASLContinue(serverFirst []byte) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, 11)
	body = append(body, serverFirst...)
	return s.write(frame('R', body))
}

// WriteAuthenticationSASLFinal writes AuthenticationSASLFinal carrying the
// server-final-message.
func (s *Server) WriteAuthenticationSASLFinal(serverFinal []byte) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, 12)
	body = append(body, serverFinal...)
	return s.write(frame('R', body))
}

// WriteParameterStatus writes one ParameterStatus message.
func (s *Server) WriteParameterStatus(name, value string) error {
	body := append(cstr(name), cstr(value)...)
	return s.write(frame('S', body))
}

// WriteBackendKeyData writes BackendKeyData.
func (s *Server) WriteBackendKeyData(pid, secret uint32) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[:4], pid)
	binary.BigEndian.PutUint32(body[4:], secret)
	return s.write(frame('K', body))
}

// WriteReadyForQuery writes ReadyForQuery with the given txn status byte.
func (s *Server) WriteReadyForQuery(status byte) error {
	return s.write(frame('Z', []byte{status}))
}

// WriteErrorResponse writes a minimal ErrorResponse with severity/code/message.
func (s *Server) WriteErrorResponse(severity, code, message string) error {
	var body []byte
	body = append(body, 'S')
	body = append(body, cstr(severity)...)
	body = append(body, 'C')
	body = append(body, cstr(code)...)
	body = append(body, 'M')
	body = append(body, cstr(message)...)
	body = append(body, 0)
	return s.write(frame('E', body))
}

// WriteParseComplete writes ParseComplete.
func (s *Server) WriteParseComplete() error { return s.write(frame('1', nil)) }

// WriteParameterDescription writes ParameterDescription with no parameters.
func (s *Server) WriteParameterDescription() error {
	return s.write(frame('t', []byte{0, 0}))
}

// WriteNoData writes NoData.
func (s *Server) WriteNoData() error { return s.write(frame('n', nil)) }

// RowDescriptionColumn describes one column for WriteRowDescription.
type RowDescriptionColumn struct {
	Name     string
	TableOID uint32
	AttrNum  uint16
	TypeOID  uint32
	TypeSize int16
	TypeMod  int32
}

// WriteRowDescription writes a RowDescription with the given columns, all
// in text format.
func (s *Server) WriteRowDescription(cols []RowDescriptionColumn) error {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, uint16(len(cols)))
	for _, c := range cols {
		body = append(body, cstr(c.Name)...)
		b := make([]byte, 18)
		binary.BigEndian.PutUint32(b[0:4], c.TableOID)
		binary.BigEndian.PutUint16(b[4:6], c.AttrNum)
		binary.BigEndian.PutUint32(b[6:10], c.TypeOID)
		binary.BigEndian.PutUint16(b[10:12], uint16(c.TypeSize))
		binary.BigEndian.PutUint32(b[12:16], uint32(c.TypeMod))
		// format code (text = 0)
		body = append(body, b...)
	}
	return s.write(frame('T', body))
}

// WriteDataRow writes one DataRow. A nil entry encodes SQL NULL.
func (s *Server) WriteDataRow(values []*string) error {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, uint16(len(values)))
	for _, v := range values {
		lenBuf := make([]byte, 4)
		if v == nil {
			binary.BigEndian.PutUint32(lenBuf, 0xFFFFFFFF)
			body = append(body, lenBuf...)
			continue
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(len(*v)))
		body = append(body, lenBuf...)
		body = append(body, *v...)
	}
	return s.write(frame('D', body))
}

// WriteCommandComplete writes CommandComplete with the given command tag.
func (s *Server) WriteCommandComplete(tag string) error {
	return s.write(frame('C', cstr(tag)))
}

// WriteBindComplete writes BindComplete.
func (s *Server) WriteBindComplete() error { return s.write(frame('2', nil)) }

// WriteCloseComplete writes CloseComplete.
func (s *Server) WriteCloseComplete() error { return s.write(frame('3', nil)) }

// WriteEmptyQueryResponse writes EmptyQueryResponse.
func (s *Server) WriteEmptyQueryResponse() error { return s.write(frame('I', nil)) }
