package wire

import (
	"encoding/binary"
	"fmt"
)

// Frontend message type bytes.
const (
	MsgPassword          byte = 'p' // also used for SASLInitialResponse/SASLResponse
	MsgParse             byte = 'P'
	MsgBind              byte = 'B'
	MsgDescribe          byte = 'D'
	MsgExecute           byte = 'E'
	MsgSync              byte = 'S'
	MsgQuery             byte = 'Q'
	MsgTerminate         byte = 'X'
	MsgClose             byte = 'C'
	MsgFlush             byte = 'H'
)

// Backend message type bytes.
const (
	MsgAuthentication     byte = 'R'
	MsgParameterStatus    byte = 'S'
	MsgBackendKeyData     byte = 'K'
	MsgReadyForQuery      byte = 'Z'
	MsgRowDescription     byte = 'T'
	MsgDataRow            byte = 'D'
	MsgCommandComplete    byte = 'C'
	MsgEmptyQueryResponse byte = 'I'
	MsgErrorResponse      byte = 'E'
	MsgNoticeResponse     byte = 'N'
	MsgNotificationResp   byte = 'A'
	MsgParseComplete      byte = '1'
	MsgBindComplete       byte = '2'
	MsgNoData             byte = 'n'
	MsgParameterDesc      byte = 't'
	MsgCloseComplete      byte = '3'
	MsgPortalSuspended    byte = 's'
)

// Describe/Close target kinds.
const (
	TargetStatement byte = 'S'
	TargetPortal    byte = 'P'
)

const sslRequestCode uint32 = 80877103
const protocolVersion3 uint32 = 3 << 16

// Message is a decoded backend message: its type byte and raw body (the
// bytes after the 4-byte length field).
type Message struct {
	Type byte
	Body []byte
}

// --- Frontend encoders ---

func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

func frame(typ byte, body []byte) []byte {
	msgLen := len(body) + 4
	out := make([]byte, 0, 1+msgLen)
	if typ != 0 {
		out = append(out, typ)
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(msgLen))
	out = append(out, lenBuf...)
	out = append(out, body...)
	return out
}

// EncodeSSLRequest builds the fixed 8-byte untagged SSLRequest message.
func EncodeSSLRequest() []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, sslRequestCode)
	return frame(0, body)
}

// EncodeStartup builds the untagged StartupMessage with protocol 3.0 and the
// given ordered parameters.
func EncodeStartup(params [][2]string) []byte {
	var body []byte
	verBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(verBuf, protocolVersion3)
	body = append(body, verBuf...)
	for _, kv := range params {
		body = appendCString(body, kv[0])
		body = appendCString(body, kv[1])
	}
	body = append(body, 0)
	return frame(0, body)
}

// EncodePasswordMessage builds a PasswordMessage ('p') carrying a
// NUL-terminated password (cleartext or the precomputed md5 string).
func EncodePasswordMessage(password string) []byte {
	body := appendCString(nil, password)
	return frame(MsgPassword, body)
}

// EncodeSASLInitialResponse builds the client's SASLInitialResponse ('p'):
// mechanism name, NUL, i32 length of the first message, then the message
// bytes themselves (no NUL terminator on the message).
func EncodeSASLInitialResponse(mechanism string, clientFirstMessage []byte) []byte {
	body := appendCString(nil, mechanism)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(clientFirstMessage)))
	body = append(body, lenBuf...)
	body = append(body, clientFirstMessage...)
	return frame(MsgPassword, body)
}

// EncodeSASLResponse builds the client's SASLResponse ('p'): raw response
// bytes, no framing beyond the message type/length.
func EncodeSASLResponse(clientFinalMessage []byte) []byte {
	return frame(MsgPassword, clientFinalMessage)
}

// EncodeParse builds a Parse ('P') message: empty statement name selects the
// unnamed prepared statement... this client always names its statement.
func EncodeParse(name, query string, paramOIDs []uint32) []byte {
	var body []byte
	body = appendCString(body, name)
	body = appendCString(body, query)
	countBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(countBuf, uint16(len(paramOIDs)))
	body = append(body, countBuf...)
	for _, oid := range paramOIDs {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, oid)
		body = append(body, b...)
	}
	return frame(MsgParse, body)
}

// EncodeDescribe builds a Describe ('D') message for a statement or portal.
func EncodeDescribe(kind byte, name string) []byte {
	body := []byte{kind}
	body = appendCString(body, name)
	return frame(MsgDescribe, body)
}

// EncodeBind builds a Bind ('B') message binding text-format parameter
// values to a named portal against a named (prepared) statement. A nil
// entry in values encodes SQL NULL (length -1).
func EncodeBind(portal, statement string, values []*string) []byte {
	var body []byte
	body = appendCString(body, portal)
	body = appendCString(body, statement)

	// parameter format codes: 0 entries means "all text"
	body = append(body, 0, 0)

	countBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(countBuf, uint16(len(values)))
	body = append(body, countBuf...)
	for _, v := range values {
		lenBuf := make([]byte, 4)
		if v == nil {
			binary.BigEndian.PutUint32(lenBuf, 0xFFFFFFFF) // -1
			body = append(body, lenBuf...)
			continue
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(len(*v)))
		body = append(body, lenBuf...)
		body = append(body, *v...)
	}

	// result format codes: 1 entry, 0 = text, applies to all result columns
	body = append(body, 0, 1, 0, 0)
	return frame(MsgBind, body)
}

// EncodeExecute builds an Execute ('E') message for a named portal. A
// maxRows of 0 means "no limit".
func EncodeExecute(portal string, maxRows int32) []byte {
	var body []byte
	body = appendCString(body, portal)
	rowBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(rowBuf, uint32(maxRows))
	body = append(body, rowBuf...)
	return frame(MsgExecute, body)
}

// EncodeSync builds a Sync ('S') message.
func EncodeSync() []byte { return frame(MsgSync, nil) }

// EncodeFlush builds a Flush ('H') message, forcing the backend to send any
// buffered responses without ending the extended-query cycle the way Sync
// would — used after Bind+Execute so row streaming can begin while Sync
// stays deferred until the cursor is closed or exhausted (spec §4.4).
func EncodeFlush() []byte { return frame(MsgFlush, nil) }

// EncodeQuery builds a simple-query Query ('Q') message.
func EncodeQuery(sql string) []byte {
	return frame(MsgQuery, appendCString(nil, sql))
}

// EncodeTerminate builds a Terminate ('X') message.
func EncodeTerminate() []byte { return frame(MsgTerminate, nil) }

// EncodeClose builds a Close message for a statement or portal, and expects
// a CloseComplete in response.
func EncodeClose(kind byte, name string) []byte {
	body := []byte{kind}
	body = appendCString(body, name)
	return frame(MsgClose, body)
}

// --- Field reader over a decoded message body ---

// Reader provides lazy field accessors over a message body, per §4.2.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(body []byte) *Reader { return &Reader{buf: body} }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("wire: short read: expected 1 byte, have 0")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("wire: short read: expected 2 bytes, have %d", len(r.buf)-r.pos)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("wire: short read: expected 4 bytes, have %d", len(r.buf)-r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("wire: short read: expected %d bytes, have %d", n, len(r.buf)-r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadCString() (string, error) {
	start := r.pos
	for r.pos < len(r.buf) {
		if r.buf[r.pos] == 0 {
			s := string(r.buf[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", fmt.Errorf("wire: unterminated string")
}

// AtEnd reports whether all bytes in the body have been consumed — callers
// use this to detect unexpected trailing bytes, a protocol error.
func (r *Reader) AtEnd() bool { return r.pos == len(r.buf) }
