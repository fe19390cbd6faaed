package pgtest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// scramSalt and scramIterations are fixed so ScramHandshake's derivation is
// deterministic across test runs.
var scramSalt = []byte("fixedtestsalt123")

const scramIterations = 4096

// ScramHandshake drains the StartupMessage, offers SCRAM-SHA-256, and drives
// the full SASLInitialResponse/SASLContinue/SASLResponse/SASLFinal exchange
// against the frontend using password as the account's real password,
// verifying the frontend's ClientProof the way a real backend would before
// finishing startup like TrustHandshake.
func (s *Server) ScramHandshake(password string, txnStatus byte) error {
	if _, err := s.ReadStartupMessage(); err != nil {
		return err
	}
	if err := s.WriteAuthenticationSASL("SCRAM-SHA-256"); err != nil {
		return err
	}

	typ, body, err := s.ReadMessage()
	if err != nil {
		return err
	}
	if typ != 'p' {
		return fmt.Errorf("pgtest: expected SASLInitialResponse, got %q", typ)
	}
	mechanism, clientFirstFull, err := decodeSASLInitialResponse(body)
	if err != nil {
		return err
	}
	if mechanism != "SCRAM-SHA-256" {
		return fmt.Errorf("pgtest: unexpected SASL mechanism %q", mechanism)
	}
	clientFirstBare, clientNonce, err := parseClientFirst(clientFirstFull)
	if err != nil {
		return err
	}

	combinedNonce := clientNonce + "server-extra-nonce-bytes"
	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", combinedNonce, base64.StdEncoding.EncodeToString(scramSalt), scramIterations)
	if err := s.WriteAuthenticationSASLContinue([]byte(serverFirst)); err != nil {
		return err
	}

	typ, body, err = s.ReadMessage()
	if err != nil {
		return err
	}
	if typ != 'p' {
		return fmt.Errorf("pgtest: expected SASLResponse, got %q", typ)
	}
	clientFinalWithoutProof, proof, err := parseClientFinal(string(body))
	if err != nil {
		return err
	}

	saltedPassword := pbkdf2.Key([]byte(password), scramSalt, scramIterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, "Client Key")
	storedKey := sha256Sum(clientKey)
	authMessage := clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof
	clientSignature := hmacSHA256(storedKey, authMessage)
	expectedProof := xorBytes(clientKey, clientSignature)

	if !hmac.Equal(proof, expectedProof) {
		return fmt.Errorf("pgtest: client SCRAM proof did not match the expected derivation")
	}

	serverKey := hmacSHA256(saltedPassword, "Server Key")
	serverSignature := hmacSHA256(serverKey, authMessage)
	if err := s.WriteAuthenticationSASLFinal([]byte("v=" + base64.StdEncoding.EncodeToString(serverSignature))); err != nil {
		return err
	}

	if txnStatus == 0 {
		txnStatus = 'I'
	}
	if err := s.WriteAuthenticationOk(); err != nil {
		return err
	}
	if err := s.WriteParameterStatus("server_version", "16.0"); err != nil {
		return err
	}
	if err := s.WriteBackendKeyData(1234, 5678); err != nil {
		return err
	}
	return s.WriteReadyForQuery(txnStatus)
}

// decodeSASLInitialResponse splits a SASLInitialResponse body into the
// mechanism name and the client-first-message, mirroring
// wire.EncodeSASLInitialResponse's layout.
func decodeSASLInitialResponse(body []byte) (mechanism string, clientFirst []byte, err error) {
	idx := 0
	for idx < len(body) && body[idx] != 0 {
		idx++
	}
	if idx >= len(body) {
		return "", nil, fmt.Errorf("pgtest: SASLInitialResponse missing mechanism NUL terminator")
	}
	mechanism = string(body[:idx])
	rest := body[idx+1:]
	if len(rest) < 4 {
		return "", nil, fmt.Errorf("pgtest: SASLInitialResponse missing message length")
	}
	msgLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if msgLen < 0 || msgLen > len(rest) {
		return "", nil, fmt.Errorf("pgtest: SASLInitialResponse length %d out of range", msgLen)
	}
	return mechanism, rest[:msgLen], nil
}

// parseClientFirst strips the "n,," gs2-header and recovers the client nonce
// from "n=<user>,r=<nonce>".
func parseClientFirst(full []byte) (bare string, nonce string, err error) {
	const gs2Header = "n,,"
	s := string(full)
	if !strings.HasPrefix(s, gs2Header) {
		return "", "", fmt.Errorf("pgtest: client-first-message missing gs2-header: %q", s)
	}
	bare = s[len(gs2Header):]
	for _, part := range strings.Split(bare, ",") {
		if strings.HasPrefix(part, "r=") {
			nonce = part[2:]
		}
	}
	if nonce == "" {
		return "", "", fmt.Errorf("pgtest: client-first-message missing nonce: %q", bare)
	}
	return bare, nonce, nil
}

// parseClientFinal splits a client-final-message into the portion that feeds
// AuthMessage (everything before ",p=") and the decoded ClientProof bytes.
func parseClientFinal(msg string) (withoutProof string, proof []byte, err error) {
	idx := strings.LastIndex(msg, ",p=")
	if idx < 0 {
		return "", nil, fmt.Errorf("pgtest: client-final-message missing proof: %q", msg)
	}
	withoutProof = msg[:idx]
	proof, err = base64.StdEncoding.DecodeString(msg[idx+3:])
	if err != nil {
		return "", nil, fmt.Errorf("pgtest: decoding client proof: %w", err)
	}
	return withoutProof, proof, nil
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
