// Package scram implements the client side of SCRAM-SHA-256 (RFC 5802/7677)
// for PostgreSQL SASL authentication, generalized from the salted-password
// derivation used for backend-to-backend auth in the example corpus into a
// reusable client engine.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	pgerrors "github.com/pgwireclient/pgclient/errors"
)

const gs2Header = "n,,"

// Client drives one SCRAM-SHA-256 exchange. Construct with NewClient, then
// call ClientFirstMessage, HandleServerFirstMessage (once, returns the
// client-final-message), and VerifyServerFinalMessage (once) in that order.
type Client struct {
	username    string
	password    string
	clientNonce string

	clientFirstBare string
	serverFirst     string
	saltedPassword  []byte
	authMessage     string
}

// NewClient creates a SCRAM client for the given username/password, drawing
// a fresh 18-byte (24 base64 chars) client nonce from crypto/rand.
func NewClient(username, password string) (*Client, error) {
	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("scram: generating client nonce: %w", err)
	}
	return &Client{
		username:    username,
		password:    password,
		clientNonce: base64.StdEncoding.EncodeToString(nonceBytes),
	}, nil
}

// ClientFirstMessage returns the full client-first-message (with the
// gs2-header) to send as the SASLInitialResponse body. The bare message
// (without the header) is kept on the Client for use in AuthMessage.
func (c *Client) ClientFirstMessage() (full []byte) {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeUsername(c.username), c.clientNonce)
	return []byte(gs2Header + c.clientFirstBare)
}

// HandleServerFirstMessage parses "r=<nonce>,s=<salt>,i=<iterations>",
// validates the combined nonce starts with the client nonce, and derives the
// client-final-message to send as the SASLResponse body.
func (c *Client) HandleServerFirstMessage(msg []byte) ([]byte, error) {
	c.serverFirst = string(msg)

	nonce, salt, iterations, err := parseServerFirst(c.serverFirst)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(nonce, c.clientNonce) {
		return nil, pgerrors.NewSCRAMMechanismViolated()
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, nonce)

	c.authMessage = c.clientFirstBare + "," + c.serverFirst + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(c.authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinal := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(clientFinal), nil
}

// VerifyServerFinalMessage parses "v=<server_sig_b64>" and compares it to
// the client's own computation of ServerSignature.
func (c *Client) VerifyServerFinalMessage(msg []byte) error {
	serverKey := hmacSHA256(c.saltedPassword, []byte("Server Key"))
	expectedSig := hmacSHA256(serverKey, []byte(c.authMessage))
	expected := "v=" + base64.StdEncoding.EncodeToString(expectedSig)
	if string(msg) != expected {
		return pgerrors.NewSCRAMServerVerificationFailed()
	}
	return nil
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("scram: decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("scram: parsing iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("scram: incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

// escapeUsername replaces "=" with "=3D" and "," with "=2C" per RFC 5802.
func escapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// ParseMechanisms parses a NUL-terminated list of SASL mechanism names, as
// offered in AuthenticationSASL's body (after the 4-byte auth type).
func ParseMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

// Contains reports whether mechs contains target.
func Contains(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}
