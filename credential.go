package pgclient

// CredentialKind tags the Credential variant a caller supplies for
// authentication, per spec §3.
type CredentialKind int

const (
	CredentialTrust CredentialKind = iota
	CredentialCleartextPassword
	CredentialMD5Password
	CredentialSCRAMSHA256
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialTrust:
		return "trust"
	case CredentialCleartextPassword:
		return "cleartext"
	case CredentialMD5Password:
		return "md5"
	case CredentialSCRAMSHA256:
		return "scram-sha-256"
	default:
		return "unknown"
	}
}

// Credential is a tagged union of the authentication methods this client
// can present. Use the constructors below rather than the zero value.
type Credential struct {
	Kind     CredentialKind
	Password string
}

// TrustCredential presents no secret; valid only when the server accepts
// AuthenticationOk without challenge.
func TrustCredential() Credential { return Credential{Kind: CredentialTrust} }

// CleartextPasswordCredential presents a password in the clear, for servers
// that issue AuthenticationCleartextPassword.
func CleartextPasswordCredential(password string) Credential {
	return Credential{Kind: CredentialCleartextPassword, Password: password}
}

// MD5PasswordCredential presents a password for AuthenticationMD5Password
// challenges; the salted MD5 digest is computed by the Connection FSM.
func MD5PasswordCredential(password string) Credential {
	return Credential{Kind: CredentialMD5Password, Password: password}
}

// SCRAMSHA256Credential presents a password for AuthenticationSASL
// challenges offering the SCRAM-SHA-256 mechanism.
func SCRAMSHA256Credential(password string) Credential {
	return Credential{Kind: CredentialSCRAMSHA256, Password: password}
}
