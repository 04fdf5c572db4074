package types

import "strings"

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (JWT signing key, SMTP password, push
// server key). String() and MarshalJSON() return a placeholder so the value
// never reaches logs or config dumps.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value. Call sites should be limited to
// the point where the credential is handed to a client library.
func (s SecretString) Unmask() string {
	return string(s)
}

// RedactEmail masks an address for logging: "ann@example.com" becomes
// "a***@example.com". Input without an "@" is masked entirely.
func RedactEmail(addr string) string {
	if addr == "" {
		return ""
	}
	at := strings.IndexByte(addr, '@')
	switch {
	case at < 0:
		return "***"
	case at == 0:
		return "***" + addr[at:]
	}
	return addr[:1] + "***" + addr[at:]
}
