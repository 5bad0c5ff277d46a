package types

const redactedPlaceholder = "***REDACTED***"

// SecretString holds a credential (push server key, webhook URL, admin key,
// Redis password) that must never reach logs or JSON output.
// Unmask returns the raw value for the few call sites that need it.
type SecretString string

// String implements fmt.Stringer with a redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// GoString keeps %#v redacted as well.
func (s SecretString) GoString() string {
	return redactedPlaceholder
}

// MarshalJSON encodes the placeholder instead of the value.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a non-empty value is present.
func (s SecretString) IsSet() bool {
	return s != ""
}
