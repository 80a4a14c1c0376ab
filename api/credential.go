package api

// Credential is one dispatch identity: the secret sent in the Authorization
// header and a label shown to the operator instead of the secret.
type Credential struct {
	Secret Secret
	Label  string
}

// NewCredential builds a Credential with the secret trimmed.
// An empty label falls back to the masked secret.
func NewCredential(secret, label string) Credential {
	s := Secret(secret).Trimmed()
	if label == "" {
		label = s.Masked()
	}
	return Credential{Secret: s, Label: label}
}

// IsZero reports whether the credential carries no secret.
func (c Credential) IsZero() bool {
	return c.Secret.Trimmed().IsEmpty()
}

// Same reports whether both credentials hold the same secret, ignoring
// surrounding whitespace.
func (c Credential) Same(other Credential) bool {
	return c.Secret.Trimmed() == other.Secret.Trimmed()
}
