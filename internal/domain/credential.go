package domain

import "time"

// Credential is a tenant's decrypted venue API credential set. It exists only
// in process memory; at rest it is persisted as an EncryptedCredential.
type Credential struct {
	TenantID   string
	APIKey     string
	APISecret  string
	Passphrase string
}

// Complete reports whether every field required to sign a request is present.
func (c Credential) Complete() bool {
	return c.TenantID != "" && c.APIKey != "" && c.APISecret != "" && c.Passphrase != ""
}

// EncryptedCredential is the at-rest form of a Credential. Each secret is an
// independently encrypted, base64-encoded ciphertext; IV is the hex-encoded
// per-record random initialization vector they were sealed under.
type EncryptedCredential struct {
	TenantID   string
	APIKey     string
	APISecret  string
	Passphrase string
	IV         string
	UpdatedAt  time.Time
}
