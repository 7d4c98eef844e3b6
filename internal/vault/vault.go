// Package vault encrypts per-tenant venue credentials at rest and serves
// decrypted copies from an in-memory cache. The cache is the single source of
// truth for "is this tenant currently onboarded".
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alimansour/coinwatch/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// ivLen is the per-record random initialization vector length in bytes.
	ivLen = 16
	// nonceLen is the GCM nonce length derived from the record IV per field.
	nonceLen = 12
)

// keySalt pins the master-key derivation so the same master secret always
// yields the same AES key across restarts. The literal master secret is never
// persisted.
var keySalt = []byte("coinwatch/vault/v1")

// SessionController is the narrow surface the vault uses to keep a tenant's
// private stream in step with credential changes.
type SessionController interface {
	// StartSession (re)starts the tenant's account stream with cred.
	StartSession(ctx context.Context, cred domain.Credential)
	// StopSession stops the tenant's account stream. Safe to call when no
	// session is running.
	StopSession(tenantID string)
}

// Vault holds the derived process-wide key, the persistent credential store,
// and the decrypted in-memory cache.
type Vault struct {
	aead     cipher.AEAD
	store    domain.CredentialStore
	sessions SessionController
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]domain.Credential
}

// New derives the AES key from masterSecret and returns a ready Vault.
// An empty master secret is a configuration error; callers treat it as fatal
// at startup.
func New(masterSecret string, store domain.CredentialStore, sessions SessionController, logger *slog.Logger) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("vault: master secret is empty: %w", domain.ErrConfiguration)
	}

	key := pbkdf2.Key([]byte(masterSecret), keySalt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	return &Vault{
		aead:     aead,
		store:    store,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "vault")),
		cache:    make(map[string]domain.Credential),
	}, nil
}

// Store encrypts the three secrets under a fresh random IV, persists the
// record, updates the decrypted cache, and (re)starts the tenant's account
// stream.
func (v *Vault) Store(ctx context.Context, tenantID, apiKey, apiSecret, passphrase string) error {
	if tenantID == "" || apiKey == "" || apiSecret == "" || passphrase == "" {
		return fmt.Errorf("vault: all credential fields are required: %w", domain.ErrConfiguration)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("vault: generating iv: %w", err)
	}

	rec := domain.EncryptedCredential{
		TenantID:   tenantID,
		APIKey:     v.sealField(iv, "api_key", apiKey),
		APISecret:  v.sealField(iv, "api_secret", apiSecret),
		Passphrase: v.sealField(iv, "passphrase", passphrase),
		IV:         hex.EncodeToString(iv),
		UpdatedAt:  time.Now().UTC(),
	}

	if err := v.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("vault: persist credential for %s: %w", tenantID, err)
	}

	cred := domain.Credential{
		TenantID:   tenantID,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
	}

	v.mu.Lock()
	v.cache[tenantID] = cred
	v.mu.Unlock()

	v.logger.InfoContext(ctx, "credential stored", slog.String("tenant", tenantID))

	if v.sessions != nil {
		v.sessions.StartSession(ctx, cred)
	}
	return nil
}

// Load returns the tenant's decrypted credentials, reading through to the
// store on a cache miss. It returns domain.ErrCredentialAbsent when no record
// exists, a field is missing, or decryption fails — a decryption failure
// indicates a corrupt record or rotated master key and is logged, never
// raised as a crash.
func (v *Vault) Load(ctx context.Context, tenantID string) (domain.Credential, error) {
	v.mu.RLock()
	cred, ok := v.cache[tenantID]
	v.mu.RUnlock()
	if ok {
		return cred, nil
	}

	rec, err := v.store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Credential{}, domain.ErrCredentialAbsent
		}
		return domain.Credential{}, fmt.Errorf("vault: read credential for %s: %w", tenantID, err)
	}

	cred, err = v.decryptRecord(rec)
	if err != nil {
		v.logger.WarnContext(ctx, "credential decryption failed",
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()),
		)
		return domain.Credential{}, domain.ErrCredentialAbsent
	}

	v.mu.Lock()
	v.cache[tenantID] = cred
	v.mu.Unlock()

	return cred, nil
}

// Revoke erases the persisted record, evicts the cache entry, and stops the
// tenant's account stream. Safe to call for tenants that were never onboarded.
func (v *Vault) Revoke(ctx context.Context, tenantID string) error {
	if err := v.store.Delete(ctx, tenantID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("vault: delete credential for %s: %w", tenantID, err)
	}

	v.mu.Lock()
	delete(v.cache, tenantID)
	v.mu.Unlock()

	if v.sessions != nil {
		v.sessions.StopSession(tenantID)
	}

	v.logger.InfoContext(ctx, "credential revoked", slog.String("tenant", tenantID))
	return nil
}

// Tenants returns the currently onboarded tenant IDs, sorted for stable
// iteration order in the scheduler.
func (v *Vault) Tenants() []string {
	v.mu.RLock()
	out := make([]string, 0, len(v.cache))
	for id := range v.cache {
		out = append(out, id)
	}
	v.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Preload decrypts every stored credential record into the cache. Records
// that fail to decrypt are skipped with a warning so one corrupt tenant does
// not block startup.
func (v *Vault) Preload(ctx context.Context) error {
	tenants, err := v.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("vault: list tenants: %w", err)
	}

	loaded := 0
	for _, id := range tenants {
		if _, err := v.Load(ctx, id); err != nil {
			continue // Load already logged the reason.
		}
		loaded++
	}

	v.logger.InfoContext(ctx, "credentials preloaded",
		slog.Int("stored", len(tenants)),
		slog.Int("loaded", loaded),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Encryption helpers
// ---------------------------------------------------------------------------

// fieldNonce derives a distinct GCM nonce for each field from the record IV,
// so the three secrets never share a nonce under the same key while the
// persisted record still carries a single IV.
func fieldNonce(iv []byte, field string) []byte {
	h := sha256.New()
	h.Write(iv)
	h.Write([]byte(field))
	return h.Sum(nil)[:nonceLen]
}

func (v *Vault) sealField(iv []byte, field, plaintext string) string {
	ct := v.aead.Seal(nil, fieldNonce(iv, field), []byte(plaintext), []byte(field))
	return base64.StdEncoding.EncodeToString(ct)
}

func (v *Vault) openField(iv []byte, field, encoded string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", field, err)
	}
	pt, err := v.aead.Open(nil, fieldNonce(iv, field), ct, []byte(field))
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", field, err)
	}
	return string(pt), nil
}

func (v *Vault) decryptRecord(rec domain.EncryptedCredential) (domain.Credential, error) {
	if rec.APIKey == "" || rec.APISecret == "" || rec.Passphrase == "" || rec.IV == "" {
		return domain.Credential{}, errors.New("incomplete credential record")
	}

	iv, err := hex.DecodeString(rec.IV)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("decoding iv: %w", err)
	}

	apiKey, err := v.openField(iv, "api_key", rec.APIKey)
	if err != nil {
		return domain.Credential{}, err
	}
	apiSecret, err := v.openField(iv, "api_secret", rec.APISecret)
	if err != nil {
		return domain.Credential{}, err
	}
	passphrase, err := v.openField(iv, "passphrase", rec.Passphrase)
	if err != nil {
		return domain.Credential{}, err
	}

	cred := domain.Credential{
		TenantID:   rec.TenantID,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
	}
	if !cred.Complete() {
		return domain.Credential{}, errors.New("decrypted credential is incomplete")
	}
	return cred, nil
}
