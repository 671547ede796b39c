// Package cardcrypto is the signing and encryption boundary used by the
// contact codec. The codec only talks to a Provider; the default provider
// signs with Ed25519 and encrypts with X25519 ECIES using internal/keys.
package cardcrypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
)

var log = logging.Logger("contacts-crypto")

// Errors
var (
	ErrNilKey          = errors.New("no key supplied")
	ErrInvalidEncoding = errors.New("invalid base64 payload")
)

// Provider signs, verifies, encrypts and decrypts card bodies. Signatures
// and ciphertexts are opaque text. Verify reports a mismatch as false and
// never fails.
type Provider interface {
	Sign(plaintext string, key *keys.Key, passphrase string) (string, error)
	Verify(signature, plaintext string, key *keys.Key) bool
	Encrypt(plaintext string, key *keys.Key) (string, error)
	Decrypt(ciphertext string, key *keys.Key, passphrase string) (string, error)
	KeyUnlocks(key *keys.Key, passphrase string) bool
}

// DefaultUnlockCacheSize bounds the number of unlocked keys kept in memory.
const DefaultUnlockCacheSize = 16

// KeyProvider is the default Provider. Unlocking runs Argon2id, so
// successfully unlocked keys are cached by key id and passphrase digest.
type KeyProvider struct {
	unlocked *lru.Cache[string, *keys.Unlocked]
}

var _ Provider = (*KeyProvider)(nil)

// New creates a KeyProvider caching up to cacheSize unlocked keys. A
// cacheSize of zero or less disables the cache.
func New(cacheSize int) (*KeyProvider, error) {
	p := &KeyProvider{}
	if cacheSize > 0 {
		cache, err := lru.New[string, *keys.Unlocked](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create unlock cache: %w", err)
		}
		p.unlocked = cache
	}
	return p, nil
}

func cacheKey(key *keys.Key, passphrase string) string {
	digest := sha256.Sum256([]byte(passphrase))
	return key.ID.String() + "/" + hex.EncodeToString(digest[:])
}

func (p *KeyProvider) unlock(key *keys.Key, passphrase string) (*keys.Unlocked, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	if p.unlocked == nil {
		return key.Unlock(passphrase)
	}

	ck := cacheKey(key, passphrase)
	if u, ok := p.unlocked.Get(ck); ok && u.Key == key {
		return u, nil
	}

	u, err := key.Unlock(passphrase)
	if err != nil {
		return nil, err
	}
	p.unlocked.Add(ck, u)
	return u, nil
}

// Purge drops every cached unlocked key.
func (p *KeyProvider) Purge() {
	if p.unlocked != nil {
		p.unlocked.Purge()
	}
}

// Sign produces a detached signature over plaintext.
func (p *KeyProvider) Sign(plaintext string, key *keys.Key, passphrase string) (string, error) {
	u, err := p.unlock(key, passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to unlock signing key: %w", err)
	}
	sig, err := u.Sign([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a detached signature against plaintext.
func (p *KeyProvider) Verify(signature, plaintext string, key *keys.Key) bool {
	if key == nil || signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		log.Debugf("Signature is not valid base64: %v", err)
		return false
	}
	return key.Verify([]byte(plaintext), sig)
}

// Encrypt seals plaintext to key's public encryption key.
func (p *KeyProvider) Encrypt(plaintext string, key *keys.Key) (string, error) {
	if key == nil {
		return "", ErrNilKey
	}
	envelope, err := key.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens ciphertext with key's private half.
func (p *KeyProvider) Decrypt(ciphertext string, key *keys.Key, passphrase string) (string, error) {
	envelope, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	u, err := p.unlock(key, passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to unlock decryption key: %w", err)
	}
	plaintext, err := u.Decrypt(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// KeyUnlocks reports whether key's private half opens with passphrase.
func (p *KeyProvider) KeyUnlocks(key *keys.Key, passphrase string) bool {
	_, err := p.unlock(key, passphrase)
	return err == nil
}
