package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KDFParams are the Argon2id parameters used to seal a key.
type KDFParams struct {
	Time      uint32 `json:"time" yaml:"time"`
	MemoryKiB uint32 `json:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `json:"threads" yaml:"threads"`
}

// DefaultKDFParams are the parameters used for newly generated keys.
var DefaultKDFParams = KDFParams{
	Time:      3,
	MemoryKiB: 64 * 1024,
	Threads:   4,
}

// Validate rejects parameter sets Argon2id cannot run with.
func (p KDFParams) Validate() error {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return errors.New("argon2 time, memory and threads must be non-zero")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2 memory %d KiB too small for %d threads", p.MemoryKiB, p.Threads)
	}
	return nil
}

const (
	lockedVersion = 1
	keyLen        = 32
	saltSize      = 32
	nonceSize     = 12
)

// LockedKey is the sealed private half of a Key.
type LockedKey struct {
	Version    int       `json:"version"`
	KDF        KDFParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// privatePayload is the plaintext that gets sealed.
type privatePayload struct {
	SigningPrivate    []byte `json:"signing_private"`
	EncryptionPrivate []byte `json:"encryption_private"`
}

func deriveKey(passphrase string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKiB, p.Threads, keyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func seal(passphrase string, params KDFParams, payload *privatePayload) (*LockedKey, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, salt, params))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &LockedKey{
		Version:    lockedVersion,
		KDF:        params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func open(passphrase string, locked *LockedKey) (*privatePayload, error) {
	if locked.Version != lockedVersion {
		return nil, fmt.Errorf("%w: unsupported sealed key version %d", ErrInvalidKey, locked.Version)
	}
	if err := locked.KDF.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(locked.Salt) != saltSize || len(locked.Nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad salt or nonce length", ErrInvalidKey)
	}

	gcm, err := newGCM(deriveKey(passphrase, locked.Salt, locked.KDF))
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, locked.Nonce, locked.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	var payload privatePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &payload, nil
}
