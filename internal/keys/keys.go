// Package keys provides the key material used to sign, verify, encrypt and
// decrypt contact cards. A Key pairs an Ed25519 signing key with an X25519
// encryption key. Its private half is kept sealed under a passphrase and is
// only opened for the duration of a sign or decrypt call.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/spacedatanetwork/sdn-contacts/internal/ecies"
)

// Errors
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidKey       = errors.New("invalid key data")
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrNoPrivateKey     = errors.New("key has no private material")
	ErrWrongPassphrase  = errors.New("failed to unlock key - wrong passphrase?")
)

const (
	// X25519KeySize is the size of an X25519 public or private key.
	X25519KeySize = 32
)

// Key is a contact key. SigningPublic holds a libp2p-marshaled Ed25519
// public key and EncryptionPublic a raw X25519 public key. Locked is nil
// for keys imported from someone else.
type Key struct {
	ID               peer.ID    `json:"id"`
	SigningPublic    []byte     `json:"signing_public"`
	EncryptionPublic []byte     `json:"encryption_public"`
	Locked           *LockedKey `json:"locked,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Unlocked holds the private halves of a Key after a successful Unlock.
// It is never persisted.
type Unlocked struct {
	Key        *Key
	Signing    crypto.PrivKey
	Encryption []byte
}

// Generate creates a new key whose private half is sealed with passphrase.
func Generate(passphrase string, params KDFParams) (*Key, error) {
	signingPriv, signingPub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	encryption, err := ecies.GenerateKeyPair(ecies.CurveX25519)
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	pubBytes, err := crypto.MarshalPublicKey(signingPub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signing public key: %w", err)
	}

	id, err := peer.IDFromPublicKey(signingPub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key id: %w", err)
	}

	privBytes, err := crypto.MarshalPrivateKey(signingPriv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signing private key: %w", err)
	}

	locked, err := seal(passphrase, params, &privatePayload{
		SigningPrivate:    privBytes,
		EncryptionPrivate: encryption.PrivateKey,
	})
	if err != nil {
		return nil, err
	}

	return &Key{
		ID:               id,
		SigningPublic:    pubBytes,
		EncryptionPublic: encryption.PublicKey,
		Locked:           locked,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// HasPrivate reports whether the key carries sealed private material.
func (k *Key) HasPrivate() bool {
	return k != nil && k.Locked != nil
}

// Public returns a copy of the key without its private material.
func (k *Key) Public() *Key {
	return &Key{
		ID:               k.ID,
		SigningPublic:    append([]byte(nil), k.SigningPublic...),
		EncryptionPublic: append([]byte(nil), k.EncryptionPublic...),
		CreatedAt:        k.CreatedAt,
	}
}

// PublicKey unmarshals the signing public key.
func (k *Key) PublicKey() (crypto.PubKey, error) {
	pub, err := crypto.UnmarshalPublicKey(k.SigningPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// Validate checks that the public halves are well formed and that ID
// matches the signing key.
func (k *Key) Validate() error {
	pub, err := k.PublicKey()
	if err != nil {
		return err
	}
	if !k.ID.MatchesPublicKey(pub) {
		return fmt.Errorf("%w: id does not match signing key", ErrInvalidKey)
	}
	if len(k.EncryptionPublic) != X25519KeySize {
		return fmt.Errorf("%w: encryption key is %d bytes", ErrInvalidKey, len(k.EncryptionPublic))
	}
	return nil
}

// Verify checks an Ed25519 signature made by this key. Any malformed input
// yields false.
func (k *Key) Verify(data, signature []byte) bool {
	pub, err := k.PublicKey()
	if err != nil {
		return false
	}
	ok, err := pub.Verify(data, signature)
	return err == nil && ok
}

// Fingerprint returns a short hex fingerprint of the signing public key.
func (k *Key) Fingerprint() string {
	hash := sha256.Sum256(k.SigningPublic)
	return hex.EncodeToString(hash[:8])
}

// Unlock opens the sealed private half with passphrase.
func (k *Key) Unlock(passphrase string) (*Unlocked, error) {
	if !k.HasPrivate() {
		return nil, ErrNoPrivateKey
	}

	payload, err := open(passphrase, k.Locked)
	if err != nil {
		return nil, err
	}

	signing, err := crypto.UnmarshalPrivateKey(payload.SigningPrivate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(payload.EncryptionPrivate) != X25519KeySize {
		return nil, fmt.Errorf("%w: encryption private key is %d bytes", ErrInvalidKey, len(payload.EncryptionPrivate))
	}

	return &Unlocked{
		Key:        k,
		Signing:    signing,
		Encryption: payload.EncryptionPrivate,
	}, nil
}

// Reseal returns a copy of the key sealed under a new passphrase.
func (k *Key) Reseal(oldPassphrase, newPassphrase string, params KDFParams) (*Key, error) {
	if !k.HasPrivate() {
		return nil, ErrNoPrivateKey
	}
	payload, err := open(oldPassphrase, k.Locked)
	if err != nil {
		return nil, err
	}
	locked, err := seal(newPassphrase, params, payload)
	if err != nil {
		return nil, err
	}
	out := k.Public()
	out.Locked = locked
	return out, nil
}

// Sign signs data with the unlocked Ed25519 key.
func (u *Unlocked) Sign(data []byte) ([]byte, error) {
	return u.Signing.Sign(data)
}

// Decrypt opens a serialized ECIES envelope addressed to this key.
func (u *Unlocked) Decrypt(envelope []byte) ([]byte, error) {
	msg, err := ecies.DeserializeEncryptedMessage(envelope)
	if err != nil {
		return nil, err
	}
	return ecies.Decrypt(u.Encryption, msg)
}

// Encrypt seals plaintext to the key's X25519 public key and returns the
// serialized envelope.
func (k *Key) Encrypt(plaintext []byte) ([]byte, error) {
	msg, err := ecies.Encrypt(k.EncryptionPublic, plaintext, ecies.CurveX25519)
	if err != nil {
		return nil, err
	}
	return msg.Serialize(), nil
}
