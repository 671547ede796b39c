// Package ecies provides the ECIES (Elliptic Curve Integrated Encryption Scheme)
// envelope used to encrypt contact detail cards to a recipient's X25519 key.
//
// The curve id is kept in the serialized envelope so other curves can be
// added without changing the framing.
package ecies

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// CurveType represents the elliptic curve type for ECIES
type CurveType int

// CurveX25519 is the Curve25519 curve. It is the only curve contact keys use.
const CurveX25519 CurveType = 0

// Errors
var (
	ErrUnsupportedCurve = errors.New("unsupported curve type")
	ErrMACMismatch      = errors.New("MAC verification failed")
	ErrTruncated        = errors.New("encrypted message truncated")
)

const hkdfInfo = "ECIES-AES256-GCM-HMAC-SHA256"

// EncryptedMessage represents an ECIES encrypted message
type EncryptedMessage struct {
	// EphemeralPublicKey is the ephemeral public key used for key exchange
	EphemeralPublicKey []byte
	// Ciphertext is the AES-GCM encrypted data
	Ciphertext []byte
	// Nonce is the AES-GCM nonce (12 bytes)
	Nonce []byte
	// MAC is the HMAC-SHA256 of the ciphertext
	MAC []byte
	// CurveType indicates which curve was used
	CurveType CurveType
}

// KeyPair represents an ECIES key pair
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
	CurveType  CurveType
}

func curveFor(curveType CurveType) (ecdh.Curve, error) {
	switch curveType {
	case CurveX25519:
		return ecdh.X25519(), nil
	default:
		return nil, ErrUnsupportedCurve
	}
}

// GenerateKeyPair generates a new ECIES key pair for the specified curve
func GenerateKeyPair(curveType CurveType) (*KeyPair, error) {
	curve, err := curveFor(curveType)
	if err != nil {
		return nil, err
	}

	privateKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	return &KeyPair{
		PrivateKey: privateKey.Bytes(),
		PublicKey:  privateKey.PublicKey().Bytes(),
		CurveType:  curveType,
	}, nil
}

// Encrypt encrypts plaintext using ECIES with the recipient's public key
func Encrypt(recipientPublicKey []byte, plaintext []byte, curveType CurveType) (*EncryptedMessage, error) {
	curve, err := curveFor(curveType)
	if err != nil {
		return nil, err
	}

	// Generate ephemeral key pair
	ephemeralPrivate, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	recipientPubKey, err := curve.NewPublicKey(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient public key: %w", err)
	}

	sharedSecret, err := ephemeralPrivate.ECDH(recipientPubKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}

	ephemeralPublic := ephemeralPrivate.PublicKey().Bytes()
	encKey, macKey, err := deriveKeys(sharedSecret, ephemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	ciphertext, nonce, err := encryptAESGCM(encKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("AES-GCM encryption failed: %w", err)
	}

	return &EncryptedMessage{
		EphemeralPublicKey: ephemeralPublic,
		Ciphertext:         ciphertext,
		Nonce:              nonce,
		MAC:                computeHMAC(macKey, ciphertext),
		CurveType:          curveType,
	}, nil
}

// Decrypt decrypts an ECIES encrypted message using the recipient's private key
func Decrypt(privateKeyBytes []byte, msg *EncryptedMessage) ([]byte, error) {
	curve, err := curveFor(msg.CurveType)
	if err != nil {
		return nil, err
	}

	privateKey, err := curve.NewPrivateKey(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	ephemeralPubKey, err := curve.NewPublicKey(msg.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ephemeral public key: %w", err)
	}

	sharedSecret, err := privateKey.ECDH(ephemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}

	encKey, macKey, err := deriveKeys(sharedSecret, msg.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	expectedMAC := computeHMAC(macKey, msg.Ciphertext)
	if !hmac.Equal(msg.MAC, expectedMAC) {
		return nil, ErrMACMismatch
	}

	return decryptAESGCM(encKey, msg.Ciphertext, msg.Nonce)
}

// deriveKeys derives encryption and MAC keys from shared secret using HKDF.
// The ephemeral public key is bound into the info string.
func deriveKeys(sharedSecret, ephemeralPublicKey []byte) (encKey, macKey []byte, err error) {
	info := append([]byte(hkdfInfo), ephemeralPublicKey...)
	hkdfReader := hkdf.New(sha512.New, sharedSecret, nil, info)

	keys := make([]byte, 64)
	if _, err := io.ReadFull(hkdfReader, keys); err != nil {
		return nil, nil, fmt.Errorf("HKDF failed: %w", err)
	}

	return keys[:32], keys[32:], nil
}

// encryptAESGCM encrypts data using AES-256-GCM
func encryptAESGCM(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// decryptAESGCM decrypts data using AES-256-GCM
func decryptAESGCM(key, ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// computeHMAC computes HMAC-SHA256 of data
func computeHMAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Serialize serializes an EncryptedMessage to bytes
func (m *EncryptedMessage) Serialize() []byte {
	// Format: [curve_type(1)] [epk_len(2)] [epk] [nonce_len(1)] [nonce] [mac_len(1)] [mac] [ciphertext]
	epkLen := len(m.EphemeralPublicKey)
	nonceLen := len(m.Nonce)
	macLen := len(m.MAC)

	result := make([]byte, 1+2+epkLen+1+nonceLen+1+macLen+len(m.Ciphertext))
	offset := 0

	result[offset] = byte(m.CurveType)
	offset++

	binary.BigEndian.PutUint16(result[offset:], uint16(epkLen))
	offset += 2
	offset += copy(result[offset:], m.EphemeralPublicKey)

	result[offset] = byte(nonceLen)
	offset++
	offset += copy(result[offset:], m.Nonce)

	result[offset] = byte(macLen)
	offset++
	offset += copy(result[offset:], m.MAC)

	// Ciphertext (remaining bytes)
	copy(result[offset:], m.Ciphertext)

	return result
}

// DeserializeEncryptedMessage deserializes bytes to an EncryptedMessage
func DeserializeEncryptedMessage(data []byte) (*EncryptedMessage, error) {
	if len(data) < 6 {
		return nil, ErrTruncated
	}

	offset := 0
	curveType := CurveType(data[offset])
	offset++

	epkLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	epk, offset, err := readChunk(data, offset, epkLen)
	if err != nil {
		return nil, fmt.Errorf("ephemeral public key: %w", err)
	}

	if offset >= len(data) {
		return nil, fmt.Errorf("nonce length: %w", ErrTruncated)
	}
	nonceLen := int(data[offset])
	nonce, offset, err := readChunk(data, offset+1, nonceLen)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	if offset >= len(data) {
		return nil, fmt.Errorf("MAC length: %w", ErrTruncated)
	}
	macLen := int(data[offset])
	mac, offset, err := readChunk(data, offset+1, macLen)
	if err != nil {
		return nil, fmt.Errorf("MAC: %w", err)
	}

	ciphertext := make([]byte, len(data)-offset)
	copy(ciphertext, data[offset:])

	return &EncryptedMessage{
		EphemeralPublicKey: epk,
		Ciphertext:         ciphertext,
		Nonce:              nonce,
		MAC:                mac,
		CurveType:          curveType,
	}, nil
}

func readChunk(data []byte, offset, n int) ([]byte, int, error) {
	if offset+n > len(data) {
		return nil, offset, ErrTruncated
	}
	chunk := make([]byte, n)
	copy(chunk, data[offset:offset+n])
	return chunk, offset + n, nil
}
