// Package crypto implements the encrypted-credential envelope used to
// store integration and web credentials at rest.
//
// The envelope format is stable across key rotations so legacy
// plaintext rows and newly-encrypted rows can coexist and be migrated
// lazily on read:
//
//	encwc.v1:<iv_b64url>:<tag_b64url>:<ciphertext_b64url>
//
// AES-256-GCM with a 12-byte IV and 16-byte tag; the key is derived from
// a process secret via scrypt, following the AES-GCM envelope pattern
// commonly used for protocol credentials
// (vanducng-goclaw's zalo/personal/protocol package), generalized from
// a fixed-nonce protocol quirk into a proper random-nonce envelope.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	envelopePrefix = "encwc.v1"
	nonceSize      = 12
	tagSize        = 16
	keySize        = 32 // AES-256

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrInvalidEnvelope indicates a string carries the envelope prefix but
// is otherwise malformed.
var ErrInvalidEnvelope = errors.New("crypto: invalid credential envelope")

// KeyFromSecret derives a 32-byte AES-256 key from a process secret and
// a per-deployment salt via scrypt.
func KeyFromSecret(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("crypto: secret is required")
	}
	return scrypt.Key(secret, salt, scryptN, scryptR, scryptP, keySize)
}

// Codec encrypts and decrypts credential envelopes with a fixed key.
type Codec struct {
	key []byte
}

// NewCodec constructs a Codec from a derived 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", keySize, len(key))
	}
	return &Codec{key: key}, nil
}

// Encrypt returns the envelope-encoded ciphertext for plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		envelopePrefix,
		base64.RawURLEncoding.EncodeToString(nonce),
		base64.RawURLEncoding.EncodeToString(tag),
		base64.RawURLEncoding.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt. If s does not carry the envelope prefix, it
// is returned unchanged, which lets
// legacy plaintext rows be migrated lazily on read.
func (c *Codec) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, envelopePrefix+":") {
		return s, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return "", ErrInvalidEnvelope
	}

	nonce, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrInvalidEnvelope, err)
	}
	tag, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: tag: %v", ErrInvalidEnvelope, err)
	}
	ct, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrInvalidEnvelope, err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	sealed := append(ct, tag...)
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}
	return string(plain), nil
}

// IsEnvelope reports whether s is encwc.v1-encoded.
func IsEnvelope(s string) bool {
	return strings.HasPrefix(s, envelopePrefix+":")
}
