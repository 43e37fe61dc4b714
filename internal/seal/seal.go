// Package seal is the encryption facade used before chat content is
// persisted. Keys are derived from a user-supplied passphrase seed that never
// leaves the session; the record store only ever sees ciphertext when sealing
// is active.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// MaxPlaintext is the plaintext ceiling; larger payloads are rejected.
const MaxPlaintext = 4096

// Prefix marks a sealed value (format: ENC:base64(salt|nonce|ciphertext)).
const Prefix = "ENC:"

const (
	keySize    = 32
	saltSize   = 16
	iterations = 600000
)

// ErrPayloadTooLarge is returned when plaintext exceeds MaxPlaintext bytes.
var ErrPayloadTooLarge = errors.New("plaintext exceeds 4096 byte ceiling")

// Result is the outcome of a decrypt attempt. When DecryptComplete is false
// Content holds the original ciphertext so the caller can show it as-is and
// still distinguish "shown raw" from "genuinely decrypted".
type Result struct {
	Content         string
	DecryptComplete bool
}

// Sealer encrypts and decrypts content with a passphrase-seeded key.
type Sealer interface {
	Encrypt(plaintext, seed string) (string, error)
	Decrypt(ciphertext, seed string) Result
}

// AESSealer implements Sealer with AES-256-GCM and a PBKDF2-SHA-256 derived key.
type AESSealer struct{}

// New creates an AESSealer.
func New() *AESSealer {
	return &AESSealer{}
}

func deriveKey(seed string, salt []byte) []byte {
	return pbkdf2.Key([]byte(seed), salt, iterations, keySize, sha256.New)
}

// Encrypt seals plaintext under a key derived from the seed.
func (s *AESSealer) Encrypt(plaintext, seed string) (string, error) {
	if len(plaintext) > MaxPlaintext {
		return "", fmt.Errorf("%w (got %d bytes)", ErrPayloadTooLarge, len(plaintext))
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("error generating salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(seed, salt))
	if err != nil {
		return "", fmt.Errorf("error creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("error creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("error generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	payload := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)

	return Prefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a sealed value. It never returns an error: any failure
// (wrong seed, malformed ciphertext, tampered data) yields the input string
// with DecryptComplete false.
func (s *AESSealer) Decrypt(ciphertext, seed string) Result {
	failed := Result{Content: ciphertext}

	if !strings.HasPrefix(ciphertext, Prefix) {
		return failed
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, Prefix))
	if err != nil {
		return failed
	}

	block, err := aes.NewCipher(deriveKey(seed, payloadSalt(payload)))
	if err != nil {
		return failed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return failed
	}

	if len(payload) < saltSize+gcm.NonceSize() {
		return failed
	}
	nonce := payload[saltSize : saltSize+gcm.NonceSize()]
	sealed := payload[saltSize+gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return failed
	}
	return Result{Content: string(plaintext), DecryptComplete: true}
}

func payloadSalt(payload []byte) []byte {
	if len(payload) < saltSize {
		return make([]byte, saltSize)
	}
	return payload[:saltSize]
}
