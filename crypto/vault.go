// Package crypto implements the vault facade for the server-side
// AI-inference cache. Every entry in the AI message cache is wrapped with
// a per-user key derived from a single master key. Client content keys
// never pass through here; the core only re-encrypts data the user has
// explicitly released for AI processing.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// envelopeVersion prefixes every wrapped blob so key rotation can be
// introduced without re-encrypting existing cache entries.
const envelopeVersion = "v1"

// ErrMalformedEnvelope is returned when a blob does not carry the
// expected version prefix or is too short to contain a nonce.
var ErrMalformedEnvelope = errors.New("vault: malformed envelope")

// Vault derives per-user AI-inference keys and wraps/unwraps cache
// payloads with AES-256-GCM.
type Vault struct {
	master []byte
}

// NewVault creates a vault from a hex-encoded 32-byte master key.
func NewVault(masterKeyHex string) (*Vault, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode vault master key")
	}
	if len(key) != 32 {
		return nil, errors.Errorf("vault master key must be 32 bytes, got %d", len(key))
	}
	return &Vault{master: key}, nil
}

// deriveKey derives the AI-inference key for a user via HKDF-SHA256.
// The user id hash is the salt so two users never share a key.
func (v *Vault) deriveKey(userIDHash string) ([]byte, error) {
	r := hkdf.New(sha256.New, v.master, []byte(userIDHash), []byte("openmates/ai-inference/"+envelopeVersion))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "derive vault key")
	}
	return key, nil
}

// Wrap encrypts plaintext under the user's derived key and returns a
// printable envelope: "v1:" + base64(nonce || ciphertext).
func (v *Vault) Wrap(userIDHash string, plaintext []byte) (string, error) {
	key, err := v.deriveKey(userIDHash)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "init gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(userIDHash))
	return envelopeVersion + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unwrap decrypts an envelope produced by Wrap.
func (v *Vault) Unwrap(userIDHash, envelope string) ([]byte, error) {
	raw, ok := strings.CutPrefix(envelope, envelopeVersion+":")
	if !ok {
		return nil, ErrMalformedEnvelope
	}
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	key, err := v.deriveKey(userIDHash)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrMalformedEnvelope
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(userIDHash))
	if err != nil {
		return nil, errors.Wrap(err, "unwrap envelope")
	}
	return plaintext, nil
}
