// Package crypto implements the payload encryption scheme shared with the
// CRM: PBKDF2-derived AES-256-GCM with an application-level SHA-256
// checksum over the plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryption is returned when an envelope cannot be decrypted: bad
// encoding, truncated data, or a failed authentication tag (tampering or
// wrong key).
var ErrDecryption = errors.New("decryption failed")

const (
	// keySalt is a compatibility constant, not a security boundary. Both
	// the CRM and this service must derive the same key from the shared
	// secret without exchanging a key file, so the salt is fixed. The
	// scheme's security rests on the confidentiality of the secret itself;
	// rotation happens via versioned secrets (encryption_version).
	keySalt = "jamf_bootstrap_salt"

	keyIterations = 100_000
	keyLength     = 32

	nonceSize = 12
)

// Encoding is the transport encoding for envelopes. URL-safe base64 keeps
// ciphertext intact through form posts, query strings and text columns.
var Encoding = base64.URLEncoding

// DeriveKey derives a 256-bit AES key from the shared secret using
// PBKDF2-HMAC-SHA256. The same secret always yields the same key.
func DeriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)
}

// Engine encrypts and decrypts request payloads. The derived key is
// immutable after construction, so an Engine is safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine derives a key from the shared secret and prepares the AEAD.
func NewEngine(secret string) (*Engine, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}

	block, err := aes.NewCipher(DeriveKey(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Engine{aead: aead}, nil
}

// Encrypt seals plaintext into a transport-safe envelope:
// base64url(nonce || ciphertext || tag).
func (e *Engine) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return Encoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. Any malformed encoding,
// truncated data or authentication failure is reported as ErrDecryption;
// a single flipped bit in the envelope fails the GCM tag check.
func (e *Engine) Decrypt(envelope string) ([]byte, error) {
	raw, err := Encoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid envelope encoding", ErrDecryption)
	}
	if len(raw) <= nonceSize {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecryption)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	return plaintext, nil
}

// Checksum returns the SHA-256 hex digest of data. The checksum is an
// application-level integrity check layered above transport encryption:
// it is computed over the plaintext at submission time and compared after
// decryption, catching corruption introduced anywhere in between.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data hashes to the expected digest.
// Comparison is exact string equality on the hex form.
func VerifyChecksum(data []byte, expected string) bool {
	return Checksum(data) == expected
}

// DecryptAndVerify decrypts an envelope and verifies the plaintext against
// the expected checksum. A decryption failure is returned as an error; a
// checksum mismatch is not an error but an integrity verdict, reported as
// ok=false with nil plaintext. An empty expected checksum skips
// verification, since the checksum is optional at submission.
func (e *Engine) DecryptAndVerify(envelope, expectedChecksum string) (plaintext []byte, ok bool, err error) {
	plaintext, err = e.Decrypt(envelope)
	if err != nil {
		return nil, false, err
	}

	if expectedChecksum != "" && !VerifyChecksum(plaintext, expectedChecksum) {
		return nil, false, nil
	}

	return plaintext, true, nil
}

// ValidateEnvelope performs the cheap structural check used at ingestion
// time: the value must be valid base64 and long enough to hold a nonce and
// at least one ciphertext byte. No decryption is attempted; the ingestion
// path does not necessarily hold the key.
func ValidateEnvelope(envelope string) bool {
	raw, err := Encoding.DecodeString(envelope)
	if err != nil {
		return false
	}
	return len(raw) > nonceSize
}
