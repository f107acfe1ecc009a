// Package crypto implements the payload confidentiality layer: an AEAD
// envelope (golang.org/x/crypto/nacl/secretbox, the same primitive the
// reference stream implementation uses to seal its frames) and a passthrough
// identity envelope, plus PBKDF2-based key derivation for reproducible
// setup from a shared secret.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length, in bytes, of a raw symmetric key.
	KeySize = 32

	nonceSize = 24

	// pbkdf2Iterations and saltSize match the reference key-derivation
	// scheme (PBKDF2-HMAC-SHA256, 100000 iterations, 16-byte salt).
	pbkdf2Iterations = 100000
	saltSize         = 16
)

// ErrAuth is returned when decryption fails authentication. Per the error
// handling design, the caller must drop the frame without acknowledging it
// so the peer retransmits; ErrAuth never aborts a connection by itself.
var ErrAuth = errors.New("crypto: authentication failed")

// AuthError wraps ErrAuth with the context of which frame failed to
// authenticate, for logging.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("crypto: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// Envelope encrypts and decrypts DATA payloads. Each payload is sealed
// independently: ciphertext is never fragmented across frames, so decrypting
// one frame never depends on any other.
type Envelope interface {
	// Encrypt seals plaintext into a self-contained ciphertext.
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt opens a ciphertext produced by Encrypt. A failed
	// authentication check returns an *AuthError satisfying
	// errors.Is(err, ErrAuth).
	Decrypt(ciphertext []byte) ([]byte, error)
	// KeyMaterial returns the bytes to embed in a SYN payload to
	// negotiate this envelope with the peer (empty for passthrough).
	KeyMaterial() []byte
}

// Passthrough is the identity Envelope used when no key was negotiated.
type Passthrough struct{}

func (Passthrough) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (Passthrough) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }
func (Passthrough) KeyMaterial() []byte                       { return nil }

// AEAD is a secretbox-backed authenticated-encryption Envelope under a
// single symmetric key.
type AEAD struct {
	key [KeySize]byte
}

// NewAEAD wraps a raw KeySize-byte key as an AEAD Envelope.
func NewAEAD(key [KeySize]byte) *AEAD {
	return &AEAD{key: key}
}

// GenerateKey samples a fresh, cryptographically random key.
func GenerateKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a KeySize-byte key from a shared secret using
// PBKDF2-HMAC-SHA256, sampling a fresh random salt if none is supplied. It
// returns the salt used so the peer (or the operator, out of band) can
// reproduce the derivation.
func DeriveKey(sharedSecret []byte, salt []byte) (key [KeySize]byte, usedSalt []byte, err error) {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err = rand.Read(salt); err != nil {
			return key, nil, fmt.Errorf("crypto: sample salt: %w", err)
		}
	}
	derived := pbkdf2.Key(sharedSecret, salt, pbkdf2Iterations, KeySize, sha256.New)
	copy(key[:], derived)
	return key, salt, nil
}

// EncodeKey renders a raw key as the URL-safe base64 string used on the
// command line and in logs.
func EncodeKey(key [KeySize]byte) string {
	return base64.URLEncoding.EncodeToString(key[:])
}

// DecodeKey parses a URL-safe base64 key string produced by EncodeKey.
func DecodeKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("crypto: decode key: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("crypto: decoded key is %d bytes, want %d", len(raw), KeySize)
	}
	copy(key[:], raw)
	return key, nil
}

// KeyMaterial returns the raw key bytes, embedded verbatim in the SYN
// payload per the handshake's key-establishment rule. This is a known weak
// point: see the design notes on key-in-SYN handshakes.
func (a *AEAD) KeyMaterial() []byte {
	out := make([]byte, KeySize)
	copy(out, a.key[:])
	return out
}

// Encrypt seals plaintext under a. The nonce is sampled fresh per call and
// prepended to the returned ciphertext.
func (a *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: sample nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &a.key)
	return sealed, nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (a *AEAD) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, &AuthError{Err: fmt.Errorf("%w: ciphertext shorter than nonce", ErrAuth)}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &a.key)
	if !ok {
		return nil, &AuthError{Err: ErrAuth}
	}
	return plaintext, nil
}

// EnvelopeForSYNPayload implements the handshake's key-establishment rule
// from the crypto envelope design: a zero-length payload selects
// Passthrough, a payload of exactly KeySize bytes selects AEAD under that
// key, and any other length is treated as passthrough (the caller should log
// a warning in that case).
func EnvelopeForSYNPayload(payload []byte) (env Envelope, recognized bool) {
	switch len(payload) {
	case 0:
		return Passthrough{}, true
	case KeySize:
		var key [KeySize]byte
		copy(key[:], payload)
		return NewAEAD(key), true
	default:
		return Passthrough{}, false
	}
}

// constantTimeEqual compares two keys without leaking timing information;
// used only by tests that assert key material round-trips exactly.
func constantTimeEqual(a, b [KeySize]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
