/*
Package crypto provides symmetric and asymmetric primitives for the broker
and client core: AEAD sealing, hybrid Kyber/Dilithium asymmetric encrypt and
sign, and an Argon2id password KDF.

ALGORITHMS SUPPORTED:
  - AES-256-GCM: NIST-approved authenticated encryption
  - XChaCha20-Poly1305: Extended-nonce ChaCha20 with Poly1305 MAC

SECURITY PROPERTIES:
Both algorithms provide AEAD (Authenticated Encryption with Associated Data):
  - Confidentiality: 256-bit key provides strong encryption
  - Integrity: Authentication tag detects any tampering
  - Authenticity: Decryption fails if ciphertext modified

NONCE HANDLING:
  - AES-GCM: 12-byte (96-bit) nonce, randomly generated, prepended to the
    returned blob so a seal/open pair needs only the key
  - XChaCha20-Poly1305: 24-byte nonce, randomly generated, prepended the
    same way

KEY DERIVATION:
HKDF-SHA256 derives subkeys from shared secrets (used by the asymmetric
hybrid seal in pqc.go). Argon2id derives keys from passwords: both the
client keychain's at-rest key and the server's stored password hash come
from DeriveKeyFromPassword, a memory-hard substitute for a bare salted hash.

NOTE: AES-256-GCM carries session-keyed protocol payloads (login/register,
channel fetch, user search, ...). XChaCha20-Poly1305 carries chat message
ciphertext under a peer key; that encryption happens client-side, the
broker only ever forwards the resulting blob.
*/
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SymmetricKeySize is the size of symmetric keys (256 bits)
const SymmetricKeySize = 32

// AESGCMNonceSize is the nonce size for AES-GCM
const AESGCMNonceSize = 12

// XChaCha20NonceSize is the nonce size for XChaCha20-Poly1305
const XChaCha20NonceSize = 24

// HashSize is the digest size returned by Hash.
const HashSize = sha256.Size

// GenerateSymmetricKey generates a random 256-bit symmetric key
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// GenerateNonce generates a random nonce of the specified size
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate random nonce: %w", err)
	}
	return nonce, nil
}

// RandomBytes returns n cryptographically random bytes. Used for password
// salts (keychain at-rest salt, server-stored password salt), kept distinct
// from GenerateNonce even though the implementation is identical: a salt
// and a nonce have different reuse rules and callers should name the one
// they mean.
func RandomBytes(n int) ([]byte, error) {
	return GenerateNonce(n)
}

// Hash returns the SHA-256 digest of data. Message signatures are computed
// over this digest rather than the raw plaintext.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SealSession encrypts plaintext under a session key with AES-256-GCM and
// returns nonce||ciphertext. This is the envelope's AEAD(session, ...)
// construction for protocol payloads.
func SealSession(key, plaintext []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("invalid key size: expected %d, got %d", SymmetricKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce, err := GenerateNonce(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// OpenSession reverses SealSession.
func OpenSession(key, blob []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("invalid key size: expected %d, got %d", SymmetricKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// SealMessage encrypts chat plaintext under a peer key with
// XChaCha20-Poly1305 and returns nonce||ciphertext. The caller enforces
// the envelope's 500-byte ciphertext cap.
func SealMessage(key, plaintext []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("invalid key size: expected %d, got %d", SymmetricKeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
	}
	nonce, err := GenerateNonce(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// OpenMessage reverses SealMessage.
func OpenMessage(key, blob []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("invalid key size: expected %d, got %d", SymmetricKeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// DeriveKey derives a key from a master key using HKDF-SHA256.
// This is useful for deriving message keys from shared secrets.
func DeriveKey(masterKey, salt, info []byte, keyLen int) ([]byte, error) {
	if keyLen > 255*32 {
		return nil, fmt.Errorf("requested key length too large")
	}

	hkdf := hkdf.New(sha256.New, masterKey, salt, info)
	derivedKey := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf, derivedKey); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return derivedKey, nil
}

// Argon2id parameters for the password KDF. Time/memory chosen to keep
// interactive login and keychain unlock under roughly 100ms on typical
// hardware while remaining memory-hard against offline dictionary attacks.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// DeriveKeyFromPassword derives a 256-bit key from (password, salt) using
// Argon2id. Used both by the client keychain's at-rest encryption key and
// by the server's stored password hash; the wire protocol never carries
// either value, so the choice of KDF is invisible on the wire.
func DeriveKeyFromPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, SymmetricKeySize)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information, used to compare password hashes.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
