/*
Package crypto provides Post-Quantum Cryptography (PQC) primitives.

ALGORITHMS IMPLEMENTED:
  - CRYSTALS-Kyber-1024: ML-KEM key encapsulation (NIST standardized)
  - CRYSTALS-Dilithium3: ML-DSA digital signatures (NIST standardized)

LIBRARY: cloudflare/circl
All PQC operations use Cloudflare's CIRCL library which provides
well-audited implementations of NIST PQC standards.

KEY SIZES:
  - Kyber-1024 Public Key:  1568 bytes
  - Kyber-1024 Private Key: 3168 bytes
  - Kyber-1024 Ciphertext:  1568 bytes
  - Dilithium3 Public Key:  1952 bytes
  - Dilithium3 Private Key: 4016 bytes
  - Dilithium3 Signature:   3293 bytes

IDENTITY KEY PAIR:
An identity is a bundle of one Kyber1024 key pair (key agreement) and one
Dilithium3 key pair (signing), concatenated into single public/private
blobs at fixed offsets. Kyber is KEM-only, so public-key encryption is
built as encapsulate-then-seal: Encapsulate derives a one-time shared
secret, HKDF-SHA256 expands it into an AES-256-GCM key, and that key
seals the plaintext; the KEM ciphertext and the sealed blob travel
together.
*/
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// KeySize constants
const (
	Kyber1024PublicKeySize  = kyber1024.PublicKeySize  // 1568 bytes
	Kyber1024PrivateKeySize = kyber1024.PrivateKeySize // 3168 bytes
	Kyber1024CiphertextSize = kyber1024.CiphertextSize // 1568 bytes
	Kyber1024SharedKeySize  = kyber1024.SharedKeySize  // 32 bytes

	Dilithium3PublicKeySize  = mode3.PublicKeySize  // 1952 bytes
	Dilithium3PrivateKeySize = mode3.PrivateKeySize // 4016 bytes
	Dilithium3SignatureSize  = mode3.SignatureSize  // 3293 bytes

	// IdentityPublicKeySize is the size of a concatenated Kyber+Dilithium
	// public key blob, as carried on the wire.
	IdentityPublicKeySize = Kyber1024PublicKeySize + Dilithium3PublicKeySize
	// IdentityPrivateKeySize is the size of a concatenated Kyber+Dilithium
	// private key blob, as stored on disk.
	IdentityPrivateKeySize = Kyber1024PrivateKeySize + Dilithium3PrivateKeySize
)

// KeyPair is a hybrid KEM+signature identity: Kyber1024 for key agreement,
// Dilithium3 for signing. Public() and Private() return the wire/disk blob
// form (Kyber half || Dilithium half).
type KeyPair struct {
	KyberPublic      []byte
	KyberPrivate     []byte
	DilithiumPublic  []byte
	DilithiumPrivate []byte
}

// GenerateIdentity creates a fresh Kyber1024+Dilithium3 identity key pair.
func GenerateIdentity() (*KeyPair, error) {
	kyberPub, kyberPriv, err := kyber1024.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Kyber key pair: %w", err)
	}
	kyberPubBytes := make([]byte, Kyber1024PublicKeySize)
	kyberPrivBytes := make([]byte, Kyber1024PrivateKeySize)
	kyberPub.Pack(kyberPubBytes)
	kyberPriv.Pack(kyberPrivBytes)

	dilPub, dilPriv, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Dilithium key pair: %w", err)
	}

	return &KeyPair{
		KyberPublic:      kyberPubBytes,
		KyberPrivate:     kyberPrivBytes,
		DilithiumPublic:  dilPub.Bytes(),
		DilithiumPrivate: dilPriv.Bytes(),
	}, nil
}

// Public returns the wire form of the identity's public key.
func (kp *KeyPair) Public() []byte {
	out := make([]byte, 0, IdentityPublicKeySize)
	out = append(out, kp.KyberPublic...)
	out = append(out, kp.DilithiumPublic...)
	return out
}

// Private returns the on-disk form of the identity's private key.
func (kp *KeyPair) Private() []byte {
	out := make([]byte, 0, IdentityPrivateKeySize)
	out = append(out, kp.KyberPrivate...)
	out = append(out, kp.DilithiumPrivate...)
	return out
}

// SplitIdentityPublicKey splits a wire-form public key blob into its Kyber
// and Dilithium halves.
func SplitIdentityPublicKey(blob []byte) (kyberPub, dilithiumPub []byte, err error) {
	if len(blob) != IdentityPublicKeySize {
		return nil, nil, fmt.Errorf("invalid identity public key size: expected %d, got %d", IdentityPublicKeySize, len(blob))
	}
	return blob[:Kyber1024PublicKeySize], blob[Kyber1024PublicKeySize:], nil
}

// SplitIdentityPrivateKey splits an on-disk private key blob into its
// Kyber and Dilithium halves.
func SplitIdentityPrivateKey(blob []byte) (kyberPriv, dilithiumPriv []byte, err error) {
	if len(blob) != IdentityPrivateKeySize {
		return nil, nil, fmt.Errorf("invalid identity private key size: expected %d, got %d", IdentityPrivateKeySize, len(blob))
	}
	return blob[:Kyber1024PrivateKeySize], blob[Kyber1024PrivateKeySize:], nil
}

// EncapsulationResult contains the result of a Kyber encapsulation
type EncapsulationResult struct {
	Ciphertext []byte // Encapsulated key (send to recipient)
	SharedKey  []byte // 32-byte shared secret (keep secret)
}

// Encapsulate performs Kyber key encapsulation using a public key.
// Returns the KEM ciphertext (to send to recipient) and shared secret.
func Encapsulate(kyberPublicKey []byte) (*EncapsulationResult, error) {
	if len(kyberPublicKey) != Kyber1024PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", Kyber1024PublicKeySize, len(kyberPublicKey))
	}

	var publicKey kyber1024.PublicKey
	publicKey.Unpack(kyberPublicKey)

	ciphertext := make([]byte, Kyber1024CiphertextSize)
	sharedKey := make([]byte, Kyber1024SharedKeySize)

	publicKey.EncapsulateTo(ciphertext, sharedKey, nil)

	return &EncapsulationResult{
		Ciphertext: ciphertext,
		SharedKey:  sharedKey,
	}, nil
}

// Decapsulate performs Kyber decapsulation using a private key.
// Returns the shared secret derived from the ciphertext.
func Decapsulate(kyberPrivateKey, ciphertextBytes []byte) ([]byte, error) {
	if len(kyberPrivateKey) != Kyber1024PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", Kyber1024PrivateKeySize, len(kyberPrivateKey))
	}
	if len(ciphertextBytes) != Kyber1024CiphertextSize {
		return nil, fmt.Errorf("invalid ciphertext size: expected %d, got %d", Kyber1024CiphertextSize, len(ciphertextBytes))
	}

	var privateKey kyber1024.PrivateKey
	privateKey.Unpack(kyberPrivateKey)

	sharedKey := make([]byte, Kyber1024SharedKeySize)
	privateKey.DecapsulateTo(sharedKey, ciphertextBytes)

	return sharedKey, nil
}

// asymKDFInfo is the HKDF context label separating the KEM shared secret
// from the AES key it seals with, so the raw Kyber output is never used
// directly as a cipher key.
var asymKDFInfo = []byte("iplchat-asym-encrypt-v1")

// AsymEncrypt encrypts plaintext to an identity's wire-form public key.
// Kyber is KEM-only, so this encapsulates a one-time shared secret,
// expands it through HKDF-SHA256, and seals plaintext under the result
// with AES-256-GCM; the returned blob is kemCiphertext||nonce||sealed and
// can only be opened by AsymDecrypt with the matching private key.
func AsymEncrypt(identityPublicKey, plaintext []byte) ([]byte, error) {
	kyberPub, _, err := SplitIdentityPublicKey(identityPublicKey)
	if err != nil {
		return nil, err
	}
	encap, err := Encapsulate(kyberPub)
	if err != nil {
		return nil, fmt.Errorf("asym encrypt: %w", err)
	}
	sealKey, err := DeriveKey(encap.SharedKey, nil, asymKDFInfo, SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("asym encrypt: %w", err)
	}
	sealed, err := SealSession(sealKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("asym encrypt: %w", err)
	}
	return append(encap.Ciphertext, sealed...), nil
}

// AsymDecrypt reverses AsymEncrypt using an identity's on-disk private key.
func AsymDecrypt(identityPrivateKey, blob []byte) ([]byte, error) {
	kyberPriv, _, err := SplitIdentityPrivateKey(identityPrivateKey)
	if err != nil {
		return nil, err
	}
	if len(blob) < Kyber1024CiphertextSize {
		return nil, fmt.Errorf("asym decrypt: blob too short")
	}
	kemCiphertext, sealed := blob[:Kyber1024CiphertextSize], blob[Kyber1024CiphertextSize:]
	sharedKey, err := Decapsulate(kyberPriv, kemCiphertext)
	if err != nil {
		return nil, fmt.Errorf("asym decrypt: %w", err)
	}
	sealKey, err := DeriveKey(sharedKey, nil, asymKDFInfo, SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("asym decrypt: %w", err)
	}
	plaintext, err := OpenSession(sealKey, sealed)
	if err != nil {
		return nil, fmt.Errorf("asym decrypt: %w", err)
	}
	return plaintext, nil
}

// Sign creates a Dilithium3 signature over a digest using an identity's
// Dilithium private key half.
func Sign(dilithiumPrivateKey, digest []byte) ([]byte, error) {
	if len(dilithiumPrivateKey) != Dilithium3PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", Dilithium3PrivateKeySize, len(dilithiumPrivateKey))
	}

	var privateKey mode3.PrivateKey
	var privKeyArray [mode3.PrivateKeySize]byte
	copy(privKeyArray[:], dilithiumPrivateKey)
	privateKey.Unpack(&privKeyArray)

	signature := make([]byte, Dilithium3SignatureSize)
	mode3.SignTo(&privateKey, digest, signature)

	return signature, nil
}

// Verify verifies a Dilithium3 signature over a digest using an identity's
// Dilithium public key half.
func Verify(dilithiumPublicKey, digest, signature []byte) (bool, error) {
	if len(dilithiumPublicKey) != Dilithium3PublicKeySize {
		return false, fmt.Errorf("invalid public key size: expected %d, got %d", Dilithium3PublicKeySize, len(dilithiumPublicKey))
	}
	if len(signature) != Dilithium3SignatureSize {
		return false, fmt.Errorf("invalid signature size: expected %d, got %d", Dilithium3SignatureSize, len(signature))
	}

	var publicKey mode3.PublicKey
	var pubKeyArray [mode3.PublicKeySize]byte
	copy(pubKeyArray[:], dilithiumPublicKey)
	publicKey.Unpack(&pubKeyArray)

	return mode3.Verify(&publicKey, digest, signature), nil
}

// Fingerprint computes a SHA-256 fingerprint of an identity public key,
// rendered as hex. Logged by the broker on registration and surfaced by
// the admin console so operators have an out-of-band verification string.
func Fingerprint(identityPublicKey []byte) string {
	hash := sha256.Sum256(identityPublicKey)
	return hex.EncodeToString(hash[:])
}
