package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIdentityKeySizes(t *testing.T) {
	kp, err := GenerateIdentity()
	require.NoError(t, err)

	assert.Len(t, kp.Public(), IdentityPublicKeySize)
	assert.Len(t, kp.Private(), IdentityPrivateKeySize)
}

func TestAsymEncryptDecryptRoundTrip(t *testing.T) {
	kp, err := GenerateIdentity()
	require.NoError(t, err)

	plaintext := []byte("the peer symmetric key handshake payload")
	blob, err := AsymEncrypt(kp.Public(), plaintext)
	require.NoError(t, err)

	opened, err := AsymDecrypt(kp.Private(), blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestAsymDecryptRejectsWrongIdentity(t *testing.T) {
	kp, err := GenerateIdentity()
	require.NoError(t, err)
	other, err := GenerateIdentity()
	require.NoError(t, err)

	blob, err := AsymEncrypt(kp.Public(), []byte("secret"))
	require.NoError(t, err)

	_, err = AsymDecrypt(other.Private(), blob)
	assert.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateIdentity()
	require.NoError(t, err)

	digest := Hash([]byte("message envelope contents"))
	sig, err := Sign(kp.DilithiumPrivate, digest)
	require.NoError(t, err)

	ok, err := Verify(kp.DilithiumPublic, digest, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	kp, err := GenerateIdentity()
	require.NoError(t, err)

	digest := Hash([]byte("message envelope contents"))
	sig, err := Sign(kp.DilithiumPrivate, digest)
	require.NoError(t, err)

	tampered := Hash([]byte("a different message entirely"))
	ok, err := Verify(kp.DilithiumPublic, tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprintIsStableAndKeyDependent(t *testing.T) {
	kp1, err := GenerateIdentity()
	require.NoError(t, err)
	kp2, err := GenerateIdentity()
	require.NoError(t, err)

	f1a := Fingerprint(kp1.Public())
	f1b := Fingerprint(kp1.Public())
	f2 := Fingerprint(kp2.Public())

	assert.Equal(t, f1a, f1b)
	assert.NotEqual(t, f1a, f2)
	assert.Len(t, f1a, 64) // hex-encoded SHA-256
}
