package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/models"
)

// EncodeMessage serializes a Message envelope as four length-prefixed
// fields (sender, channel, ciphertext, signature) followed by a four-byte
// kind tag, per spec §3. Ciphertext over MaxCiphertextSize is rejected
// here, at envelope construction; DecodeMessage applies the same bound to
// received envelopes.
func EncodeMessage(msg *models.Message) ([]byte, error) {
	if len(msg.Ciphertext) > models.MaxCiphertextSize {
		return nil, fmt.Errorf("wire: ciphertext of %d bytes exceeds max %d", len(msg.Ciphertext), models.MaxCiphertextSize)
	}

	sender := []byte(msg.SenderUUID)
	channel := []byte(msg.ChannelUUID)

	out := make([]byte, 0, 4*4+len(sender)+len(channel)+len(msg.Ciphertext)+len(msg.Signature)+4)
	out = appendLenPrefixed(out, sender)
	out = appendLenPrefixed(out, channel)
	out = appendLenPrefixed(out, msg.Ciphertext)
	out = appendLenPrefixed(out, msg.Signature)
	out = appendUint32(out, uint32(msg.Kind))
	return out, nil
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(data []byte) (*models.Message, error) {
	sender, rest, err := readLenPrefixed(data)
	if err != nil {
		return nil, fmt.Errorf("wire: decode message sender: %w", err)
	}
	channel, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: decode message channel: %w", err)
	}
	ciphertext, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: decode message ciphertext: %w", err)
	}
	if len(ciphertext) > models.MaxCiphertextSize {
		return nil, fmt.Errorf("wire: ciphertext of %d bytes exceeds max %d", len(ciphertext), models.MaxCiphertextSize)
	}
	signature, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: decode message signature: %w", err)
	}
	if len(rest) < 4 {
		return nil, fmt.Errorf("wire: decode message kind: truncated")
	}
	kind := models.Kind(binary.LittleEndian.Uint32(rest[:4]))

	return &models.Message{
		SenderUUID:  string(sender),
		ChannelUUID: string(channel),
		Ciphertext:  ciphertext,
		Signature:   signature,
		Kind:        kind,
	}, nil
}

// SignMessage signs H(ciphertext) with the sender's Dilithium private key
// half and stores the result in msg.Signature.
func SignMessage(msg *models.Message, dilithiumPrivateKey []byte) error {
	digest := crypto.Hash(msg.Ciphertext)
	sig, err := crypto.Sign(dilithiumPrivateKey, digest)
	if err != nil {
		return fmt.Errorf("wire: sign message: %w", err)
	}
	msg.Signature = sig
	return nil
}

// VerifyMessage verifies msg.Signature over H(msg.Ciphertext) against the
// sender's Dilithium public key half, as the broker does using the
// session's stored peer public key.
func VerifyMessage(msg *models.Message, dilithiumPublicKey []byte) (bool, error) {
	digest := crypto.Hash(msg.Ciphertext)
	return crypto.Verify(dilithiumPublicKey, digest, msg.Signature)
}

// EncodeCredentials renders LOGIN/REGISTER_REQUEST's pre-AEAD payload:
// u8 ulen || u8 plen || username || password.
func EncodeCredentials(username, password string) ([]byte, error) {
	if len(username) > 255 || len(password) > 255 {
		return nil, fmt.Errorf("wire: username/password exceeds 255 bytes")
	}
	out := make([]byte, 0, 2+len(username)+len(password))
	out = append(out, byte(len(username)), byte(len(password)))
	out = append(out, username...)
	out = append(out, password...)
	return out, nil
}

// DecodeCredentials reverses EncodeCredentials.
func DecodeCredentials(data []byte) (username, password string, err error) {
	if len(data) < 2 {
		return "", "", fmt.Errorf("wire: credentials payload too short")
	}
	ulen, plen := int(data[0]), int(data[1])
	if len(data) < 2+ulen+plen {
		return "", "", fmt.Errorf("wire: credentials payload truncated")
	}
	username = string(data[2 : 2+ulen])
	password = string(data[2+ulen : 2+ulen+plen])
	return username, password, nil
}

// NamedRef is one entry of an encoded user/channel list: i32 count ||
// [i32 name_len || i32 uuid_len || name || uuid] * count.
type NamedRef struct {
	Name string
	UUID string
}

// EncodeNamedRefList renders the encoded list format shared by
// CHANNEL_FETCH_RESPONSE and USER_SEARCH_RESPONSE.
func EncodeNamedRefList(refs []NamedRef) []byte {
	out := appendUint32(nil, uint32(len(refs)))
	for _, r := range refs {
		name, uuid := []byte(r.Name), []byte(r.UUID)
		out = appendUint32(out, uint32(len(name)))
		out = appendUint32(out, uint32(len(uuid)))
		out = append(out, name...)
		out = append(out, uuid...)
	}
	return out
}

// DecodeNamedRefList reverses EncodeNamedRefList.
func DecodeNamedRefList(data []byte) ([]NamedRef, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("wire: named ref list truncated")
	}
	count := binary.LittleEndian.Uint32(data[:4])
	rest := data[4:]

	refs := make([]NamedRef, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 8 {
			return nil, fmt.Errorf("wire: named ref list entry %d truncated", i)
		}
		nameLen := binary.LittleEndian.Uint32(rest[0:4])
		uuidLen := binary.LittleEndian.Uint32(rest[4:8])
		rest = rest[8:]
		if uint32(len(rest)) < nameLen+uuidLen {
			return nil, fmt.Errorf("wire: named ref list entry %d truncated", i)
		}
		name := string(rest[:nameLen])
		uuid := string(rest[nameLen : nameLen+uuidLen])
		rest = rest[nameLen+uuidLen:]
		refs = append(refs, NamedRef{Name: name, UUID: uuid})
	}
	return refs, nil
}

// EncodePeerHandshake renders CLIENT_TO_CLIENT_HANDSHAKE2's payload:
// u32 ulen || u32 klen || target_uuid || encryptedKey. HANDSHAKE_NOTIFICATION
// reuses this exact layout with the sender's uuid in place of the target.
func EncodePeerHandshake(uuid string, encryptedKey []byte) []byte {
	uuidBytes := []byte(uuid)
	out := appendUint32(nil, uint32(len(uuidBytes)))
	out = appendUint32(out, uint32(len(encryptedKey)))
	out = append(out, uuidBytes...)
	out = append(out, encryptedKey...)
	return out
}

// DecodePeerHandshake reverses EncodePeerHandshake.
func DecodePeerHandshake(data []byte) (uuid string, encryptedKey []byte, err error) {
	if len(data) < 8 {
		return "", nil, fmt.Errorf("wire: peer handshake payload truncated")
	}
	ulen := binary.LittleEndian.Uint32(data[0:4])
	klen := binary.LittleEndian.Uint32(data[4:8])
	rest := data[8:]
	if uint32(len(rest)) < ulen+klen {
		return "", nil, fmt.Errorf("wire: peer handshake payload truncated")
	}
	uuid = string(rest[:ulen])
	encryptedKey = append([]byte(nil), rest[ulen:ulen+klen]...)
	return uuid, encryptedKey, nil
}

func appendLenPrefixed(dst, data []byte) []byte {
	dst = appendUint32(dst, uint32(len(data)))
	return append(dst, data...)
}

func readLenPrefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("length prefix truncated")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("field of declared length %d truncated", n)
	}
	return data[:n], data[n:], nil
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}
