// Package keychain implements the client-side, password-protected store of
// per-peer symmetric keys (spec §3, §4.3). The on-disk layout for owner U
// is salt(32) || AEAD_KDF(password,salt)(entries), where entries is a
// four-byte count followed by concatenated (len32||peer_uuid||len32||key).
package keychain

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kindlyrobotics/iplchat/internal/crypto"
)

const saltSize = 32

// Keychain is one owner's decrypted, in-memory set of peer keys.
type Keychain struct {
	path       string
	ownerUUID  string
	salt       []byte
	derivedKey []byte
	entries    map[string][]byte // peer_uuid -> symmetric key
}

func filePath(dir, ownerUUID string) string {
	return filepath.Join(dir, ownerUUID+".keychain")
}

// Load opens owner's keychain file under dir, deriving the decryption key
// from password. If the file does not exist, a fresh keychain with a new
// random salt is returned (ok=true, no entries). If the file exists but
// fails to decrypt — wrong password or corruption — ok is false and the
// returned Keychain is nil; this is reported as a boolean, never left as
// partially-decrypted state.
func Load(dir, ownerUUID, password string) (*Keychain, bool) {
	path := filePath(dir, ownerUUID)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		salt, genErr := crypto.RandomBytes(saltSize)
		if genErr != nil {
			return nil, false
		}
		return &Keychain{
			path:       path,
			ownerUUID:  ownerUUID,
			salt:       salt,
			derivedKey: crypto.DeriveKeyFromPassword(password, salt),
			entries:    make(map[string][]byte),
		}, true
	}
	if err != nil {
		return nil, false
	}
	if len(raw) < saltSize {
		return nil, false
	}

	salt := raw[:saltSize]
	sealed := raw[saltSize:]
	derivedKey := crypto.DeriveKeyFromPassword(password, salt)

	plaintext, err := crypto.OpenSession(derivedKey, sealed)
	if err != nil {
		return nil, false
	}

	entries, err := decodeEntries(plaintext)
	if err != nil {
		return nil, false
	}

	return &Keychain{
		path:       path,
		ownerUUID:  ownerUUID,
		salt:       salt,
		derivedKey: derivedKey,
		entries:    entries,
	}, true
}

// Add records or replaces the symmetric key for peer.
func (kc *Keychain) Add(peerUUID string, key []byte) {
	kc.entries[peerUUID] = key
}

// Get returns the symmetric key for peer, if known.
func (kc *Keychain) Get(peerUUID string) ([]byte, bool) {
	key, ok := kc.entries[peerUUID]
	return key, ok
}

// Entries returns every (peer_uuid, key) pair currently held.
func (kc *Keychain) Entries() map[string][]byte {
	out := make(map[string][]byte, len(kc.entries))
	for k, v := range kc.entries {
		out[k] = v
	}
	return out
}

// Save writes the keychain back to disk, re-sealing entries under the
// owner's derived key.
func (kc *Keychain) Save() error {
	plaintext := encodeEntries(kc.entries)
	sealed, err := crypto.SealSession(kc.derivedKey, plaintext)
	if err != nil {
		return fmt.Errorf("keychain: seal entries: %w", err)
	}

	out := make([]byte, 0, saltSize+len(sealed))
	out = append(out, kc.salt...)
	out = append(out, sealed...)

	if err := os.MkdirAll(filepath.Dir(kc.path), 0o700); err != nil {
		return fmt.Errorf("keychain: create directory: %w", err)
	}
	if err := os.WriteFile(kc.path, out, 0o600); err != nil {
		return fmt.Errorf("keychain: write file: %w", err)
	}
	return nil
}

func encodeEntries(entries map[string][]byte) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(entries)))
	for peerUUID, key := range entries {
		peerBytes := []byte(peerUUID)
		var lenBuf [4]byte

		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(peerBytes)))
		out = append(out, lenBuf[:]...)
		out = append(out, peerBytes...)

		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
		out = append(out, lenBuf[:]...)
		out = append(out, key...)
	}
	return out
}

func decodeEntries(data []byte) (map[string][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("keychain: entry count truncated")
	}
	count := binary.LittleEndian.Uint32(data[:4])
	rest := data[4:]

	entries := make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("keychain: entry %d peer length truncated", i)
		}
		peerLen := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < peerLen {
			return nil, fmt.Errorf("keychain: entry %d peer uuid truncated", i)
		}
		peerUUID := string(rest[:peerLen])
		rest = rest[peerLen:]

		if len(rest) < 4 {
			return nil, fmt.Errorf("keychain: entry %d key length truncated", i)
		}
		keyLen := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < keyLen {
			return nil, fmt.Errorf("keychain: entry %d key bytes truncated", i)
		}
		key := append([]byte(nil), rest[:keyLen]...)
		rest = rest[keyLen:]

		entries[peerUUID] = key
	}
	return entries, nil
}
