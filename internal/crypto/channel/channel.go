// Package channel seals payloads for encrypted-group packets with
// XChaCha20-Poly1305 under a pre-shared channel key.
package channel

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Key is a 32-byte symmetric channel key.
type Key [32]byte

func NewRandomKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (k Key) Hex() string { return hex.EncodeToString(k[:]) }

func ParseKeyHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, err
	}
	if len(b) != len(Key{}) {
		return Key{}, fmt.Errorf("channel: expected 32-byte key, got %d", len(b))
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// Seal encrypts plaintext into a self-contained buffer (nonce || ciphertext)
// suitable as a packet payload.
func Seal(key Key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[:chacha20poly1305.NonceSizeX], plaintext, nil), nil
}

// Open decrypts a buffer produced by Seal.
func Open(key Key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("channel: sealed payload too short")
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}
