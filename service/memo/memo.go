// Package memo ciphers transfer descriptions so that only the sender and
// the recipient can read them. Each party gets its own anonymous sealed box.
package memo

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/box"
)

const keySize = 32

// ErrUndecipherable is returned when a memo cannot be opened with a key pair.
var ErrUndecipherable = errors.New("memo cannot be deciphered")

// Ciphered holds one sealed copy of a memo per party, hex encoded.
type Ciphered struct {
	From string `json:"memo_from,omitempty"`
	To   string `json:"memo_to,omitempty"`
}

// KeyPair is a memo key pair.
type KeyPair struct {
	Public  [keySize]byte
	Private [keySize]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate message key: %w", err)
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// ParseKeyPair decodes a hex encoded key pair.
func ParseKeyPair(publicHex, privateHex string) (*KeyPair, error) {
	pub, err := ParsePublicKey(publicHex)
	if err != nil {
		return nil, err
	}
	priv, err := decodeKey(privateHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private message key: %w", err)
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// ParsePublicKey decodes a hex encoded public key, with or without 0x.
func ParsePublicKey(publicHex string) (*[keySize]byte, error) {
	pub, err := decodeKey(publicHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public message key: %w", err)
	}
	return pub, nil
}

// PublicHex returns the hex encoded public key.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// PrivateHex returns the hex encoded private key.
func (kp *KeyPair) PrivateHex() string {
	return hex.EncodeToString(kp.Private[:])
}

// Zero wipes the private key.
func (kp *KeyPair) Zero() {
	if kp == nil {
		return
	}
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// Seal ciphers description for both parties. An empty description yields
// an empty Ciphered.
func Seal(description string, fromPub, toPub *[keySize]byte) (Ciphered, error) {
	if description == "" {
		return Ciphered{}, nil
	}
	from, err := box.SealAnonymous(nil, []byte(description), fromPub, rand.Reader)
	if err != nil {
		return Ciphered{}, fmt.Errorf("failed to seal memo for sender: %w", err)
	}
	to, err := box.SealAnonymous(nil, []byte(description), toPub, rand.Reader)
	if err != nil {
		return Ciphered{}, fmt.Errorf("failed to seal memo for recipient: %w", err)
	}
	return Ciphered{From: hex.EncodeToString(from), To: hex.EncodeToString(to)}, nil
}

// Open deciphers one sealed copy with the holder's key pair.
// An empty ciphertext opens to an empty string.
func Open(ciphertext string, kp *KeyPair) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if kp == nil {
		return "", fmt.Errorf("%w: no key pair", ErrUndecipherable)
	}
	sealed, err := hex.DecodeString(strings.TrimPrefix(ciphertext, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecipherable, err)
	}
	plain, ok := box.OpenAnonymous(nil, sealed, &kp.Public, &kp.Private)
	if !ok {
		return "", ErrUndecipherable
	}
	return string(plain), nil
}

func decodeKey(s string) (*[keySize]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, err
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("expected %d bytes, got %d", keySize, len(raw))
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
