// Package keystore reads and writes password encrypted wallet files and
// signs ledger submissions with the decrypted key.
//
// A wallet file holds the ledger signing key and the memo private key,
// encrypted together with aes-128-ctr under an scrypt derived key. A
// Keccak-256 MAC over the second half of the derived key and the
// ciphertext detects a wrong password.
package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/comchain/service/memo"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"
)

const (
	version     = 1
	cipherName  = "aes-128-ctr"
	kdfName     = "scrypt"
	dkLen       = 32
	privKeySize = 32
)

// ScryptParams sets the cost of key derivation.
type ScryptParams struct {
	N int
	R int
	P int
}

var (
	// StandardScrypt is used for wallets written by the CLI.
	StandardScrypt = ScryptParams{N: 1 << 18, R: 8, P: 1}

	// LightScrypt trades security for speed, for tests and throwaway wallets.
	LightScrypt = ScryptParams{N: 1 << 12, R: 8, P: 6}
)

var (
	// ErrWrongPassword is returned when the MAC does not match.
	ErrWrongPassword = errors.New("wrong wallet password")

	// ErrInvalidWallet is returned for malformed wallet files.
	ErrInvalidWallet = errors.New("invalid wallet file")
)

type walletFile struct {
	Version    int            `json:"version"`
	Address    string         `json:"address"`
	Crypto     cryptoJSON     `json:"crypto"`
	MessageKey messageKeyJSON `json:"message_key"`
}

type messageKeyJSON struct {
	Public string `json:"pub"`
}

type cryptoJSON struct {
	Cipher       string           `json:"cipher"`
	CipherText   string           `json:"ciphertext"`
	CipherParams cipherParamsJSON `json:"cipherparams"`
	KDF          string           `json:"kdf"`
	KDFParams    kdfParamsJSON    `json:"kdfparams"`
	MAC          string           `json:"mac"`
}

type cipherParamsJSON struct {
	IV string `json:"iv"`
}

type kdfParamsJSON struct {
	N     int    `json:"n"`
	R     int    `json:"r"`
	P     int    `json:"p"`
	DKLen int    `json:"dklen"`
	Salt  string `json:"salt"`
}

// Key is decrypted signing material. It must be zeroed when the operation
// that needed it is over.
type Key struct {
	address    string
	private    *secp256k1.PrivateKey
	MessageKey *memo.KeyPair
}

// NewKey generates a fresh signing key and memo key pair.
func NewKey() (*Key, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	msgKey, err := memo.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Key{
		address:    addressOf(priv.PubKey()),
		private:    priv,
		MessageKey: msgKey,
	}, nil
}

// Address returns the ledger address, lowercase hex without 0x.
func (k *Key) Address() string {
	return k.address
}

// Sign returns a 65 byte recoverable signature over digest.
func (k *Key) Sign(digest []byte) ([]byte, error) {
	if k.private == nil {
		return nil, errors.New("signing key has been zeroed")
	}
	return ecdsa.SignCompact(k.private, digest, false), nil
}

// Zero wipes the private key material.
func (k *Key) Zero() {
	if k == nil {
		return
	}
	if k.private != nil {
		k.private.Zero()
		k.private = nil
	}
	k.MessageKey.Zero()
}

// RecoverAddress returns the address that produced sig over digest.
func RecoverAddress(sig, digest []byte) (string, error) {
	pub, _, err := ecdsa.RecoverCompact(sig, digest)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return addressOf(pub), nil
}

// Address reads the address of a wallet file without decrypting it.
func Address(walletJSON []byte) (string, error) {
	var wf walletFile
	if err := json.Unmarshal(walletJSON, &wf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	return normalize(wf.Address), nil
}

// Encrypt serializes key as a wallet file protected by password.
func Encrypt(key *Key, password string, params ScryptParams) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to read iv: %w", err)
	}

	derived, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, dkLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	plain := make([]byte, 0, 2*privKeySize)
	plain = append(plain, key.private.Serialize()...)
	plain = append(plain, key.MessageKey.Private[:]...)
	defer wipe(plain)

	ciphertext, err := aesCTR(derived[:16], iv, plain)
	if err != nil {
		return nil, err
	}

	wf := walletFile{
		Version: version,
		Address: key.address,
		Crypto: cryptoJSON{
			Cipher:       cipherName,
			CipherText:   hex.EncodeToString(ciphertext),
			CipherParams: cipherParamsJSON{IV: hex.EncodeToString(iv)},
			KDF:          kdfName,
			KDFParams: kdfParamsJSON{
				N:     params.N,
				R:     params.R,
				P:     params.P,
				DKLen: dkLen,
				Salt:  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(mac(derived, ciphertext)),
		},
		MessageKey: messageKeyJSON{Public: key.MessageKey.PublicHex()},
	}
	return json.MarshalIndent(wf, "", "  ")
}

// Decrypt opens a wallet file. A wrong password yields ErrWrongPassword.
func Decrypt(walletJSON []byte, password string) (*Key, error) {
	var wf walletFile
	if err := json.Unmarshal(walletJSON, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	if wf.Crypto.Cipher != cipherName || wf.Crypto.KDF != kdfName {
		return nil, fmt.Errorf("%w: unsupported cipher %q or kdf %q", ErrInvalidWallet, wf.Crypto.Cipher, wf.Crypto.KDF)
	}

	salt, err := hex.DecodeString(wf.Crypto.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrInvalidWallet, err)
	}
	iv, err := hex.DecodeString(wf.Crypto.CipherParams.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrInvalidWallet, err)
	}
	ciphertext, err := hex.DecodeString(wf.Crypto.CipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrInvalidWallet, err)
	}
	wantMAC, err := hex.DecodeString(wf.Crypto.MAC)
	if err != nil {
		return nil, fmt.Errorf("%w: mac: %v", ErrInvalidWallet, err)
	}

	kp := wf.Crypto.KDFParams
	derived, err := scrypt.Key([]byte(password), salt, kp.N, kp.R, kp.P, dkLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	if !bytes.Equal(mac(derived, ciphertext), wantMAC) {
		return nil, ErrWrongPassword
	}

	plain, err := aesCTR(derived[:16], iv, ciphertext)
	if err != nil {
		return nil, err
	}
	defer wipe(plain)
	if len(plain) != 2*privKeySize {
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrInvalidWallet, len(plain))
	}

	priv := secp256k1.PrivKeyFromBytes(plain[:privKeySize])
	address := addressOf(priv.PubKey())
	if address != normalize(wf.Address) {
		priv.Zero()
		return nil, fmt.Errorf("%w: address mismatch", ErrInvalidWallet)
	}

	msgKey, err := memo.ParseKeyPair(wf.MessageKey.Public, hex.EncodeToString(plain[privKeySize:]))
	if err != nil {
		priv.Zero()
		return nil, fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}

	return &Key{address: address, private: priv, MessageKey: msgKey}, nil
}

// Decrypter adapts Decrypt to the unlock loop.
type Decrypter struct{}

// DecryptWallet implements unlock.Decrypter.
func (Decrypter) DecryptWallet(walletJSON []byte, password string) (*Key, error) {
	return Decrypt(walletJSON, password)
}

func aesCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

func mac(derived, ciphertext []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(derived[16:32])
	h.Write(ciphertext)
	return h.Sum(nil)
}

// addressOf is the last 20 bytes of the Keccak-256 of the uncompressed
// public key without its prefix byte.
func addressOf(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return hex.EncodeToString(h.Sum(nil)[12:])
}

func normalize(addr string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
