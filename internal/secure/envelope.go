// Package secure implements the at-rest encryption envelope for provider
// credentials and other secrets: AES-256-GCM with PBKDF2-derived keys and
// a versioned JSON envelope that supports key rotation.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	envelopeVersion = 1
	nonceSize       = 12
	tagSize         = 16
	keySize         = 32 // AES-256
	pbkdf2Iters     = 100000
)

var (
	// ErrDecryptFailed covers both tampered ciphertext and wrong keys;
	// the two are indistinguishable under GCM.
	ErrDecryptFailed = errors.New("secure: decryption failed")
	// ErrUnknownKey means the envelope references a key id the keyring
	// does not hold.
	ErrUnknownKey = errors.New("secure: unknown key id")
)

// Envelope is the stored ciphertext shape. All binary fields are base64.
type Envelope struct {
	Version    int    `json:"v"`
	KeyID      string `json:"kid"`
	KeyVersion int    `json:"kv"`
	Nonce      string `json:"iv"`
	Ciphertext string `json:"ct"`
	Tag        string `json:"tag"`
	AADHash    string `json:"aad"`
}

// DeriveKey stretches a passphrase into an AES-256 key.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iters, keySize, sha256.New)
}

// Keyring maps key ids to key material. The active key encrypts; every
// key can still decrypt, which is what makes rotation non-breaking.
type Keyring struct {
	keys          map[string]keyEntry
	activeID      string
	activeVersion int
}

type keyEntry struct {
	key     []byte
	version int
}

// NewKeyring builds a keyring with one active key.
func NewKeyring(activeID string, version int, key []byte) (*Keyring, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secure: key must be %d bytes, got %d", keySize, len(key))
	}
	return &Keyring{
		keys:          map[string]keyEntry{activeID: {key: key, version: version}},
		activeID:      activeID,
		activeVersion: version,
	}, nil
}

// AddKey registers an additional decrypt-only key.
func (k *Keyring) AddKey(id string, version int, key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("secure: key must be %d bytes, got %d", keySize, len(key))
	}
	k.keys[id] = keyEntry{key: key, version: version}
	return nil
}

// Rotate makes a previously added key the active one.
func (k *Keyring) Rotate(id string) error {
	entry, ok := k.keys[id]
	if !ok {
		return ErrUnknownKey
	}
	k.activeID = id
	k.activeVersion = entry.version
	return nil
}

// Encrypt seals plaintext under the active key. The aad binds the
// ciphertext to its context (e.g. the owning user id) without storing it.
func (k *Keyring) Encrypt(plaintext, aad []byte) (Envelope, error) {
	entry := k.keys[k.activeID]
	gcm, err := newGCM(entry.key)
	if err != nil {
		return Envelope{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("secure: nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	aadSum := sha256.Sum256(aad)
	return Envelope{
		Version:    envelopeVersion,
		KeyID:      k.activeID,
		KeyVersion: entry.version,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		AADHash:    base64.StdEncoding.EncodeToString(aadSum[:]),
	}, nil
}

// Decrypt opens an envelope with the key it names. The same aad used at
// encryption time must be supplied.
func (k *Keyring) Decrypt(env Envelope, aad []byte) ([]byte, error) {
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("secure: unsupported envelope version %d", env.Version)
	}
	entry, ok := k.keys[env.KeyID]
	if !ok {
		return nil, ErrUnknownKey
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return nil, ErrDecryptFailed
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return nil, ErrDecryptFailed
	}

	gcm, err := newGCM(entry.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptJSON seals a value's JSON form and returns the serialized
// envelope, ready for the store.
func (k *Keyring) EncryptJSON(v any, aad []byte) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("secure: marshal: %w", err)
	}
	env, err := k.Encrypt(plaintext, aad)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecryptJSON reverses EncryptJSON.
func (k *Keyring) DecryptJSON(raw []byte, aad []byte, v any) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("secure: envelope parse: %w", err)
	}
	plaintext, err := k.Decrypt(env, aad)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secure: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secure: gcm: %w", err)
	}
	return gcm, nil
}
