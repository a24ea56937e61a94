package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyCommitmentContext = "pctrl-key-commitment"
	subkeyVersion        = "v1"
)

var (
	ErrInvalidKEK         = fmt.Errorf("%w: wrong key encryption key", ErrAuthenticationFailed)
	ErrCommitmentMismatch = fmt.Errorf("%w: key commitment mismatch", ErrAuthenticationFailed)
	ErrKeyRingNotReady    = errors.New("key ring not ready")
)

// WrappedKey is the master key sealed under a passphrase-derived KEK.
type WrappedKey struct {
	Ciphertext []byte
	Nonce      []byte
}

// KeyRing holds the store master key in locked memory and derives every
// purpose-specific subkey from it.
type KeyRing struct {
	master  *memguard.LockedBuffer
	storeID string
}

func NewKeyRing(master *memguard.LockedBuffer, storeID string) *KeyRing {
	return &KeyRing{master: master, storeID: storeID}
}

func GenerateMasterKey() (*memguard.LockedBuffer, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	defer memguard.WipeBytes(raw)

	return memguard.NewBufferFromBytes(raw), nil
}

func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		return nil, fmt.Errorf("generate salt: length must be >= 16, got %d", length)
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func (kr *KeyRing) StoreID() string {
	if kr == nil {
		return ""
	}
	return kr.storeID
}

// Wrap seals the master key under kek, bound to the store id.
func (kr *KeyRing) Wrap(kek []byte) (WrappedKey, error) {
	if err := kr.ensureReady(); err != nil {
		return WrappedKey{}, err
	}
	if len(kek) != chacha20poly1305.KeySize {
		return WrappedKey{}, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAEADInput, chacha20poly1305.KeySize)
	}

	blob, err := Encrypt(kek, kr.master.Bytes(), wrapAssociatedData(kr.storeID))
	if err != nil {
		return WrappedKey{}, fmt.Errorf("wrap master key: %w", err)
	}
	return WrappedKey{Ciphertext: blob.Ciphertext, Nonce: blob.Nonce}, nil
}

// Commitment returns the key-commitment tag recorded next to the wrapped key.
func (kr *KeyRing) Commitment() ([]byte, error) {
	if err := kr.ensureReady(); err != nil {
		return nil, err
	}
	return ComputeCommitmentTag(kr.master.Bytes()), nil
}

// Unlock unwraps the master key. A wrong KEK and a damaged bundle both report
// ErrAuthenticationFailed.
func Unlock(kek []byte, storeID string, wrapped WrappedKey, commitmentTag []byte) (*KeyRing, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAEADInput, chacha20poly1305.KeySize)
	}
	if len(commitmentTag) == 0 {
		return nil, fmt.Errorf("%w: missing commitment tag", ErrAuthenticationFailed)
	}

	plaintext, err := Decrypt(kek, EncryptedBlob{Ciphertext: wrapped.Ciphertext, Nonce: wrapped.Nonce}, wrapAssociatedData(storeID))
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return nil, ErrInvalidKEK
		}
		return nil, fmt.Errorf("unwrap master key: %w", err)
	}

	if !hmac.Equal(ComputeCommitmentTag(plaintext), commitmentTag) {
		memguard.WipeBytes(plaintext)
		return nil, ErrCommitmentMismatch
	}

	buf := memguard.NewBufferFromBytes(plaintext)
	memguard.WipeBytes(plaintext)
	return NewKeyRing(buf, storeID), nil
}

// SealRecord encrypts a whole row payload. The ciphertext is bound to the
// store, table and row id so rows cannot be swapped on disk.
func (kr *KeyRing) SealRecord(table, id string, plaintext []byte) (EncryptedBlob, error) {
	key, err := kr.subkey("record:" + table)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("derive record key: %w", err)
	}
	defer memguard.WipeBytes(key)

	blob, err := Encrypt(key, plaintext, kr.recordAssociatedData(table, id))
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("seal record: %w", err)
	}
	return blob, nil
}

func (kr *KeyRing) OpenRecord(table, id string, blob EncryptedBlob) ([]byte, error) {
	key, err := kr.subkey("record:" + table)
	if err != nil {
		return nil, fmt.Errorf("derive record key: %w", err)
	}
	defer memguard.WipeBytes(key)

	return Decrypt(key, blob, kr.recordAssociatedData(table, id))
}

// EncryptField encrypts one sensitive field under its own per-entity key.
func (kr *KeyRing) EncryptField(entityType, entityID, fieldName string, plaintext []byte) (EncryptedBlob, error) {
	dek, err := kr.subkey("field:" + entityType + ":" + entityID + ":" + fieldName)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("derive field key: %w", err)
	}
	defer memguard.WipeBytes(dek)

	blob, err := Encrypt(dek, plaintext, kr.fieldAssociatedData(entityType, entityID, fieldName))
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("encrypt field: %w", err)
	}
	return blob, nil
}

func (kr *KeyRing) DecryptField(entityType, entityID, fieldName string, blob EncryptedBlob) ([]byte, error) {
	dek, err := kr.subkey("field:" + entityType + ":" + entityID + ":" + fieldName)
	if err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}
	defer memguard.WipeBytes(dek)

	return Decrypt(dek, blob, kr.fieldAssociatedData(entityType, entityID, fieldName))
}

// IndexMAC is a keyed blind index used for equality lookups on encrypted
// values. The caller normalizes value.
func (kr *KeyRing) IndexMAC(scope, value string) ([]byte, error) {
	key, err := kr.subkey("index")
	if err != nil {
		return nil, fmt.Errorf("derive index key: %w", err)
	}
	defer memguard.WipeBytes(key)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(scope))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return mac.Sum(nil), nil
}

func (kr *KeyRing) Destroy() {
	if kr == nil || kr.master == nil {
		return
	}
	if kr.master.IsAlive() {
		kr.master.Destroy()
	}
	kr.master = nil
}

func (kr *KeyRing) subkey(purpose string) ([]byte, error) {
	if err := kr.ensureReady(); err != nil {
		return nil, err
	}

	key, err := deriveSubkey(kr.master.Bytes(), kr.storeID, purpose)
	if err != nil {
		return nil, fmt.Errorf("derive hkdf subkey: %w", err)
	}
	return key, nil
}

func (kr *KeyRing) ensureReady() error {
	if kr == nil || kr.master == nil || !kr.master.IsAlive() {
		return ErrKeyRingNotReady
	}
	return nil
}

func ComputeCommitmentTag(master []byte) []byte {
	mac := hmac.New(sha256.New, master)
	mac.Write([]byte(keyCommitmentContext))
	return mac.Sum(nil)
}

func wrapAssociatedData(storeID string) []byte {
	return []byte("pctrl-master:" + storeID)
}

func (kr *KeyRing) recordAssociatedData(table, id string) []byte {
	return []byte("pctrl-record:" + kr.storeID + ":" + subkeyVersion + ":" + table + ":" + id)
}

func (kr *KeyRing) fieldAssociatedData(entityType, entityID, fieldName string) []byte {
	return []byte("pctrl-field:" + kr.storeID + ":" + subkeyVersion + ":" + entityType + ":" + entityID + ":" + fieldName)
}
