package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidAEADInput     = errors.New("invalid aead input")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// EncryptedBlob is a sealed value and the nonce it was sealed under. The
// Poly1305 tag is appended to Ciphertext.
type EncryptedBlob struct {
	Ciphertext []byte
	Nonce      []byte
}

func (b EncryptedBlob) IsZero() bool {
	return len(b.Ciphertext) == 0 && len(b.Nonce) == 0
}

// Encrypt seals plaintext under key with a fresh random nonce.
func Encrypt(key, plaintext, aad []byte) (EncryptedBlob, error) {
	nonce, err := randomNonce(chacha20poly1305.NonceSizeX)
	if err != nil {
		return EncryptedBlob{}, err
	}
	ciphertext, err := SealXChaCha20Poly1305(key, nonce, plaintext, aad)
	if err != nil {
		return EncryptedBlob{}, err
	}
	return EncryptedBlob{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// Decrypt opens blob under key. Any tag mismatch yields ErrAuthenticationFailed
// and no plaintext.
func Decrypt(key []byte, blob EncryptedBlob, aad []byte) ([]byte, error) {
	return OpenXChaCha20Poly1305(key, blob.Nonce, blob.Ciphertext, aad)
}

func SealXChaCha20Poly1305(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAEADInput, chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidAEADInput, chacha20poly1305.NonceSizeX)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func OpenXChaCha20Poly1305(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAEADInput, chacha20poly1305.KeySize)
	}
	// A truncated nonce or ciphertext on disk is tampering, not caller misuse.
	if len(nonce) != chacha20poly1305.NonceSizeX || len(ciphertext) < chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: malformed sealed value", ErrAuthenticationFailed)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func randomNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}
