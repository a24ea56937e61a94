package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrInvalidHKDFInput = errors.New("invalid hkdf input")

// maxHKDFOutput is the RFC 5869 ceiling for a SHA-256 expand step.
const maxHKDFOutput = 255 * sha256.Size

func DeriveHKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	switch {
	case len(ikm) == 0:
		return nil, fmt.Errorf("%w: ikm must not be empty", ErrInvalidHKDFInput)
	case length <= 0:
		return nil, fmt.Errorf("%w: length must be > 0", ErrInvalidHKDFInput)
	case length > maxHKDFOutput:
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidHKDFInput, length, maxHKDFOutput)
	}

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, fmt.Errorf("derive hkdf-sha256 output: %w", err)
	}
	return out, nil
}

// deriveSubkey expands the store master key into an AEAD key for one purpose.
// The store id salts every derivation so two stores sharing a master key
// never share a subkey.
func deriveSubkey(master []byte, storeID, purpose string) ([]byte, error) {
	if storeID == "" || purpose == "" {
		return nil, fmt.Errorf("%w: store id and purpose are required", ErrInvalidHKDFInput)
	}
	return DeriveHKDFSHA256(master, []byte(storeID), []byte(subkeyVersion+":"+purpose), chacha20poly1305.KeySize)
}
