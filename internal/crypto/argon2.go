package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters stamped into every new store. Existing stores keep the
// parameters recorded at creation.
const (
	DefaultArgon2MemoryKiB   uint32 = 64 * 1024
	DefaultArgon2Iterations  uint32 = 3
	DefaultArgon2Parallelism uint8  = 4
	DefaultArgon2SaltLen            = 32
	DefaultArgon2KeyLen      uint32 = 32
	MinArgon2MemoryKiB       uint32 = 32 * 1024
)

var ErrInvalidArgon2Params = errors.New("invalid argon2 parameters")

type Argon2Params struct {
	Memory      uint32 `json:"memory_kib"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
	SaltLen     int    `json:"salt_len"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      DefaultArgon2MemoryKiB,
		Iterations:  DefaultArgon2Iterations,
		Parallelism: DefaultArgon2Parallelism,
		SaltLen:     DefaultArgon2SaltLen,
		KeyLen:      DefaultArgon2KeyLen,
	}
}

func (p Argon2Params) Validate() error {
	switch {
	case p.Memory < MinArgon2MemoryKiB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidArgon2Params, MinArgon2MemoryKiB)
	case p.Iterations == 0:
		return fmt.Errorf("%w: iterations must be > 0", ErrInvalidArgon2Params)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be > 0", ErrInvalidArgon2Params)
	case p.SaltLen < 16:
		return fmt.Errorf("%w: salt length must be >= 16", ErrInvalidArgon2Params)
	case p.KeyLen != 32:
		return fmt.Errorf("%w: key length must be 32", ErrInvalidArgon2Params)
	default:
		return nil
	}
}

// DeriveKey stretches a passphrase into a 256-bit key encryption key. The same
// passphrase, salt and params always produce the same key.
func DeriveKey(passphrase []byte, salt []byte, params Argon2Params) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase must not be empty", ErrInvalidArgon2Params)
	}
	if len(salt) < params.SaltLen {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidArgon2Params, params.SaltLen)
	}

	key := argon2.IDKey(passphrase, salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	return key, nil
}
