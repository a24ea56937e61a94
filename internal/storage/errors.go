package storage

import (
	"errors"

	"github.com/pctrl/pctrl/internal/crypto"
)

var (
	// ErrAuthenticationFailed covers both a wrong passphrase and a damaged or
	// foreign store file.
	ErrAuthenticationFailed     = crypto.ErrAuthenticationFailed
	ErrUnsupportedSchemaVersion = errors.New("storage: schema version newer than this build")
	ErrMigrationFailed          = errors.New("storage: migration failed")
	ErrNotFound                 = errors.New("storage: not found")
	ErrDuplicateKey             = errors.New("storage: duplicate key")
	ErrDuplicateLink            = errors.New("storage: duplicate link")
	ErrValidation               = errors.New("storage: validation failed")
	ErrStoreLocked              = errors.New("storage: store is locked by another process")
)
