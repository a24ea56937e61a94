package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pctrl/pctrl/internal/crypto"
	"github.com/pctrl/pctrl/internal/storage"
)

type OpenOptions struct {
	Path        string
	BusyTimeout time.Duration
	// Create opens a store that does not exist yet and refuses one that does.
	Create bool
	// Argon2 overrides the KDF parameters of a newly created store.
	Argon2 crypto.Argon2Params
}

// OpenStore opens the registry at opts.Path and logs what opening did to it.
func OpenStore(ctx context.Context, opts OpenOptions, passphrase []byte, logger *slog.Logger) (*storage.Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: store path is required", ErrValidation)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := filepath.Clean(opts.Path)

	exists, err := storeFileExists(path)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Create && exists:
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, path)
	case !opts.Create && !exists:
		return nil, fmt.Errorf("%w: %s (run `pctrl init`)", ErrStoreMissing, path)
	}

	store, err := storage.Open(ctx, path, passphrase, storage.Options{
		Argon2:      opts.Argon2,
		BusyTimeout: opts.BusyTimeout,
	})
	if err != nil {
		logger.Debug("open store failed", "path", path, "error", err)
		return nil, err
	}

	report := store.Report()
	switch {
	case report.Migration.Created:
		logger.Info("store created", "path", path, "store_id", report.StoreID, "schema_version", report.Migration.To)
	case len(report.Migration.Applied) > 0:
		logger.Info("store migrated",
			"path", path,
			"from", report.Migration.From,
			"to", report.Migration.To,
			"applied", report.Migration.Applied,
		)
	default:
		logger.Debug("store opened", "path", path, "schema_version", report.Migration.To)
	}
	return store, nil
}

// storeFileExists treats an empty file as absent, matching storage.Open,
// which initializes empty files.
func storeFileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat store: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: store path %s is a directory", ErrValidation, path)
	}
	return info.Size() > 0, nil
}
