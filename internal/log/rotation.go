package log

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB = 10
	DefaultMaxFiles  = 5
)

// RotationConfig describes the on-disk log. A MaxFiles of zero keeps every
// rotated file; a negative value falls back to DefaultMaxFiles.
type RotationConfig struct {
	File      string
	MaxSizeMB int
	MaxFiles  int
}

// NewRotatingWriter opens the log file for appending. Rotated files are named
// in local time so they line up with the operator's clock. An existing log
// file is narrowed to 0600 before the first write.
func NewRotatingWriter(cfg RotationConfig) (*lumberjack.Logger, error) {
	path := strings.TrimSpace(cfg.File)
	if path == "" {
		return nil, fmt.Errorf("log file path must not be empty")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.MaxFiles < 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("log file %s is a directory", path)
	case err == nil && info.Mode().Perm() != 0o600:
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("restrict log file: %w", err)
		}
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		LocalTime:  true,
	}, nil
}
