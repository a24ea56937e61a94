package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/pctrl/pctrl/internal/config"
	"github.com/pctrl/pctrl/internal/storage"
)

const (
	ExitCodeSuccess    = 0
	ExitCodeGeneric    = 1
	ExitCodeUsage      = 2
	ExitCodeNotFound   = 3
	ExitCodeConflict   = 4
	ExitCodeAuthFailed = 5
	ExitCodeLocked     = 6
	ExitCodeSchema     = 7
	ExitCodeIO         = 8
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	switch {
	case errors.Is(err, storage.ErrAuthenticationFailed):
		return asExitError(ExitCodeAuthFailed, err)
	case errors.Is(err, storage.ErrStoreLocked):
		return asExitError(ExitCodeLocked, err)
	case errors.Is(err, storage.ErrUnsupportedSchemaVersion), errors.Is(err, storage.ErrMigrationFailed):
		return asExitError(ExitCodeSchema, err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, app.ErrStoreMissing):
		return asExitError(ExitCodeNotFound, err)
	case errors.Is(err, storage.ErrDuplicateKey), errors.Is(err, storage.ErrDuplicateLink), errors.Is(err, app.ErrStoreExists):
		return asExitError(ExitCodeConflict, err)
	case errors.Is(err, storage.ErrValidation),
		errors.Is(err, app.ErrValidation),
		errors.Is(err, app.ErrAmbiguousName),
		errors.Is(err, config.ErrInvalidConfig):
		return asExitError(ExitCodeUsage, err)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return asExitError(ExitCodeIO, err)
	}

	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
