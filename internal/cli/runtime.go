package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/pctrl/pctrl/internal/app"
	"github.com/pctrl/pctrl/internal/config"
	"github.com/pctrl/pctrl/internal/crypto"
	logpkg "github.com/pctrl/pctrl/internal/log"
	"github.com/spf13/cobra"
)

var loadConfigFn = config.Load

// storeArgon2 is the KDF cost used when init creates a store. The zero value
// selects the library defaults.
var storeArgon2 crypto.Argon2Params

type session struct {
	cfg      config.Config
	report   config.LoadReport
	logger   *slog.Logger
	registry *app.Registry
}

func loadCommandConfig(deps commandDeps) (config.Config, config.LoadReport, error) {
	opts := config.LoadOptions{}
	if deps.globals != nil {
		opts.ConfigPath = strings.TrimSpace(deps.globals.ConfigPath)
		if storePath := strings.TrimSpace(deps.globals.StorePath); storePath != "" {
			opts.Flags.StorePath = &storePath
		}
		if level := strings.TrimSpace(deps.globals.LogLevel); level != "" {
			opts.Flags.LogLevel = &level
		}
		if deps.globals.JSON {
			asJSON := true
			opts.Flags.JSON = &asJSON
		}
	}

	cfg, report, err := loadConfigFn(opts)
	if err != nil {
		return config.Config{}, report, fmt.Errorf("load config: %w", err)
	}
	if deps.globals != nil {
		deps.globals.JSON = cfg.Output.JSON
	}
	return cfg, report, nil
}

func newCommandLogger(cfg config.Config, deps commandDeps) (*slog.Logger, io.Closer, error) {
	return logpkg.New(logpkg.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}, deps.errOut)
}

func withRegistry(cmd *cobra.Command, deps commandDeps, fn func(context.Context, *app.Registry) error) error {
	return withSession(cmd, deps, false, func(ctx context.Context, s session) error {
		return fn(ctx, s.registry)
	})
}

// withSession loads config, unlocks the store and hands fn a registry bound to
// it. The store is closed and the passphrase wiped before it returns.
func withSession(cmd *cobra.Command, deps commandDeps, create bool, fn func(context.Context, session) error) error {
	timeout := 30 * time.Second
	if deps.globals != nil && deps.globals.Timeout > 0 {
		timeout = deps.globals.Timeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cfg, report, err := loadCommandConfig(deps)
	if err != nil {
		return mapCommandError(err)
	}
	logger, closer, err := newCommandLogger(cfg, deps)
	if err != nil {
		return mapCommandError(fmt.Errorf("%w: logging: %v", config.ErrInvalidConfig, err))
	}
	defer closer.Close()

	passphrase, err := readPassphrase(cmd, deps, create)
	if err != nil {
		return mapCommandError(err)
	}
	defer memguard.WipeBytes(passphrase)

	store, err := app.OpenStore(ctx, app.OpenOptions{
		Path:        cfg.Store.Path,
		BusyTimeout: cfg.Store.BusyTimeout,
		Create:      create,
		Argon2:      storeArgon2,
	}, passphrase, logger)
	if err != nil {
		return mapCommandError(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	return mapCommandError(fn(ctx, session{
		cfg:      cfg,
		report:   report,
		logger:   logger,
		registry: app.NewRegistry(store),
	}))
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// printResult writes value as JSON, or calls text unless --quiet is set.
func printResult(deps commandDeps, value any, text func(io.Writer) error) error {
	if deps.globals.JSON {
		return printJSON(deps.out, value)
	}
	if deps.globals.Quiet {
		return nil
	}
	return text(deps.out)
}

func printRemoved(deps commandDeps, kind, name string) error {
	return printResult(deps, map[string]any{"deleted": name, "kind": kind}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s removed: %s\n", kind, name)
		return err
	})
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%s requires %s", cmd.CommandPath(), usage)
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return usageErrorf("%s does not accept positional arguments", cmd.CommandPath())
	}
	return nil
}

func boolToState(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
