package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/spf13/cobra"
)

const defaultInitConfig = `[store]
# path = "~/.local/share/pctrl/pctrl.db"
busy_timeout = "5s"

[logging]
level = "info"
format = "text"
file = ""
max_size_mb = 10
max_files = 5

[output]
json = false
`

func newInitCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an encrypted store and a default config",
		Example: "  pctrl init\n" +
			"  printf '%s\\n' \"$PASS\" | pctrl --passphrase-stdin init",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, deps, true, func(ctx context.Context, s session) error {
				yes := deps.globals != nil && deps.globals.Yes
				wrote, err := writeDefaultConfig(s.report.ConfigPath, yes)
				if err != nil {
					return err
				}
				status, err := s.registry.Status(ctx)
				if err != nil {
					return err
				}
				payload := map[string]any{
					"initialized":    true,
					"store_path":     status.Path,
					"store_id":       status.StoreID,
					"schema_version": status.SchemaVersion,
					"config_path":    s.report.ConfigPath,
					"config_written": wrote,
				}
				return printResult(deps, payload, func(w io.Writer) error {
					if _, err := fmt.Fprintf(w, "initialized store: %s\n", status.Path); err != nil {
						return err
					}
					if !wrote {
						return nil
					}
					_, err := fmt.Fprintf(w, "wrote config: %s\n", s.report.ConfigPath)
					return err
				})
			})
		},
	}
}

// writeDefaultConfig leaves an existing config alone unless overwrite is set.
func writeDefaultConfig(path string, overwrite bool) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, fmt.Errorf("%w: config path is required", app.ErrValidation)
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("init: stat config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("init: create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultInitConfig), 0o600); err != nil {
		return false, fmt.Errorf("init: write config: %w", err)
	}
	return true, nil
}
