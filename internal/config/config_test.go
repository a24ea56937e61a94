package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigPrecedenceFlagOverEnv(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[store]
path = "/srv/file.db"
`)

	flagPath := "/srv/flag.db"
	cfg, _, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env: map[string]string{
			"PCTRL_STORE_PATH": "/srv/env.db",
		},
		Flags: FlagOverrides{
			StorePath: &flagPath,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "/srv/flag.db", cfg.Store.Path)
}

func TestLoadConfigPrecedenceEnvOverFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[store]
busy_timeout = "10s"
`)

	cfg, _, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env: map[string]string{
			"PCTRL_HOME":               t.TempDir(),
			"PCTRL_STORE_BUSY_TIMEOUT": "20s",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, cfg.Store.BusyTimeout)
}

func TestLoadConfigPrecedenceFileOverDefault(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[store]
busy_timeout = "10s"
`)

	cfg, report, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env:        map[string]string{"PCTRL_HOME": t.TempDir()},
	})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.Store.BusyTimeout)
	require.True(t, report.FileLoaded)
	require.Equal(t, cfgPath, report.ConfigPath)
}

func TestLoadConfigFromTOMLParsesAllSupportedFields(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[store]
path = "/tmp/pctrl-test/registry.db"
busy_timeout = "2s"

[logging]
level = "debug"
format = "json"
file = "/tmp/pctrl.log"
max_size_mb = 42
max_files = 9

[output]
json = true
`)

	cfg, _, err := Load(LoadOptions{
		ConfigPath: cfgPath,
	})
	require.NoError(t, err)
	require.Equal(t, "/tmp/pctrl-test/registry.db", cfg.Store.Path)
	require.Equal(t, 2*time.Second, cfg.Store.BusyTimeout)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "/tmp/pctrl.log", cfg.Logging.File)
	require.Equal(t, 42, cfg.Logging.MaxSizeMB)
	require.Equal(t, 9, cfg.Logging.MaxFiles)
	require.True(t, cfg.Output.JSON)
}

func TestLoadConfigDefaultStorePathUnderHome(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg, report, err := Load(LoadOptions{
		ConfigPath: filepath.Join(t.TempDir(), "missing.toml"),
		Env:        map[string]string{"PCTRL_HOME": home},
	})
	require.NoError(t, err)
	require.False(t, report.FileLoaded)
	require.Equal(t, filepath.Join(home, "pctrl.db"), cfg.Store.Path)
	require.Equal(t, DefaultConfig().Store.BusyTimeout, cfg.Store.BusyTimeout)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigDefaultStorePathFollowsXDGDataHome(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "darwin" {
		t.Skip("macOS uses Application Support")
	}

	dataHome := t.TempDir()
	cfg, _, err := Load(LoadOptions{
		ConfigPath: filepath.Join(t.TempDir(), "missing.toml"),
		Env: map[string]string{
			"PCTRL_HOME":    "",
			"XDG_DATA_HOME": dataHome,
		},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dataHome, "pctrl", "pctrl.db"), cfg.Store.Path)
}

func TestLoadConfigValidationRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		contents string
	}{
		{name: "negative-busy-timeout", contents: "[store]\nbusy_timeout = \"-1s\"\n"},
		{name: "huge-busy-timeout", contents: "[store]\nbusy_timeout = \"1h\"\n"},
		{name: "unparsable-busy-timeout", contents: "[store]\nbusy_timeout = \"soon\"\n"},
		{name: "bad-level", contents: "[logging]\nlevel = \"loud\"\n"},
		{name: "bad-format", contents: "[logging]\nformat = \"xml\"\n"},
		{name: "zero-size", contents: "[logging]\nmax_size_mb = 0\n"},
		{name: "bad-toml", contents: "[store\npath = 1\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfgPath := writeConfigFile(t, tt.contents)
			_, _, err := Load(LoadOptions{
				ConfigPath: cfgPath,
				Env:        map[string]string{"PCTRL_HOME": t.TempDir()},
			})
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigEnvParseErrors(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"PCTRL_STORE_BUSY_TIMEOUT", "PCTRL_LOG_MAX_SIZE_MB", "PCTRL_LOG_MAX_FILES", "PCTRL_OUTPUT_JSON"} {
		_, _, err := Load(LoadOptions{
			ConfigPath: filepath.Join(t.TempDir(), "missing.toml"),
			Env: map[string]string{
				"PCTRL_HOME": t.TempDir(),
				key:          "not-a-value",
			},
		})
		require.ErrorIs(t, err, ErrInvalidConfig, key)
	}
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[output]
json = true
`)

	cfg, report, err := Load(LoadOptions{
		Env: map[string]string{
			"PCTRL_CONFIG_PATH": cfgPath,
			"PCTRL_HOME":        t.TempDir(),
		},
	})
	require.NoError(t, err)
	require.True(t, cfg.Output.JSON)
	require.Equal(t, cfgPath, report.ConfigPath)

	noJSON := false
	cfg, _, err = Load(LoadOptions{
		Env: map[string]string{
			"PCTRL_CONFIG_PATH": cfgPath,
			"PCTRL_HOME":        t.TempDir(),
		},
		Flags: FlagOverrides{JSON: &noJSON},
	})
	require.NoError(t, err)
	require.False(t, cfg.Output.JSON)
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	return p
}
