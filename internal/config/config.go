package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultLogMaxSizeMB = 10
	defaultLogMaxFiles  = 5
	storeFileName       = "pctrl.db"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
	Output  OutputConfig  `toml:"output"`
}

type StoreConfig struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type OutputConfig struct {
	JSON bool `toml:"json"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	StorePath *string
	LogLevel  *string
	JSON      *bool
}

// LoadReport says where the configuration came from.
type LoadReport struct {
	ConfigPath string
	FileLoaded bool
}

func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Path:        "",
			BusyTimeout: defaultBusyTimeout,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			Format:    defaultLogFormat,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
		Output: OutputConfig{
			JSON: false,
		},
	}
}

// Load layers defaults, the TOML file, PCTRL_* environment variables and flag
// overrides, in that order. An empty store path is resolved to the platform
// data directory.
func Load(opts LoadOptions) (Config, LoadReport, error) {
	cfg := DefaultConfig()
	report := LoadReport{}

	configPath, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, report, fmt.Errorf("resolve config path: %w", err)
	}
	report.ConfigPath = configPath
	loaded, err := loadAndApplyFile(configPath, &cfg)
	if err != nil {
		return Config{}, report, err
	}
	report.FileLoaded = loaded

	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, report, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if cfg.Store.Path == "" {
		home, err := pctrlHome(opts)
		if err != nil {
			return Config{}, report, fmt.Errorf("resolve store path: %w", err)
		}
		cfg.Store.Path = filepath.Join(home, storeFileName)
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	if err := validate(cfg); err != nil {
		return Config{}, report, err
	}

	return cfg, report, nil
}

type rawConfig struct {
	Store   *rawStore   `toml:"store"`
	Logging *rawLogging `toml:"logging"`
	Output  *rawOutput  `toml:"output"`
}

type rawStore struct {
	Path        *string `toml:"path"`
	BusyTimeout *string `toml:"busy_timeout"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	Format    *string `toml:"format"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

type rawOutput struct {
	JSON *bool `toml:"json"`
}

func loadAndApplyFile(path string, cfg *Config) (bool, error) {
	if path == "" {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	if err := applyRawConfig(cfg, raw); err != nil {
		return false, err
	}
	return true, nil
}

func applyRawConfig(cfg *Config, raw rawConfig) error {
	if raw.Store != nil {
		setString(raw.Store.Path, &cfg.Store.Path)
		if err := setDuration("store.busy_timeout", raw.Store.BusyTimeout, &cfg.Store.BusyTimeout); err != nil {
			return err
		}
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.Format, &cfg.Logging.Format)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}

	if raw.Output != nil && raw.Output.JSON != nil {
		cfg.Output.JSON = *raw.Output.JSON
	}

	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "PCTRL_STORE_PATH"); ok {
		cfg.Store.Path = value
	}
	if value, ok := lookupEnv(opts, "PCTRL_STORE_BUSY_TIMEOUT"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse PCTRL_STORE_BUSY_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.Store.BusyTimeout = d
	}

	if value, ok := lookupEnv(opts, "PCTRL_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "PCTRL_LOG_FORMAT"); ok {
		cfg.Logging.Format = value
	}
	if value, ok := lookupEnv(opts, "PCTRL_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := lookupEnv(opts, "PCTRL_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse PCTRL_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := lookupEnv(opts, "PCTRL_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse PCTRL_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}

	if value, ok := lookupEnv(opts, "PCTRL_OUTPUT_JSON"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: parse PCTRL_OUTPUT_JSON: %v", ErrInvalidConfig, err)
		}
		cfg.Output.JSON = parsed
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.StorePath != nil && *flags.StorePath != "" {
		cfg.Store.Path = *flags.StorePath
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.JSON != nil {
		cfg.Output.JSON = *flags.JSON
	}
}

func validate(cfg Config) error {
	if cfg.Store.BusyTimeout <= 0 || cfg.Store.BusyTimeout > 5*time.Minute {
		return fmt.Errorf("%w: store.busy_timeout must be > 0 and <= 5m", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be one of debug, info, warn, error", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalidConfig)
	}
	if cfg.Logging.MaxSizeMB <= 0 || cfg.Logging.MaxFiles < 0 {
		return fmt.Errorf("%w: logging.max_size_mb must be > 0 and logging.max_files >= 0", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "PCTRL_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath(opts)
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

// pctrlHome is the directory that holds the store by default.
func pctrlHome(opts LoadOptions) (string, error) {
	if value, ok := lookupEnv(opts, "PCTRL_HOME"); ok && value != "" {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "pctrl"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookupEnv(opts, "XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "pctrl"), nil
}

func defaultConfigPath(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "pctrl", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := lookupEnv(opts, "XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "pctrl", "config.toml"), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
