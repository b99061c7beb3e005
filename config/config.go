package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultPath = "./config.toml"

// Config is the process configuration. The top-level keys match the
// config.toml layout deployed with the service.
type Config struct {
	IP             string `toml:"ip"`
	Port           int    `toml:"port"`
	DataPath       string `toml:"data_path"`
	ExplorerAPIURL string `toml:"explorer_api_url"`

	Oracle  OracleConfig  `toml:"oracle"`
	Storage StorageConfig `toml:"storage"`
	Window  WindowConfig  `toml:"window"`
	Log     LogConfig     `toml:"log"`
}

// OracleConfig controls signature verification.
type OracleConfig struct {
	Timeout      Duration `toml:"timeout"`
	Formats      []string `toml:"formats"`
	EnableEIP191 bool     `toml:"enable_eip191"`
}

// StorageConfig selects the ballot store backend.
type StorageConfig struct {
	Driver      string `toml:"driver"` // "file" or "postgres"
	PostgresDSN string `toml:"postgres_dsn"`
}

// WindowConfig bounds when submissions are accepted. Zero values leave the
// corresponding side open.
type WindowConfig struct {
	OpensAt  time.Time `toml:"opens_at"`
	ClosesAt time.Time `toml:"closes_at"`
}

// LogConfig sets the logger level and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ConfigError reports an unusable configuration. It is fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		IP:       "0.0.0.0",
		Port:     8080,
		DataPath: "./data",
		Oracle: OracleConfig{
			Timeout: Duration{10 * time.Second},
			Formats: []string{"plain"},
		},
		Storage: StorageConfig{Driver: "file"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the TOML file at path on top of the defaults, then applies
// BALLOT_* environment overrides and validates the result. A missing file is
// only an error when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) || required {
				return Config{}, &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BALLOT_IP"); v != "" {
		cfg.IP = v
	}
	if v := os.Getenv("BALLOT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "BALLOT_PORT", Err: err}
		}
		cfg.Port = port
	}
	if v := os.Getenv("BALLOT_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("BALLOT_EXPLORER_API_URL"); v != "" {
		cfg.ExplorerAPIURL = v
	}
	if v := os.Getenv("BALLOT_ORACLE_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigError{Field: "BALLOT_ORACLE_TIMEOUT", Err: err}
		}
		cfg.Oracle.Timeout = Duration{timeout}
	}
	if v := os.Getenv("BALLOT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("BALLOT_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("BALLOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BALLOT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// Validate reports the first unusable field as a *ConfigError.
func (c Config) Validate() error {
	if net.ParseIP(c.IP) == nil {
		return &ConfigError{Field: "ip", Err: fmt.Errorf("invalid address %q", c.IP)}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Err: fmt.Errorf("out of range: %d", c.Port)}
	}
	if strings.TrimSpace(c.DataPath) == "" {
		return &ConfigError{Field: "data_path", Err: errors.New("required")}
	}
	if len(c.Oracle.Formats) > 0 {
		u, err := url.Parse(c.ExplorerAPIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: "explorer_api_url", Err: fmt.Errorf("invalid url %q", c.ExplorerAPIURL)}
		}
	}
	if c.Oracle.Timeout.Duration <= 0 {
		return &ConfigError{Field: "oracle.timeout", Err: errors.New("must be positive")}
	}
	if len(c.Oracle.Formats) == 0 && !c.Oracle.EnableEIP191 {
		return &ConfigError{Field: "oracle.formats", Err: errors.New("no signature format enabled")}
	}
	switch c.Storage.Driver {
	case "file":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return &ConfigError{Field: "storage.postgres_dsn", Err: errors.New("required for postgres driver")}
		}
	default:
		return &ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", c.Storage.Driver)}
	}
	if !c.Window.OpensAt.IsZero() && !c.Window.ClosesAt.IsZero() && !c.Window.ClosesAt.After(c.Window.OpensAt) {
		return &ConfigError{Field: "window", Err: errors.New("closes_at must be after opens_at")}
	}
	return nil
}

// ListenAddr is the host:port the HTTP server binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}
