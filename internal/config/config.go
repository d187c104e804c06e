package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Interceptor InterceptorConfig `yaml:"interceptor"`
	Filter      FilterConfig      `yaml:"filter"`
	Narration   NarrationConfig   `yaml:"narration"`
	Server      ServerConfig      `yaml:"server"`
	Stats       StatsConfig       `yaml:"stats"`
	Log         LogConfig         `yaml:"log"`
}

// InterceptorConfig controls how the interception executable is located,
// validated and torn down.
type InterceptorConfig struct {
	Executable       string         `yaml:"executable" env:"VALVOICE_INTERCEPTOR_EXECUTABLE"`
	SearchDirs       []string       `yaml:"search_dirs" env:"VALVOICE_INTERCEPTOR_SEARCH_DIRS" envSeparator:","`
	Warmup           time.Duration  `yaml:"warmup" env:"VALVOICE_INTERCEPTOR_WARMUP"`
	ValidationWindow time.Duration  `yaml:"validation_window" env:"VALVOICE_INTERCEPTOR_VALIDATION_WINDOW"`
	ValidationPoll   time.Duration  `yaml:"validation_poll" env:"VALVOICE_INTERCEPTOR_VALIDATION_POLL"`
	GracefulStop     time.Duration  `yaml:"graceful_stop" env:"VALVOICE_INTERCEPTOR_GRACEFUL_STOP"`
	ForcefulStop     time.Duration  `yaml:"forceful_stop" env:"VALVOICE_INTERCEPTOR_FORCEFUL_STOP"`
	DrainTimeout     time.Duration  `yaml:"drain_timeout" env:"VALVOICE_INTERCEPTOR_DRAIN_TIMEOUT"`
	KillByName       bool           `yaml:"kill_by_name" env:"VALVOICE_INTERCEPTOR_KILL_BY_NAME"`
	FatalCodes       map[int]string `yaml:"fatal_codes"`
}

type FilterConfig struct {
	GracePeriod        time.Duration `yaml:"grace_period" env:"VALVOICE_FILTER_GRACE_PERIOD"`
	DuplicateCacheSize int           `yaml:"duplicate_cache_size" env:"VALVOICE_FILTER_DUPLICATE_CACHE_SIZE"`
}

// NarrationConfig is the only section applied live when the config file
// changes on disk.
type NarrationConfig struct {
	Sources      string   `yaml:"sources" env:"VALVOICE_NARRATION_SOURCES"`
	Whispers     bool     `yaml:"whispers" env:"VALVOICE_NARRATION_WHISPERS"`
	IgnoredUsers []string `yaml:"ignored_users" env:"VALVOICE_NARRATION_IGNORED_USERS" envSeparator:","`
	ClutchMode   bool     `yaml:"clutch_mode" env:"VALVOICE_NARRATION_CLUTCH_MODE"`
	Disabled     bool     `yaml:"disabled" env:"VALVOICE_NARRATION_DISABLED"`
}

type ServerConfig struct {
	Enabled        bool     `yaml:"enabled" env:"VALVOICE_SERVER_ENABLED"`
	Host           string   `yaml:"host" env:"VALVOICE_SERVER_HOST"`
	Port           int      `yaml:"port" env:"VALVOICE_SERVER_PORT"`
	AuthToken      string   `yaml:"auth_token" env:"VALVOICE_SERVER_AUTH_TOKEN"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"VALVOICE_SERVER_ALLOWED_ORIGINS" envSeparator:","`
}

type StatsConfig struct {
	Dir          string        `yaml:"dir" env:"VALVOICE_STATS_DIR"`
	SaveInterval time.Duration `yaml:"save_interval" env:"VALVOICE_STATS_SAVE_INTERVAL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"VALVOICE_LOG_LEVEL"`
	Format string `yaml:"format" env:"VALVOICE_LOG_FORMAT"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Interceptor: InterceptorConfig{
			Executable:       "valvoice-mitm.exe",
			SearchDirs:       []string{".", "mitm"},
			ValidationWindow: 3 * time.Second,
			ValidationPoll:   100 * time.Millisecond,
			GracefulStop:     3 * time.Second,
			ForcefulStop:     2 * time.Second,
			DrainTimeout:     5 * time.Second,
			KillByName:       true,
			FatalCodes: map[int]string{
				409: "already running",
				404: "target app not found",
				500: "internal error",
			},
		},
		Filter: FilterConfig{
			GracePeriod:        60 * time.Second,
			DuplicateCacheSize: 100,
		},
		Narration: NarrationConfig{
			Sources: "SELF+PARTY+TEAM",
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8765,
		},
		Stats: StatsConfig{
			SaveInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and then applies
// VALVOICE_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	ic := c.Interceptor
	if ic.Executable == "" {
		errs = append(errs, errors.New("interceptor.executable must not be empty"))
	}
	if len(ic.SearchDirs) == 0 {
		errs = append(errs, errors.New("interceptor.search_dirs must list at least one directory"))
	}
	if ic.ValidationWindow <= 0 || ic.ValidationPoll <= 0 {
		errs = append(errs, errors.New("interceptor validation window and poll must be positive"))
	}
	if ic.ValidationPoll > ic.ValidationWindow {
		errs = append(errs, fmt.Errorf("interceptor.validation_poll %s exceeds validation_window %s", ic.ValidationPoll, ic.ValidationWindow))
	}
	if ic.GracefulStop <= 0 || ic.ForcefulStop <= 0 || ic.DrainTimeout <= 0 {
		errs = append(errs, errors.New("interceptor stop timeouts must be positive"))
	}
	if ic.Warmup < 0 {
		errs = append(errs, errors.New("interceptor.warmup must not be negative"))
	}
	if c.Filter.GracePeriod < 0 {
		errs = append(errs, errors.New("filter.grace_period must not be negative"))
	}
	if c.Filter.DuplicateCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("filter.duplicate_cache_size must be positive, got %d", c.Filter.DuplicateCacheSize))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Stats.SaveInterval <= 0 {
		errs = append(errs, errors.New("stats.save_interval must be positive"))
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be auto, console or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// IsFatalCode reports whether an interceptor error code aborts startup.
func (c *Config) IsFatalCode(code int) bool {
	return c.Interceptor.IsFatalCode(code)
}

func (c InterceptorConfig) IsFatalCode(code int) bool {
	_, ok := c.FatalCodes[code]
	return ok
}

// GenerateToken returns a random 16-byte hex token for the relay server.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Diff lists human-readable changes between the narration sections of two
// configs, in the order fields are declared.
func Diff(old, new *Config) []string {
	var changes []string
	o, n := old.Narration, new.Narration

	if o.Sources != n.Sources {
		changes = append(changes, fmt.Sprintf("narration.sources: %s → %s", o.Sources, n.Sources))
	}
	if o.Whispers != n.Whispers {
		changes = append(changes, fmt.Sprintf("narration.whispers: %t → %t", o.Whispers, n.Whispers))
	}
	if !slices.Equal(o.IgnoredUsers, n.IgnoredUsers) {
		changes = append(changes, fmt.Sprintf("narration.ignored_users: %v → %v", o.IgnoredUsers, n.IgnoredUsers))
	}
	if o.ClutchMode != n.ClutchMode {
		changes = append(changes, fmt.Sprintf("narration.clutch_mode: %t → %t", o.ClutchMode, n.ClutchMode))
	}
	if o.Disabled != n.Disabled {
		changes = append(changes, fmt.Sprintf("narration.disabled: %t → %t", o.Disabled, n.Disabled))
	}
	return changes
}
