package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bodiless/contentsync/internal/backendclient"
)

// DefaultPath is looked up in the working directory when no config file is
// named.
const DefaultPath = "bodiless.toml"

const (
	defaultAddr         = ":8001"
	defaultBackendURL   = "http://127.0.0.1:8001"
	defaultContentDSN   = "content"
	defaultMaxBodyBytes = 1 << 20
	defaultDebounce     = 2 * time.Second
	defaultLock         = 10 * time.Second
	defaultSaveTimeout  = 30 * time.Second
	defaultPollInterval = 5 * time.Second
	defaultPollJitter   = 0.2
	defaultContentDepth = 1
)

type Logger interface {
	Printf(format string, args ...any)
}

// Config holds the settings shared by the serve and edit commands.
type Config struct {
	Server ServerConfig
	Editor EditorConfig
}

type ServerConfig struct {
	Addr           string
	ContentDSN     string
	JWTSecret      string
	SchemaFile     string
	MaxBodyBytes   int64
	OriginPatterns []string
	// Watch publishes edits made directly to a file content store.
	Watch bool
}

type EditorConfig struct {
	BackendURL          string
	Token               string
	SaveEnabled         bool
	DebounceDelay       time.Duration
	LockDuration        time.Duration
	SaveTimeout         time.Duration
	PollInterval        time.Duration
	PollJitter          float64
	DefaultContentDir   string
	DefaultContentDepth int
}

type fileConfig struct {
	Server struct {
		Addr           string   `toml:"addr"`
		ContentDSN     string   `toml:"content_dsn"`
		JWTSecret      string   `toml:"jwt_secret"`
		SchemaFile     string   `toml:"schema_file"`
		MaxBodyBytes   int64    `toml:"max_body_bytes"`
		OriginPatterns []string `toml:"origin_patterns"`
		Watch          *bool    `toml:"watch"`
	} `toml:"server"`
	Editor struct {
		BackendURL          string   `toml:"backend_url"`
		Token               string   `toml:"token"`
		SaveEnabled         *bool    `toml:"save_enabled"`
		DebounceDelay       string   `toml:"debounce_delay"`
		LockDuration        string   `toml:"lock_duration"`
		SaveTimeout         string   `toml:"save_timeout"`
		PollInterval        string   `toml:"poll_interval"`
		PollJitter          *float64 `toml:"poll_jitter"`
		DefaultContentDir   string   `toml:"default_content_dir"`
		DefaultContentDepth *int     `toml:"default_content_depth"`
	} `toml:"editor"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         defaultAddr,
			ContentDSN:   defaultContentDSN,
			MaxBodyBytes: defaultMaxBodyBytes,
			Watch:        true,
		},
		Editor: EditorConfig{
			BackendURL:          defaultBackendURL,
			SaveEnabled:         true,
			DebounceDelay:       defaultDebounce,
			LockDuration:        defaultLock,
			SaveTimeout:         defaultSaveTimeout,
			PollInterval:        defaultPollInterval,
			PollJitter:          defaultPollJitter,
			DefaultContentDir:   ".",
			DefaultContentDepth: defaultContentDepth,
		},
	}
}

// Load reads the TOML file at path and then applies BODILESS_* environment
// overrides. A missing file is not an error when path is empty or the
// default name.
func Load(path string, logger Logger) (Config, error) {
	cfg := Default()
	explicit := strings.TrimSpace(path) != "" && path != DefaultPath
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.merge(raw); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Server.SchemaFile != "" && !filepath.IsAbs(cfg.Server.SchemaFile) {
			cfg.Server.SchemaFile = filepath.Join(filepath.Dir(path), cfg.Server.SchemaFile)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	env := envLoader{logger: logger}
	env.apply(&cfg)
	cfg.normalize()
	return cfg, nil
}

func (c *Config) merge(raw []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	setString(&c.Server.Addr, fc.Server.Addr)
	setString(&c.Server.ContentDSN, fc.Server.ContentDSN)
	setString(&c.Server.JWTSecret, fc.Server.JWTSecret)
	setString(&c.Server.SchemaFile, fc.Server.SchemaFile)
	if fc.Server.MaxBodyBytes > 0 {
		c.Server.MaxBodyBytes = fc.Server.MaxBodyBytes
	}
	if len(fc.Server.OriginPatterns) > 0 {
		c.Server.OriginPatterns = fc.Server.OriginPatterns
	}
	if fc.Server.Watch != nil {
		c.Server.Watch = *fc.Server.Watch
	}

	setString(&c.Editor.BackendURL, fc.Editor.BackendURL)
	setString(&c.Editor.Token, fc.Editor.Token)
	setString(&c.Editor.DefaultContentDir, fc.Editor.DefaultContentDir)
	if fc.Editor.SaveEnabled != nil {
		c.Editor.SaveEnabled = *fc.Editor.SaveEnabled
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"editor.debounce_delay", fc.Editor.DebounceDelay, &c.Editor.DebounceDelay},
		{"editor.lock_duration", fc.Editor.LockDuration, &c.Editor.LockDuration},
		{"editor.save_timeout", fc.Editor.SaveTimeout, &c.Editor.SaveTimeout},
		{"editor.poll_interval", fc.Editor.PollInterval, &c.Editor.PollInterval},
	} {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		value, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = value
	}
	if fc.Editor.PollJitter != nil {
		c.Editor.PollJitter = *fc.Editor.PollJitter
	}
	if fc.Editor.DefaultContentDepth != nil {
		c.Editor.DefaultContentDepth = *fc.Editor.DefaultContentDepth
	}
	return nil
}

func (c *Config) normalize() {
	defaults := Default()
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}
	if c.Editor.DebounceDelay <= 0 {
		c.Editor.DebounceDelay = defaults.Editor.DebounceDelay
	}
	if c.Editor.LockDuration <= 0 {
		c.Editor.LockDuration = defaults.Editor.LockDuration
	}
	if c.Editor.SaveTimeout <= 0 {
		c.Editor.SaveTimeout = defaults.Editor.SaveTimeout
	}
	if c.Editor.PollInterval <= 0 {
		c.Editor.PollInterval = defaults.Editor.PollInterval
	}
	if c.Editor.DefaultContentDepth < 0 {
		c.Editor.DefaultContentDepth = 0
	}
	c.Editor.PollJitter = backendclient.ClampJitterRatio(c.Editor.PollJitter)
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

type envLoader struct {
	logger Logger
}

func (e envLoader) apply(c *Config) {
	c.Server.Addr = envOrDefault("BODILESS_ADDR", c.Server.Addr)
	c.Server.ContentDSN = envOrDefault("BODILESS_CONTENT_DSN", c.Server.ContentDSN)
	c.Server.JWTSecret = envOrDefault("BODILESS_JWT_SECRET", c.Server.JWTSecret)
	c.Server.SchemaFile = envOrDefault("BODILESS_SCHEMA_FILE", c.Server.SchemaFile)
	c.Server.MaxBodyBytes = e.int64Env("BODILESS_MAX_BODY_BYTES", c.Server.MaxBodyBytes)
	if raw := envOrDefault("BODILESS_ORIGIN_PATTERNS", ""); raw != "" {
		c.Server.OriginPatterns = splitList(raw)
	}

	c.Editor.BackendURL = envOrDefault("BODILESS_BACKEND_URL", c.Editor.BackendURL)
	c.Editor.Token = envOrDefault("BODILESS_TOKEN", c.Editor.Token)
	// Any value other than "1" turns saving off; an empty value is unset.
	if raw := envOrDefault("BODILESS_BACKEND_SAVE_ENABLED", ""); raw != "" {
		c.Editor.SaveEnabled = raw == "1"
	}
	c.Editor.DebounceDelay = e.durationEnv("BODILESS_DEBOUNCE_DELAY", c.Editor.DebounceDelay)
	c.Editor.LockDuration = e.durationEnv("BODILESS_LOCK_DURATION", c.Editor.LockDuration)
	c.Editor.SaveTimeout = e.durationEnv("BODILESS_SAVE_TIMEOUT", c.Editor.SaveTimeout)
	c.Editor.PollInterval = e.durationEnv("BODILESS_POLL_INTERVAL", c.Editor.PollInterval)
	c.Editor.PollJitter = e.floatEnv("BODILESS_POLL_JITTER", c.Editor.PollJitter)
	c.Editor.DefaultContentDir = envOrDefault("BODILESS_DEFAULT_CONTENT_DIR", c.Editor.DefaultContentDir)
	c.Editor.DefaultContentDepth = e.intEnv("BODILESS_DEFAULT_CONTENT_DEPTH", c.Editor.DefaultContentDepth)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func (e envLoader) intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		e.logf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func (e envLoader) int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func (e envLoader) durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		e.logf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func (e envLoader) floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.logf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func (e envLoader) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
