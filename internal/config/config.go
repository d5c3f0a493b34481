// Package config loads siemd settings from an optional YAML file overlaid
// with SIEMD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Views     ViewsConfig     `yaml:"views"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy"`
	Health    HealthConfig    `yaml:"health"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	WebDir          string        `yaml:"web_dir"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	IngestTokenHash string        `yaml:"ingest_token_hash"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Backend is one of nano, sqlite or postgres.
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN             string        `yaml:"dsn"`
	MaxTableRows    int           `yaml:"max_table_rows"`
	Retention       time.Duration `yaml:"retention"`
	MaxRecords      int64         `yaml:"max_records"`
	Timeout         time.Duration `yaml:"timeout"`
	CleanerInterval time.Duration `yaml:"cleaner_interval"`
}

type IngestConfig struct {
	StrictConfidence *bool `yaml:"strict_confidence"`
}

type BroadcastConfig struct {
	Buffer       int           `yaml:"buffer"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	StaleTimeout time.Duration `yaml:"stale_timeout"`
}

type ViewsConfig struct {
	WindowSize int    `yaml:"window_size"`
	Timezone   string `yaml:"timezone"`
}

type TaxonomyConfig struct {
	Threats []string `yaml:"threats"`
}

type HealthConfig struct {
	DiskPath  string        `yaml:"disk_path"`
	CPUSample time.Duration `yaml:"cpu_sample"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const envPrefix = "SIEMD_"

// Load reads path (when non-empty), applies SIEMD_* overrides, fills defaults
// and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StrictConfidence reports the effective ingest.strict_confidence setting.
func (c *Config) StrictConfidence() bool {
	return c.Ingest.StrictConfidence == nil || *c.Ingest.StrictConfidence
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "nano"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "./data"
	}
	if c.Store.Backend == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(c.Store.DataDir, "siemd.db")
	}
	if c.Store.MaxTableRows == 0 {
		c.Store.MaxTableRows = 10000
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 5 * time.Second
	}
	if c.Store.CleanerInterval == 0 {
		c.Store.CleanerInterval = time.Hour
	}

	if c.Broadcast.Buffer == 0 {
		c.Broadcast.Buffer = 256
	}
	if c.Broadcast.Heartbeat == 0 {
		c.Broadcast.Heartbeat = 15 * time.Second
	}
	if c.Broadcast.StaleTimeout == 0 {
		c.Broadcast.StaleTimeout = 2 * time.Minute
	}

	if c.Views.WindowSize == 0 {
		c.Views.WindowSize = 10
	}
	if c.Views.Timezone == "" {
		c.Views.Timezone = "Local"
	}

	if len(c.Taxonomy.Threats) == 0 {
		c.Taxonomy.Threats = []string{
			"system_critical",
			"authentication_error",
			"filesystem_error",
			"network_error",
			"permission_error",
			"memory_error",
		}
	}

	if c.Health.CPUSample == 0 {
		c.Health.CPUSample = time.Second
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = 5 * time.Second
	}

	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "siemd.logs"
	}
	if c.AMQP.Prefetch == 0 {
		c.AMQP.Prefetch = 32
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "nano", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be nano, sqlite or postgres, got %q", c.Store.Backend)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative, got %s", c.Store.Retention)
	}
	if c.Store.MaxRecords < 0 {
		return fmt.Errorf("store.max_records must not be negative, got %d", c.Store.MaxRecords)
	}
	if c.Store.MaxTableRows < 0 || c.Store.Timeout < 0 || c.Store.CleanerInterval < 0 {
		return errors.New("store.max_table_rows, store.timeout and store.cleaner_interval must be positive")
	}
	if c.Broadcast.Buffer < 0 {
		return fmt.Errorf("broadcast.buffer must be positive, got %d", c.Broadcast.Buffer)
	}
	if c.Broadcast.Heartbeat < 0 || c.Broadcast.StaleTimeout < 0 {
		return errors.New("broadcast durations must be positive")
	}
	// subscribers are only touched on heartbeat, so a shorter stale timeout
	// would drop every idle stream
	if c.Broadcast.StaleTimeout < 2*c.Broadcast.Heartbeat {
		return fmt.Errorf("broadcast.stale_timeout must be at least twice broadcast.heartbeat, got %s with heartbeat %s",
			c.Broadcast.StaleTimeout, c.Broadcast.Heartbeat)
	}
	if c.Views.WindowSize < 0 {
		return fmt.Errorf("views.window_size must be positive, got %d", c.Views.WindowSize)
	}
	if _, err := time.LoadLocation(c.Views.Timezone); err != nil {
		return fmt.Errorf("views.timezone: %w", err)
	}
	if c.Health.CPUSample <= 0 {
		return fmt.Errorf("health.cpu_sample must be > 0, got %s", c.Health.CPUSample)
	}
	if c.Health.Timeout < 0 {
		return fmt.Errorf("health.timeout must be positive, got %s", c.Health.Timeout)
	}
	if c.AMQP.URL != "" && !strings.HasPrefix(c.AMQP.URL, "amqp://") && !strings.HasPrefix(c.AMQP.URL, "amqps://") {
		return fmt.Errorf("amqp.url must start with amqp:// or amqps://, got %q", c.AMQP.URL)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Location returns the time zone used to render view labels.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Views.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// applyEnv overlays SIEMD_* variables. Unset variables leave the file value alone.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := get(key); ok {
			*dst = splitList(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Server.Addr)
	str("WEB_DIR", &c.Server.WebDir)
	list("CORS_ORIGINS", &c.Server.CORSOrigins)
	str("INGEST_TOKEN_HASH", &c.Server.IngestTokenHash)

	str("STORE_BACKEND", &c.Store.Backend)
	str("DATA_DIR", &c.Store.DataDir)
	str("STORE_DSN", &c.Store.DSN)
	num("MAX_TABLE_ROWS", &c.Store.MaxTableRows)
	dur("RETENTION", &c.Store.Retention)
	if v, ok := get("MAX_RECORDS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_RECORDS: %w", envPrefix, err))
		} else {
			c.Store.MaxRecords = n
		}
	}
	dur("STORE_TIMEOUT", &c.Store.Timeout)

	if v, ok := get("STRICT_CONFIDENCE"); ok {
		b := parseBool(v)
		c.Ingest.StrictConfidence = &b
	}

	num("BROADCAST_BUFFER", &c.Broadcast.Buffer)
	dur("HEARTBEAT", &c.Broadcast.Heartbeat)

	num("WINDOW_SIZE", &c.Views.WindowSize)
	str("TIMEZONE", &c.Views.Timezone)
	list("THREATS", &c.Taxonomy.Threats)

	str("DISK_PATH", &c.Health.DiskPath)
	dur("CPU_SAMPLE", &c.Health.CPUSample)
	dur("HEALTH_TIMEOUT", &c.Health.Timeout)

	str("AMQP_URL", &c.AMQP.URL)
	str("AMQP_QUEUE", &c.AMQP.Queue)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
