// Package config loads shipyard.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen         string `yaml:"listen"`
	DataDir        string `yaml:"data_dir"`
	BlacklistFile  string `yaml:"blacklist_file"`
	LedgerDB       string `yaml:"ledger_db"`
	ShipsDir       string `yaml:"ships_dir"`
	AuditDir       string `yaml:"audit_dir"`
	PrototypesFile string `yaml:"prototypes_file"`

	Load      LoadConfig      `yaml:"load"`
	Transport TransportConfig `yaml:"transport"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Fleet     FleetConfig     `yaml:"fleet"`
}

// FleetConfig shares load history between servers when RedisURL is set.
type FleetConfig struct {
	RedisURL     string `yaml:"redis_url"`
	LoadTTLHours int    `yaml:"load_ttl_hours"`
}

type LoadConfig struct {
	HookDelayMS          int  `yaml:"hook_delay_ms"`
	WarnThreshold        int  `yaml:"warn_threshold"`
	RejectDuplicateLoads bool `yaml:"reject_duplicate_loads"`
}

type TransportConfig struct {
	LoadRatePerSec float64 `yaml:"load_rate_per_sec"`
	LoadBurst      int     `yaml:"load_burst"`
	MaxMessageKB   int     `yaml:"max_message_kb"`
}

// MirrorConfig enables off-site copies of archived ships when Endpoint and Bucket are
// set. Credentials come only from the environment.
type MirrorConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Workers  int    `yaml:"workers"`

	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

func (m MirrorConfig) Enabled() bool {
	return strings.TrimSpace(m.Endpoint) != "" && strings.TrimSpace(m.Bucket) != ""
}

const (
	EnvDataDir         = "SHIPYARD_DATA_DIR"
	EnvListen          = "SHIPYARD_LISTEN"
	EnvMirrorAccessKey = "SHIPYARD_MIRROR_ACCESS_KEY_ID"
	EnvMirrorSecretKey = "SHIPYARD_MIRROR_SECRET_ACCESS_KEY"
	EnvRedisURL        = "SHIPYARD_REDIS_URL"
)

func Defaults() Config {
	return Config{
		Listen:         ":8080",
		DataDir:        "./data",
		BlacklistFile:  "blacklist.json",
		LedgerDB:       "ledger.sqlite",
		ShipsDir:       "ships",
		AuditDir:       "audit",
		PrototypesFile: "configs/prototypes.yaml",
		Load: LoadConfig{
			HookDelayMS:   500,
			WarnThreshold: 5,
		},
		Transport: TransportConfig{
			LoadRatePerSec: 1,
			LoadBurst:      3,
			MaxMessageKB:   4096,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("shipyard.yaml: %w", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("shipyard.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDataDir)); v != "" {
		c.DataDir = v
	}
	if v := strings.TrimSpace(getenv(EnvListen)); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisURL)); v != "" {
		c.Fleet.RedisURL = v
	}
	if v := strings.TrimSpace(getenv(EnvMirrorAccessKey)); v != "" {
		c.Mirror.AccessKeyID = v
	}
	if v := strings.TrimSpace(getenv(EnvMirrorSecretKey)); v != "" {
		c.Mirror.SecretAccessKey = v
	}
}

// Normalize resolves data files relative to DataDir and fills zero values.
func (c *Config) Normalize() {
	d := Defaults()
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	c.BlacklistFile = c.underData(c.BlacklistFile, d.BlacklistFile)
	c.LedgerDB = c.underData(c.LedgerDB, d.LedgerDB)
	c.ShipsDir = c.underData(c.ShipsDir, d.ShipsDir)
	c.AuditDir = c.underData(c.AuditDir, d.AuditDir)
	if strings.TrimSpace(c.PrototypesFile) == "" {
		c.PrototypesFile = d.PrototypesFile
	}
	if c.Load.HookDelayMS <= 0 {
		c.Load.HookDelayMS = d.Load.HookDelayMS
	}
	if c.Load.WarnThreshold <= 0 {
		c.Load.WarnThreshold = d.Load.WarnThreshold
	}
	if c.Transport.LoadBurst <= 0 {
		c.Transport.LoadBurst = d.Transport.LoadBurst
	}
	if c.Transport.MaxMessageKB <= 0 {
		c.Transport.MaxMessageKB = d.Transport.MaxMessageKB
	}
}

func (c *Config) underData(p, fallback string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = fallback
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.Transport.LoadRatePerSec <= 0 {
		return fmt.Errorf("transport.load_rate_per_sec must be > 0")
	}
	if c.Load.HookDelayMS > 60_000 {
		return fmt.Errorf("load.hook_delay_ms too large: %d", c.Load.HookDelayMS)
	}
	if c.Mirror.Enabled() && (c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "") {
		return fmt.Errorf("mirror enabled but %s/%s are not set", EnvMirrorAccessKey, EnvMirrorSecretKey)
	}
	if c.Fleet.LoadTTLHours < 0 {
		return fmt.Errorf("fleet.load_ttl_hours must be >= 0")
	}
	return nil
}

func (c Config) LoadTTL() time.Duration {
	return time.Duration(c.Fleet.LoadTTLHours) * time.Hour
}

func (c Config) HookDelay() time.Duration {
	return time.Duration(c.Load.HookDelayMS) * time.Millisecond
}
