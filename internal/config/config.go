package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"sigscan/internal/signature"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	Storage StorageConfig `yaml:"storage"`
	Updater UpdaterConfig `yaml:"updater"`
	Scanner ScannerConfig `yaml:"scanner"`
	ScanLog ScanLogConfig `yaml:"scan_log"`
	History HistoryConfig `yaml:"history"`
}

type StorageConfig struct {
	Path        string        `yaml:"path" env:"SIGSCAN_DB_PATH" env-default:"signatures.db"`
	Algorithm   string        `yaml:"algorithm" env:"SIGSCAN_ALGORITHM" env-default:"md5"`
	OpenTimeout time.Duration `yaml:"open_timeout" env-default:"5s"`
}

type UpdaterConfig struct {
	URLTemplate     string        `yaml:"url_template" env:"SIGSCAN_UPDATE_URL" env-default:"https://virusshare.com/hashfiles/VirusShare_%05d.md5"`
	Workers         int           `yaml:"workers" env:"SIGSCAN_UPDATE_WORKERS" env-default:"4"`
	Window          int           `yaml:"window" env-default:"8"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env-default:"30s"`
	MaxRetries      int           `yaml:"max_retries" env-default:"3"`
	InitialInterval time.Duration `yaml:"initial_interval" env-default:"500ms"`
	MaxInterval     time.Duration `yaml:"max_interval" env-default:"10s"`
	MaxBatches      int           `yaml:"max_batches" env-default:"0"`
}

type ScannerConfig struct {
	// Workers = 0 uses one worker per CPU.
	Workers   int      `yaml:"workers" env:"SIGSCAN_SCAN_WORKERS" env-default:"0"`
	BlockSize int      `yaml:"block_size" env-default:"131072"`
	Exclude   []string `yaml:"exclude" env:"SIGSCAN_EXCLUDE" env-separator:","`
	// IgnoredHashes are catalog entries treated as false positives.
	IgnoredHashes []string `yaml:"ignored_hashes" env:"SIGSCAN_IGNORED_HASHES" env-separator:","`
	EarlyStop     bool     `yaml:"early_stop" env:"SIGSCAN_EARLY_STOP" env-default:"false"`
	CountFirst    bool     `yaml:"count_first" env-default:"true"`
}

type ScanLogConfig struct {
	Enabled bool   `yaml:"enabled" env:"SIGSCAN_SCAN_LOG" env-default:"true"`
	Dir     string `yaml:"dir" env:"SIGSCAN_SCAN_LOG_DIR" env-default:"logs"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" env:"SIGSCAN_HISTORY" env-default:"true"`
	Path    string `yaml:"path" env:"SIGSCAN_HISTORY_PATH" env-default:"history.sqlite"`
}

// Load reads the config file at configPath with env overrides.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("cannot read env config: %w", err)
		}
	} else {
		// check if file exists
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configPath)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Default returns the built-in defaults with environment overrides applied.
func Default() *Config {
	return MustLoad("")
}

// ResolvePath picks the config file path.
// Priority: flag > env > none.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}
	if _, err := c.Algorithm(); err != nil {
		return err
	}
	if !strings.Contains(c.Updater.URLTemplate, "%") {
		return fmt.Errorf("updater.url_template %q has no index verb", c.Updater.URLTemplate)
	}
	if c.Updater.Workers < 0 || c.Scanner.Workers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}
	if c.Updater.MaxBatches < 0 {
		return fmt.Errorf("updater.max_batches must not be negative")
	}
	if _, err := c.IgnoredFingerprints(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Algorithm() (signature.Algorithm, error) {
	return signature.ParseAlgorithm(c.Storage.Algorithm)
}

// IgnoredFingerprints decodes scanner.ignored_hashes for the configured algorithm.
func (c *Config) IgnoredFingerprints() ([]signature.Fingerprint, error) {
	alg, err := c.Algorithm()
	if err != nil {
		return nil, err
	}

	out := make([]signature.Fingerprint, 0, len(c.Scanner.IgnoredHashes))
	for _, h := range c.Scanner.IgnoredHashes {
		fp, err := signature.ParseFingerprint(h, alg)
		if err != nil {
			return nil, fmt.Errorf("scanner.ignored_hashes: %w", err)
		}
		out = append(out, fp)
	}
	return out, nil
}
