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

const (
	DefaultSecretPath = "/var/lib/zerotier-one/identity.secret"
	DefaultPublicPath = "/var/lib/zerotier-one/identity.public"
)

type Config struct {
	Identity  IdentityConfig
	Generate  GenerateConfig
	Admission AdmissionConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

type IdentityConfig struct {
	SecretPath string
	PublicPath string
	Passphrase string
}

type GenerateConfig struct {
	// Workers <= 0 means one per CPU.
	Workers int
}

type AdmissionConfig struct {
	VerifyAddress bool
	RatePerSecond float64
	Burst         int
	IdleTTL       time.Duration
	CacheSize     int
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	ListenAddress string
}

func Default() Config {
	return Config{
		Identity: IdentityConfig{
			SecretPath: DefaultSecretPath,
			PublicPath: DefaultPublicPath,
		},
		Admission: AdmissionConfig{
			VerifyAddress: true,
			RatePerSecond: 4,
			Burst:         8,
			IdleTTL:       10 * time.Minute,
			CacheSize:     1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// fileConfig mirrors Config with pointer fields so unset keys keep their defaults.
type fileConfig struct {
	Identity struct {
		SecretPath string `yaml:"secretPath"`
		PublicPath string `yaml:"publicPath"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"identity"`
	Generate struct {
		Workers *int `yaml:"workers"`
	} `yaml:"generate"`
	Admission struct {
		VerifyAddress *bool         `yaml:"verifyAddress"`
		RatePerSecond *float64      `yaml:"ratePerSecond"`
		Burst         *int          `yaml:"burst"`
		IdleTTL       time.Duration `yaml:"idleTTL"`
		CacheSize     *int          `yaml:"cacheSize"`
	} `yaml:"admission"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

// LoadFromPath reads configPath, or the first readable default location when it is empty.
// A missing default file is not an error; an explicit path that cannot be read or parsed is.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{"ztid.yaml", filepath.Join("configs", "ztid.yaml")}
	explicit := strings.TrimSpace(configPath) != ""
	if explicit {
		candidates = []string{configPath}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func merge(dst *Config, src fileConfig) {
	if src.Identity.SecretPath != "" {
		dst.Identity.SecretPath = src.Identity.SecretPath
	}
	if src.Identity.PublicPath != "" {
		dst.Identity.PublicPath = src.Identity.PublicPath
	}
	if src.Identity.Passphrase != "" {
		dst.Identity.Passphrase = src.Identity.Passphrase
	}
	if src.Generate.Workers != nil {
		dst.Generate.Workers = *src.Generate.Workers
	}
	if src.Admission.VerifyAddress != nil {
		dst.Admission.VerifyAddress = *src.Admission.VerifyAddress
	}
	if src.Admission.RatePerSecond != nil {
		dst.Admission.RatePerSecond = *src.Admission.RatePerSecond
	}
	if src.Admission.Burst != nil {
		dst.Admission.Burst = *src.Admission.Burst
	}
	if src.Admission.IdleTTL != 0 {
		dst.Admission.IdleTTL = src.Admission.IdleTTL
	}
	if src.Admission.CacheSize != nil {
		dst.Admission.CacheSize = *src.Admission.CacheSize
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
	if src.Metrics.ListenAddress != "" {
		dst.Metrics.ListenAddress = src.Metrics.ListenAddress
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ZTID_IDENTITY_PATH")); v != "" {
		cfg.Identity.SecretPath = v
	}
	if v := strings.TrimSpace(os.Getenv("ZTID_IDENTITY_PUBLIC_PATH")); v != "" {
		cfg.Identity.PublicPath = v
	}
	if v := os.Getenv("ZTID_IDENTITY_PASSPHRASE"); v != "" {
		cfg.Identity.Passphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("ZTID_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ZTID_METRICS_ADDR")); v != "" {
		cfg.Metrics.ListenAddress = v
	}
	if raw := strings.TrimSpace(os.Getenv("ZTID_VERIFY_ADDRESS")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Admission.VerifyAddress = v
		}
	}
}

func (c Config) Validate() error {
	if c.Generate.Workers < 0 {
		return fmt.Errorf("generate.workers must not be negative: %d", c.Generate.Workers)
	}
	if c.Admission.RatePerSecond < 0 || c.Admission.Burst < 0 || c.Admission.CacheSize < 0 || c.Admission.IdleTTL < 0 {
		return errors.New("admission limits must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
