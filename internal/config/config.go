package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAPGRID_"

const (
	defaultContractPath    = "contracts/request.hcl"
	defaultListenAddr      = ":8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultPipeline        = "payment"
	defaultLookupTimeout   = 2 * time.Second
	defaultRulesTimeout    = 2 * time.Second
	defaultNotifyTimeout   = 2 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// DefaultFileCandidates are tried in order when no config file is named.
var DefaultFileCandidates = []string{
	"dapgrid.yaml",
	"configs/dapgrid.yaml",
}

// Config is the complete runtime configuration.
type Config struct {
	ModulesPaths    []string      `yaml:"modulesPaths"`
	ContractPath    string        `yaml:"contractPath"`
	Pipeline        string        `yaml:"pipeline"`
	ListenAddr      string        `yaml:"listen"`
	LogLevel        string        `yaml:"logLevel"`
	LogFormat       string        `yaml:"logFormat"`
	LookupTimeout   time.Duration `yaml:"lookupTimeout"`
	RulesTimeout    time.Duration `yaml:"rulesTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimitRPS    float64       `yaml:"rateLimitRps"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
	NotifyURL       string        `yaml:"notifyUrl"`
	NotifyTimeout   time.Duration `yaml:"notifyTimeout"`
}

// Default returns the built-in configuration. Rate limiting is off.
func Default() Config {
	return Config{
		ContractPath:    defaultContractPath,
		Pipeline:        defaultPipeline,
		ListenAddr:      defaultListenAddr,
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
		LookupTimeout:   defaultLookupTimeout,
		RulesTimeout:    defaultRulesTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		NotifyTimeout:   defaultNotifyTimeout,
	}
}

// Load builds a configuration from the defaults, a YAML file and the
// environment. A named file must exist; the default candidates are skipped
// when missing. Validation is left to the caller so flags can still apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	} else {
		for _, candidate := range DefaultFileCandidates {
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := LoadFile(candidate, &cfg); err != nil {
				return Config{}, err
			}
			break
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file onto cfg. Unknown keys
// are rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays DAPGRID_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if v := env("MODULES_PATH"); v != "" {
		cfg.ModulesPaths = SplitList(v)
	}
	if v := env("CONTRACT"); v != "" {
		cfg.ContractPath = v
	}
	if v := env("PIPELINE"); v != "" {
		cfg.Pipeline = v
	}
	if v := env("LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := env("NOTIFY_URL"); v != "" {
		cfg.NotifyURL = v
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"LOOKUP_TIMEOUT", &cfg.LookupTimeout},
		{"RULES_TIMEOUT", &cfg.RulesTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"NOTIFY_TIMEOUT", &cfg.NotifyTimeout},
	}
	for _, d := range durations {
		v := env(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, d.name, err)
		}
		*d.dst = parsed
	}

	if v := env("RATE_LIMIT_RPS"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		cfg.RateLimitRPS = parsed
	}
	if v := env("RATE_LIMIT_BURST"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT_BURST: %w", EnvPrefix, err)
		}
		cfg.RateLimitBurst = parsed
	}
	return nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ContractPath) == "" {
		return errors.New("contract path is required")
	}
	if strings.TrimSpace(c.Pipeline) == "" {
		return errors.New("pipeline name is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen address is required")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", c.LogFormat)
	}

	if c.LookupTimeout < 0 || c.RulesTimeout < 0 || c.NotifyTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst == 0 {
		return errors.New("rate limit burst must be positive when a rate is set")
	}

	if c.NotifyURL != "" {
		u, err := url.Parse(c.NotifyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid notify URL %q: must be absolute", c.NotifyURL)
		}
	}
	return nil
}
