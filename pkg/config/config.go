// Package config loads client configuration from defaults, an optional YAML
// file and FETCH_-prefixed environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jzx17/deadlinefetch/pkg/retry"
)

// EnvPrefix marks environment variables read by Load
const EnvPrefix = "FETCH_"

const (
	// ModeService enforces inbound deadlines
	ModeService = "service"
	// ModeLocal disables deadline enforcement for interactive use
	ModeLocal = "local"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete client configuration
type Config struct {
	Client ClientConfig `koanf:"client"`
	Retry  RetryConfig  `koanf:"retry"`
	Log    LogConfig    `koanf:"log"`
}

// ClientConfig configures the HTTP client itself
type ClientConfig struct {
	BaseURL string `koanf:"baseurl" validate:"omitempty,url"`
	Mode    string `koanf:"mode" validate:"oneof=service local"`

	// RateLimit is in requests per second; 0 disables pacing
	RateLimit float64 `koanf:"ratelimit" validate:"gte=0"`
	Burst     int     `koanf:"burst" validate:"gte=1"`
}

// RetryConfig mirrors retry.Policy
type RetryConfig struct {
	MaxRetries        int           `koanf:"maxretries" validate:"gte=0"`
	BaseDelay         time.Duration `koanf:"basedelay" validate:"gte=0"`
	MaxDelay          time.Duration `koanf:"maxdelay" validate:"gtefield=BaseDelay"`
	PerAttemptTimeout time.Duration `koanf:"perattempttimeout" validate:"gt=0"`
}

// LogConfig configures the zerolog logger
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

// Load builds a Config. path names an optional YAML file; an empty path skips
// it, while a path that cannot be read is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(envprovider.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		Client: ClientConfig{Mode: ModeService, Burst: 1},
		Retry: RetryConfig{
			MaxRetries:        p.MaxRetries,
			BaseDelay:         p.BaseDelay,
			MaxDelay:          p.MaxDelay,
			PerAttemptTimeout: p.PerAttemptTimeout,
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"client.baseurl":          d.Client.BaseURL,
		"client.mode":             d.Client.Mode,
		"client.ratelimit":        d.Client.RateLimit,
		"client.burst":            d.Client.Burst,
		"retry.maxretries":        d.Retry.MaxRetries,
		"retry.basedelay":         d.Retry.BaseDelay.String(),
		"retry.maxdelay":          d.Retry.MaxDelay.String(),
		"retry.perattempttimeout": d.Retry.PerAttemptTimeout.String(),
		"log.level":               d.Log.Level,
		"log.pretty":              d.Log.Pretty,
	}
}

// envKey maps FETCH_RETRY_MAXRETRIES to retry.maxretries
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and returns an error wrapping ErrInvalidConfig
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Local reports whether deadline enforcement is disabled
func (c *Config) Local() bool {
	return c.Client.Mode == ModeLocal
}

// RetryPolicy converts the retry section into a validated policy
func (c *Config) RetryPolicy() (retry.Policy, error) {
	return retry.NewPolicy(
		retry.WithMaxRetries(c.Retry.MaxRetries),
		retry.WithBaseDelay(c.Retry.BaseDelay),
		retry.WithMaxDelay(c.Retry.MaxDelay),
		retry.WithPerAttemptTimeout(c.Retry.PerAttemptTimeout),
	)
}
