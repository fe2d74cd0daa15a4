package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hglenn2k/azf2s-bridge/internal/retry"
)

// Environment variables that override secret-bearing config fields, so
// credentials never have to live in the config file.
const (
	EnvUpstreamToken = "BRIDGE_UPSTREAM_TOKEN"
	EnvStorePassword = "BRIDGE_STORE_PASSWORD"
	EnvSessionKey    = "BRIDGE_SESSION_KEY"
)

// Upstream authentication strategies. "session" performs the per-user
// cookie+CSRF handshake against the forum; "bearer" attaches the shared API
// token instead and needs no cookies.
const (
	AuthSession = "session"
	AuthBearer  = "bearer"
)

type Config struct {
	Name     string         `json:"name" yaml:"name" validate:"required"`
	Debug    bool           `json:"debug" yaml:"debug"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
}

type ServerConfig struct {
	Port    int           `json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" default:"5s"`
}

type UpstreamConfig struct {
	// BaseURL is the single forum origin every request is forwarded to.
	BaseURL  string        `json:"base_url" yaml:"base_url" validate:"required,url"`
	Auth     string        `json:"auth" yaml:"auth" default:"session" validate:"oneof=session bearer"`
	APIToken string        `json:"api_token" yaml:"api_token"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" default:"10s"`
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl" default:"20m"`
}

type StoreConfig struct {
	Host        string        `json:"host" yaml:"host"`
	Port        int           `json:"port" yaml:"port" default:"6379"`
	Username    string        `json:"username" yaml:"username"`
	Password    string        `json:"password" yaml:"password"`
	DB          int           `json:"db" yaml:"db"`
	KeyPrefix   string        `json:"key_prefix" yaml:"key_prefix" default:"azf2s"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" default:"5s"`
	OpTimeout   time.Duration `json:"op_timeout" yaml:"op_timeout" default:"3s"`
}

type SessionConfig struct {
	SigningKey string        `json:"signing_key" yaml:"signing_key"`
	CookieName string        `json:"cookie_name" yaml:"cookie_name" default:"bridge_sid"`
	TTL        time.Duration `json:"ttl" yaml:"ttl" default:"24h"`
	Secure     bool          `json:"secure" yaml:"secure"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Provider string `json:"provider" yaml:"provider" default:"prometheus" validate:"oneof=prometheus otel"`
	// OTLPEndpoint additionally pushes metrics over OTLP when the otel
	// provider is selected. Empty keeps the prometheus endpoint only.
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

type RetryConfig struct {
	Store   PolicyConfig `json:"store" yaml:"store"`
	Network PolicyConfig `json:"network" yaml:"network"`
	Connect PolicyConfig `json:"connect" yaml:"connect"`
}

// PolicyConfig overrides individual fields of a preset retry policy. Zero
// fields keep the preset value.
type PolicyConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	JitterRatio   float64       `json:"jitter_ratio" yaml:"jitter_ratio"`
}

func (pc PolicyConfig) Apply(base retry.Policy) retry.Policy {
	if pc.MaxAttempts > 0 {
		base.MaxAttempts = pc.MaxAttempts
	}
	if pc.InitialDelay > 0 {
		base.InitialDelay = pc.InitialDelay
	}
	if pc.BackoffFactor >= 1 {
		base.BackoffFactor = pc.BackoffFactor
	}
	if pc.MaxDelay > 0 {
		base.MaxDelay = pc.MaxDelay
	}
	if pc.JitterRatio > 0 && pc.JitterRatio < 1 {
		base.JitterRatio = pc.JitterRatio
	}

	return base
}

// StorePolicy returns the store retry preset with config overrides applied.
func (c Config) StorePolicy() retry.Policy {
	return c.Retry.Store.Apply(retry.StorePolicy())
}

// NetworkPolicy returns the network retry preset with config overrides applied.
func (c Config) NetworkPolicy() retry.Policy {
	return c.Retry.Network.Apply(retry.NetworkPolicy())
}

// ConnectPolicy returns the connect retry preset with config overrides applied.
func (c Config) ConnectPolicy() retry.Policy {
	return c.Retry.Connect.Apply(retry.ConnectPolicy())
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read configuration file: %w", err)
	}

	var cfg Config

	switch filepath.Ext(path) {
	case ".json":
		if err = json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("cannot parse configuration file: %w", err)
		}
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("cannot parse configuration file: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unknown configuration file extension: %s", filepath.Ext(path))
	}

	if err = defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("cannot apply configuration defaults: %w", err)
	}

	applyEnv(&cfg)

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get(strings.TrimPrefix(filepath.Ext(path), "."))
		if name == "" || name == "-" {
			name = fld.Tag.Get("yaml")
		}
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}

		return strings.ToLower(strings.Split(name, ",")[0])
	})

	if err = v.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", formatValidationError(err))
	}

	if err = checkConsistency(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnv overlays secret fields from the environment. Environment values
// win over file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvUpstreamToken); v != "" {
		cfg.Upstream.APIToken = v
	}
	if v := os.Getenv(EnvStorePassword); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv(EnvSessionKey); v != "" {
		cfg.Session.SigningKey = v
	}
}

// checkConsistency enforces cross-field rules the tag validator cannot
// express.
func checkConsistency(cfg Config) error {
	if cfg.Upstream.Auth == AuthBearer && cfg.Upstream.APIToken == "" {
		return E(KindConfiguration, fmt.Errorf("upstream.auth is %q but no API token is set (upstream.api_token or %s)", AuthBearer, EnvUpstreamToken))
	}

	if cfg.Session.SigningKey == "" {
		return E(KindConfiguration, fmt.Errorf("session signing key is not set (session.signing_key or %s)", EnvSessionKey))
	}

	if cfg.Tracing.Enabled && cfg.Tracing.OTLPEndpoint == "" {
		return E(KindConfiguration, fmt.Errorf("tracing is enabled but no OTLP endpoint is set (tracing.otlp_endpoint)"))
	}

	return nil
}

func formatValidationError(err error) error {
	var ves validator.ValidationErrors

	if ok := errors.As(err, &ves); !ok {
		return err
	}

	var messages []string

	for _, fe := range ves {
		path := strings.TrimPrefix(fe.Namespace(), "Config.")

		messages = append(messages, fmt.Sprintf(
			"%s: %s",
			path,
			humanMessage(fe),
		))
	}

	return errors.New(strings.Join(messages, "\n"))
}

func humanMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"

	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())

	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())

	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())

	case "url":
		return "must be a valid URL"

	default:
		return fmt.Sprintf("validation failed on '%s'", fe.Tag())
	}
}
