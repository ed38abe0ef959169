// Package config loads and validates watcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Config captures all watcher configuration knobs loaded via Viper.
type Config struct {
	Portal   PortalConfig   `mapstructure:"portal"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Curl     CurlConfig     `mapstructure:"curl"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Line     LineConfig     `mapstructure:"line"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// PortalConfig describes the CKAN datastore being watched.
type PortalConfig struct {
	BaseURL       string   `mapstructure:"base_url"`
	APIKey        string   `mapstructure:"api_key"`
	ResourceID    string   `mapstructure:"resource_id"`
	Method        string   `mapstructure:"method"`
	SQLLimit      int      `mapstructure:"sql_limit"`
	KeywordLimit  int      `mapstructure:"keyword_limit"`
	Keywords      []string `mapstructure:"keywords"`
	MatchFields   []string `mapstructure:"match_fields"`
	DelegateURL   string   `mapstructure:"delegate_url"`
	DiscoveryTerm string   `mapstructure:"discovery_term"`
}

// HTTPConfig configures the primary transport.
type HTTPConfig struct {
	TimeoutSeconds    int               `mapstructure:"timeout_seconds"`
	UserAgent         string            `mapstructure:"user_agent"`
	Headers           map[string]string `mapstructure:"headers"`
	RandomUserAgent   bool              `mapstructure:"random_user_agent"`
	ForceHTTP2        bool              `mapstructure:"force_http2"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
}

// RetryConfig tunes the retrying fetcher.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	TransientStatuses []int         `mapstructure:"transient_statuses"`
}

// FallbackConfig lists the transports tried once each after the primary.
type FallbackConfig struct {
	Transports []string `mapstructure:"transports"`
}

// CurlConfig configures the out-of-process transport.
type CurlConfig struct {
	Path string `mapstructure:"path"`
}

// HeadlessConfig configures the browser transport.
type HeadlessConfig struct {
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// DefaultSignature closes every broadcast message. Set line.signature to ""
// in a config file to drop it.
const DefaultSignature = "(by Alieninburi)"

// LineConfig configures the LINE broadcast sink.
type LineConfig struct {
	Token          string `mapstructure:"token"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Signature      string `mapstructure:"signature"`
}

// SnapshotConfig selects where the snapshot lives.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// PubSubConfig holds metadata for the optional Pub/Sub sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// AMQPConfig holds metadata for the optional RabbitMQ sink.
type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// MetricsConfig controls metric export for one-shot runs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features and log shipping.
type LoggingConfig struct {
	Development bool         `mapstructure:"development"`
	Fluent      FluentConfig `mapstructure:"fluent"`
}

// FluentConfig points at a Fluent Bit / Fluentd forward input.
type FluentConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	TagPrefix string `mapstructure:"tag_prefix"`
}

// ServerConfig controls the delegating endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Legacy environment variable names honored alongside EGPWATCH_*.
const (
	EnvAPIKey     = "DATA_API_KEY"
	EnvResourceID = "DATA_RESOURCE_ID"
	EnvLineToken  = "LINE_TOKEN"
	EnvDelegate   = "EGP_PROXY_URL"
	EnvPort       = "PORT"
)

var legacyEnv = map[string]string{
	"portal.api_key":      EnvAPIKey,
	"portal.resource_id":  EnvResourceID,
	"portal.delegate_url": EnvDelegate,
	"line.token":          EnvLineToken,
	"server.port":         EnvPort,
}

// Load builds a Config from an optional file, .env files and the environment.
// With no path, egpwatch.{yaml,json,toml} is looked up in the working
// directory, /etc/egpwatch and $HOME/.egpwatch.
// With no envFiles, a .env in the working directory is read when present.
// Variables already set in the process win over .env values.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("EGPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		envKey := "EGPWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("egpwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/egpwatch/")
		v.AddConfigPath("$HOME/.egpwatch")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.base_url", "https://opend.data.go.th/get-ckan")
	v.SetDefault("portal.method", http.MethodGet)
	v.SetDefault("portal.sql_limit", 200)
	v.SetDefault("portal.keyword_limit", 100)
	v.SetDefault("portal.keywords", []string{"อินทร์บุรี", "สิงห์บุรี"})
	v.SetDefault("portal.match_fields", []string{"project_name", "prov_name", "dept_name"})
	v.SetDefault("portal.discovery_term", "จัดซื้อจัดจ้าง")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("http.headers", map[string]string{
		"Referer":         "https://data.go.th/",
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "th-TH,th;q=0.9,en;q=0.8",
	})
	v.SetDefault("http.random_user_agent", false)
	v.SetDefault("http.force_http2", false)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.transient_statuses", []int{429, 500, 502, 503, 504})
	v.SetDefault("fallback.transports", []string{"curl"})
	v.SetDefault("curl.path", "curl")
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("line.endpoint", "https://api.line.me/v2/bot/message/broadcast")
	v.SetDefault("line.timeout_seconds", 15)
	v.SetDefault("line.signature", DefaultSignature)
	v.SetDefault("snapshot.backend", "local")
	v.SetDefault("snapshot.path", "data.json")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.gcs_object", "data.json")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "egpwatch")
	v.SetDefault("amqp.routing_key", "announcements")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "egpwatch")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.fluent.host", "")
	v.SetDefault("logging.fluent.port", 24224)
	v.SetDefault("logging.fluent.tag_prefix", "egpwatch")
	v.SetDefault("server.port", 8080)
}

var (
	knownFallbacks = []string{"curl", "headless"}
	knownBackends  = []string{"local", "gcs", "memory"}
)

// Validate enforces sane values. It does not check secrets; see RequireRun.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must be >= 0")
	}
	method := strings.ToUpper(c.Portal.Method)
	if method != http.MethodGet && method != http.MethodPost {
		return fmt.Errorf("portal.method must be GET or POST, got %q", c.Portal.Method)
	}
	if strings.TrimSpace(c.Portal.BaseURL) == "" {
		return fmt.Errorf("portal.base_url must be set")
	}
	for _, name := range c.Fallback.Transports {
		if !slices.Contains(knownFallbacks, strings.ToLower(name)) {
			return fmt.Errorf("fallback.transports: unknown transport %q", name)
		}
	}
	if !slices.Contains(knownBackends, strings.ToLower(c.Snapshot.Backend)) {
		return fmt.Errorf("snapshot.backend must be one of %v", knownBackends)
	}
	if strings.EqualFold(c.Snapshot.Backend, "gcs") && c.Snapshot.GCSBucket == "" {
		return fmt.Errorf("snapshot.gcs_bucket must be set when snapshot.backend is gcs")
	}
	return nil
}

// RequireRun checks the inputs a pipeline run cannot start without.
func (c Config) RequireRun() error {
	return requireFields(
		field{c.Portal.APIKey, EnvAPIKey},
		field{c.Portal.ResourceID, EnvResourceID},
		field{c.Line.Token, EnvLineToken},
	)
}

// RequireProxy checks the inputs the delegating endpoint needs.
func (c Config) RequireProxy() error {
	return requireFields(
		field{c.Portal.APIKey, EnvAPIKey},
		field{c.Portal.ResourceID, EnvResourceID},
	)
}

// RequireResolve checks the inputs resource discovery needs.
func (c Config) RequireResolve() error {
	return requireFields(field{c.Portal.APIKey, EnvAPIKey})
}

type field struct {
	value string
	env   string
}

func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.env)
		}
	}
	if len(missing) > 0 {
		return &procurement.ConfigMissingError{Keys: missing}
	}
	return nil
}

// Timeout returns the primary transport timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Header returns the configured disguise headers in canonical form.
func (c HTTPConfig) Header() http.Header {
	h := http.Header{}
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// Timeout returns the per-delivery LINE timeout.
func (c LineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation budget.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}
