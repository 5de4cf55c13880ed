// Package config loads client settings from flags, ODATA_* environment
// variables, a .env file and an optional config file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zmcp/odata-client/internal/client"
	"github.com/zmcp/odata-client/internal/codec"
	"github.com/zmcp/odata-client/internal/constants"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "ODATA"

// Config holds all configuration options for the OData client
type Config struct {
	// Service configuration
	ServiceURL string `mapstructure:"service_url"`

	// Authentication
	Username     string            `mapstructure:"username"`
	Password     string            `mapstructure:"password"`
	CookieFile   string            `mapstructure:"cookie_file"`
	CookieString string            `mapstructure:"cookie_string"`
	Cookies      map[string]string `mapstructure:"-"` // Parsed cookies

	// Wire format
	Format        string `mapstructure:"format"`   // atom or json
	MetadataLevel string `mapstructure:"metadata"` // full, minimal or none; empty picks the format's default
	KeyAsSegment  bool   `mapstructure:"key_as_segment"`
	LegacyDates   bool   `mapstructure:"legacy_dates"` // write JSON dates as /Date(ms)/
	CSRF          bool   `mapstructure:"csrf"`

	// Transport
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxResponseSize    int64         `mapstructure:"max_response_size"`
	MaxRetries         int           `mapstructure:"max_retries"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier"`
	RetryNonIdempotent bool          `mapstructure:"retry_non_idempotent"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"` // 0 disables the circuit breaker
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`

	// Output and debugging
	Verbose   bool   `mapstructure:"verbose"`
	LogFormat string `mapstructure:"log_format"` // text or json
	TraceFile string `mapstructure:"trace_file"`
}

// SetDefaults registers every key with its default, so that
// AutomaticEnv can see them all.
func SetDefaults(v *viper.Viper) {
	retry := client.DefaultRetryConfig()
	v.SetDefault("service_url", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("cookie_file", "")
	v.SetDefault("cookie_string", "")
	v.SetDefault("format", "json")
	v.SetDefault("metadata", "")
	v.SetDefault("key_as_segment", false)
	v.SetDefault("legacy_dates", false)
	v.SetDefault("csrf", true)
	v.SetDefault("timeout", time.Duration(constants.DefaultTimeout)*time.Second)
	v.SetDefault("max_response_size", constants.DefaultMaxResponseSize)
	v.SetDefault("max_retries", retry.MaxRetries)
	v.SetDefault("initial_backoff", retry.InitialBackoff)
	v.SetDefault("max_backoff", retry.MaxBackoff)
	v.SetDefault("backoff_multiplier", retry.BackoffMultiplier)
	v.SetDefault("retry_non_idempotent", false)
	v.SetDefault("breaker_failures", 5)
	v.SetDefault("breaker_timeout", 30*time.Second)
	v.SetDefault("verbose", false)
	v.SetDefault("log_format", "text")
	v.SetDefault("trace_file", "")
}

// BindEnv makes v read ODATA_<KEY> variables, plus the short aliases
// ODATA_URL, ODATA_USER and ODATA_PASS.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	aliases := map[string][]string{
		"service_url": {"ODATA_SERVICE_URL", "ODATA_URL"},
		"username":    {"ODATA_USERNAME", "ODATA_USER"},
		"password":    {"ODATA_PASSWORD", "ODATA_PASS"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Load unmarshals v, resolves cookie settings and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.loadCookies(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadCookies() error {
	switch {
	case c.CookieFile != "":
		cookies, err := LoadCookiesFromFile(c.CookieFile)
		if err != nil {
			return fmt.Errorf("failed to load cookies from %s: %w", c.CookieFile, err)
		}
		c.Cookies = cookies
	case c.CookieString != "":
		c.Cookies = ParseCookieString(c.CookieString)
		if len(c.Cookies) == 0 {
			return errors.New("failed to parse cookie string")
		}
	}
	return nil
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	f, err := codec.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	if c.MetadataLevel != "" {
		l, err := codec.ParseLevel(c.MetadataLevel)
		if err != nil {
			return err
		}
		if f == codec.FormatAtom && l != codec.LevelFull {
			return fmt.Errorf("atom always carries full metadata, got metadata level %q", c.MetadataLevel)
		}
	}
	if c.ServiceURL != "" && !strings.HasPrefix(c.ServiceURL, "http://") && !strings.HasPrefix(c.ServiceURL, "https://") {
		return fmt.Errorf("%s: %q", constants.ErrInvalidServiceURL, c.ServiceURL)
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.New("basic authentication needs both username and password")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1, got %g", c.BackoffMultiplier)
	}
	if c.InitialBackoff > c.MaxBackoff {
		return fmt.Errorf("initial_backoff %s exceeds max_backoff %s", c.InitialBackoff, c.MaxBackoff)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// RequireServiceURL fails when no service URL was configured.
func (c *Config) RequireServiceURL() error {
	if c.ServiceURL == "" {
		return errors.New("OData service URL not provided. Use --service, a positional argument, or ODATA_URL")
	}
	return nil
}

// Codec returns the configured format and metadata level.
func (c *Config) Codec() (codec.Format, codec.MetadataLevel, error) {
	f, err := codec.ParseFormat(c.Format)
	if err != nil {
		return 0, 0, err
	}
	if c.MetadataLevel == "" {
		if f == codec.FormatAtom {
			return f, codec.LevelFull, nil
		}
		return f, codec.LevelMinimal, nil
	}
	l, err := codec.ParseLevel(c.MetadataLevel)
	return f, l, err
}

// HasBasicAuth returns true if username and password are configured
func (c *Config) HasBasicAuth() bool {
	return c.Username != "" && c.Password != ""
}

// HasCookieAuth returns true if cookies are configured
func (c *Config) HasCookieAuth() bool {
	return len(c.Cookies) > 0
}

func (c *Config) RetryConfig() *client.RetryConfig {
	rc := client.DefaultRetryConfig()
	rc.MaxRetries = c.MaxRetries
	rc.InitialBackoff = c.InitialBackoff
	rc.MaxBackoff = c.MaxBackoff
	rc.BackoffMultiplier = c.BackoffMultiplier
	rc.RetryNonIdempotent = c.RetryNonIdempotent
	return rc
}

// ClientOptions translates the config into client options. Logger,
// telemetry and trace file are wired by the caller.
func (c *Config) ClientOptions() ([]client.Option, error) {
	f, l, err := c.Codec()
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithFormat(f, l),
		client.WithKeyAsSegment(c.KeyAsSegment),
		client.WithLegacyDates(c.LegacyDates),
		client.WithCSRF(c.CSRF),
		client.WithTimeout(c.Timeout),
		client.WithMaxResponseSize(c.MaxResponseSize),
		client.WithRetryConfig(c.RetryConfig()),
		client.WithCircuitBreaker(c.BreakerFailures, c.BreakerTimeout),
	}
	if c.HasBasicAuth() {
		opts = append(opts, client.WithBasicAuth(c.Username, c.Password))
	}
	if c.HasCookieAuth() {
		opts = append(opts, client.WithCookies(c.Cookies))
	}
	return opts, nil
}

// LoadCookiesFromFile reads a Netscape cookie file. Lines of the form
// name=value are accepted as well.
func LoadCookiesFromFile(cookieFile string) (map[string]string, error) {
	file, err := os.Open(cookieFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cookies := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// #HttpOnly_ prefixes a regular entry in curl's cookie jars.
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// domain, flag, path, secure, expiration, name, value
		if parts := strings.Split(line, "\t"); len(parts) >= 7 {
			cookies[parts[5]] = parts[6]
		} else if name, value, ok := strings.Cut(line, "="); ok {
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return cookies, scanner.Err()
}

// ParseCookieString parses "k1=v1; k2=v2".
func ParseCookieString(cookieString string) map[string]string {
	cookies := make(map[string]string)
	for _, cookie := range strings.Split(cookieString, ";") {
		if name, value, ok := strings.Cut(strings.TrimSpace(cookie), "="); ok && strings.TrimSpace(name) != "" {
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return cookies
}
