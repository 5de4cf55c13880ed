package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zmcp/odata-client/internal/client"
	"github.com/zmcp/odata-client/internal/config"
	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/debug"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "odata",
	Short: "OData v3 client - build URIs, fetch and convert Atom and JSON payloads",
	Long: `OData v3 client - build URIs, fetch and convert Atom and JSON payloads.

Examples:
  odata uri --service https://services.odata.org/V3/OData/OData.svc Products --key 1 --nav Supplier
  odata get --service https://services.odata.org/V3/OData/OData.svc Products --top 2 --output atom
  odata get --format atom Products --key 1 --property Name
  odata convert product.json --entity-set Products --to atom
  odata metadata --service https://my-sap-service.com/sap/opu/odata/sap/SERVICE_NAME/`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			return nil
		}
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return nil
	},
}

// flag name -> config key
var flagKeys = map[string]string{
	"service":              "service_url",
	"user":                 "username",
	"password":             "password",
	"cookie-file":          "cookie_file",
	"cookie-string":        "cookie_string",
	"format":               "format",
	"metadata":             "metadata",
	"key-as-segment":       "key_as_segment",
	"legacy-dates":         "legacy_dates",
	"csrf":                 "csrf",
	"timeout":              "timeout",
	"max-response-size":    "max_response_size",
	"max-retries":          "max_retries",
	"initial-backoff":      "initial_backoff",
	"max-backoff":          "max_backoff",
	"backoff-multiplier":   "backoff_multiplier",
	"retry-non-idempotent": "retry_non_idempotent",
	"breaker-failures":     "breaker_failures",
	"breaker-timeout":      "breaker_timeout",
	"verbose":              "verbose",
	"log-format":           "log_format",
	"trace-file":           "trace_file",
}

func init() {
	// Load .env file if it exists
	godotenv.Load()

	config.SetDefaults(viper.GetViper())
	retry := client.DefaultRetryConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")

	// Service and authentication
	flags.String("service", "", "URL of the OData service (overrides ODATA_SERVICE_URL and ODATA_URL)")
	flags.StringP("user", "u", "", "Username for basic authentication (overrides ODATA_USERNAME env var)")
	flags.StringP("password", "p", "", "Password for basic authentication (overrides ODATA_PASSWORD env var)")
	flags.String("cookie-file", "", "Path to cookie file in Netscape format")
	flags.String("cookie-string", "", "Cookie string (key1=val1; key2=val2)")

	// Wire format
	flags.String("format", "json", "Wire format: 'atom' or 'json'")
	flags.String("metadata", "", "JSON metadata level: 'full', 'minimal' or 'none' (default: minimal, full for atom)")
	flags.Bool("key-as-segment", false, "Address entities as /Set/key instead of /Set(key)")
	flags.Bool("legacy-dates", false, "Write JSON dates as /Date(ms)/")
	flags.Bool("csrf", true, "Fetch and send X-CSRF-Token on modifying requests")

	// Transport
	flags.Duration("timeout", time.Duration(constants.DefaultTimeout)*time.Second, "HTTP request timeout")
	flags.Int64("max-response-size", constants.DefaultMaxResponseSize, "Maximum response size in bytes")
	flags.Int("max-retries", retry.MaxRetries, "Retries for failed idempotent requests")
	flags.Duration("initial-backoff", retry.InitialBackoff, "Delay before the first retry")
	flags.Duration("max-backoff", retry.MaxBackoff, "Upper bound for retry delays, Retry-After included")
	flags.Float64("backoff-multiplier", retry.BackoffMultiplier, "Growth factor between retries")
	flags.Bool("retry-non-idempotent", false, "Also retry POST, PATCH and MERGE")
	flags.Uint32("breaker-failures", 5, "Consecutive failures that open the circuit breaker (0 disables it)")
	flags.Duration("breaker-timeout", 30*time.Second, "How long an open circuit breaker rejects requests")

	// Output and debugging
	flags.BoolP("verbose", "v", false, "Enable debug logging to stderr")
	flags.String("log-format", "text", "Log format: 'text' or 'json'")
	flags.String("trace-file", "", "Append every HTTP exchange as a JSON line to this file")

	for name, key := range flagKeys {
		viper.BindPFlag(key, flags.Lookup(name))
	}

	// Set up environment variable mapping
	if err := config.BindEnv(viper.GetViper()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newURICmd(), newGetCmd(), newCallCmd(), newConvertCmd(), newMetadataCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// session is a configured client plus the resources to release after
// the command ran.
type session struct {
	cfg    *config.Config
	client *client.Client
	logger *slog.Logger
	trace  *debug.TraceLogger
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireServiceURL(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	opts, err := cfg.ClientOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, client.WithLogger(logger))

	s := &session{cfg: cfg, logger: logger}
	if cfg.TraceFile != "" {
		s.trace, err = debug.NewTraceLogger(cfg.TraceFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithTraceLogger(s.trace))
		logger.Info("tracing HTTP exchanges", "file", s.trace.Filename())
	}

	s.client, err = client.New(cfg.ServiceURL, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	logger.Debug("client ready",
		"service", debug.URL(cfg.ServiceURL),
		"format", cfg.Format,
		"basic_auth", cfg.HasBasicAuth(),
		"cookies", len(cfg.Cookies))
	return s, nil
}

func (s *session) Close() {
	if s.trace != nil {
		s.trace.Close()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "\n--- FATAL ERROR ---\n")
		fmt.Fprintf(os.Stderr, "%s\n", strings.TrimSpace(err.Error()))
		fmt.Fprintf(os.Stderr, "-------------------\n")
		stop()
		os.Exit(1)
	}
}
