package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aluiziolira/go-order-history/config"
)

var (
	cfgFile string
	envFile string
	v       = newViper()
	rootCmd = &cobra.Command{
		Use:   "orderhistory",
		Short: "Extract purchase records from an online order history",
		Long: `orderhistory signs in to a shopping account through a browser session,
walks the yearly order history pages and exports one record per purchased unit
within a date range.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	defaults := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./orderhistory.yaml)")
	flags.StringVar(&envFile, "env-file", "", "dotenv file providing ORDERS_EMAIL and ORDERS_PASSWORD")
	flags.BoolP("verbose", "v", defaults.Verbose, "Enable verbose logging")
	flags.String("base-url", defaults.BaseURL, "Storefront base URL")
	flags.String("driver", defaults.Driver, "Browser driver: http, webdriver, or rod")
	flags.String("webdriver-url", defaults.WebDriverURL, "WebDriver server address")
	flags.String("profile-root", defaults.ProfileRoot, "Directory holding browser profiles")
	flags.String("profile", defaults.Profile, "Browser profile name; each profile keeps its own cookies")
	flags.Bool("headless", defaults.Headless, "Run the browser without a window")
	flags.Duration("timeout", defaults.Timeout, "Per-request timeout")
	flags.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	for _, name := range []string{"verbose", "base-url", "driver", "webdriver-url", "profile-root", "profile", "headless", "timeout", "metrics-addr"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(yearsCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, rootCmd)
	stop()

	if err != nil {
		os.Exit(1)
	}
}

// execute runs cmd under ctx. The context is only done at this point when a
// signal interrupted the command.
func execute(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if ctx.Err() != nil {
		slog.Info("shutdown signal received, abandoned the current extraction")
	}
	return err
}

// newViper returns a viper instance reading ORDERS_* variables with the
// defaults of config.DefaultConfig.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ORDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := config.DefaultConfig()
	v.SetDefault("base-url", d.BaseURL)
	v.SetDefault("driver", d.Driver)
	v.SetDefault("webdriver-url", d.WebDriverURL)
	v.SetDefault("profile-root", d.ProfileRoot)
	v.SetDefault("profile", d.Profile)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("user-agent", d.UserAgent)
	v.SetDefault("date-layout", d.DateLayout)
	v.SetDefault("max-pages", d.MaxPages)
	v.SetDefault("dedupe-size", d.DedupeMaxSize)
	v.SetDefault("retries", d.MaxRetries)
	v.SetDefault("retry-backoff", d.RetryBackoff)
	v.SetDefault("retry-backoff-max", d.RetryBackoffMax)
	v.SetDefault("buffer-size", d.PipelineBufferSize)
	v.SetDefault("batch-size", d.BatchSize)
	v.SetDefault("output", d.OutputFile)
	v.SetDefault("format", d.OutputFormat)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("metrics-addr", d.MetricsAddr)
	// Credentials only come from the environment or the config file.
	v.SetDefault("email", "")
	v.SetDefault("password", "")
	return v
}

func initConfig(_ *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("orderhistory")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger, level := newLogger(v.GetBool("verbose"))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
	return nil
}

// loadConfig assembles a Config from flags, environment, config file and
// defaults, in that order of precedence.
func loadConfig(v *viper.Viper) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = v.GetString("base-url")
	cfg.Driver = strings.ToLower(v.GetString("driver"))
	cfg.WebDriverURL = v.GetString("webdriver-url")
	cfg.ProfileRoot = v.GetString("profile-root")
	cfg.Profile = v.GetString("profile")
	cfg.Headless = v.GetBool("headless")
	cfg.Timeout = v.GetDuration("timeout")
	cfg.UserAgent = v.GetString("user-agent")
	cfg.Email = v.GetString("email")
	cfg.Password = v.GetString("password")
	cfg.Start = v.GetString("start")
	cfg.End = v.GetString("end")
	cfg.DateLayout = v.GetString("date-layout")
	cfg.MaxPages = v.GetInt("max-pages")
	cfg.DedupeMaxSize = v.GetInt("dedupe-size")
	cfg.MaxRetries = v.GetInt("retries")
	cfg.RetryBackoff = v.GetDuration("retry-backoff")
	cfg.RetryBackoffMax = v.GetDuration("retry-backoff-max")
	cfg.PipelineBufferSize = v.GetInt("buffer-size")
	cfg.BatchSize = v.GetInt("batch-size")
	cfg.OutputFile = v.GetString("output")
	cfg.OutputFormat = strings.ToLower(v.GetString("format"))
	cfg.Verbose = v.GetBool("verbose")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	return cfg
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), level
}
