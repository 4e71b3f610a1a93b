// Package cmd implements the CLI commands for hbctl.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/superyu1337/handbrake-go/internal/config"
	"github.com/superyu1337/handbrake-go/internal/observability"
	"github.com/superyu1337/handbrake-go/internal/version"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     version.ApplicationName,
	Short:   "Run and monitor HandBrakeCLI encodes",
	Version: version.Short(),
	Long: `hbctl drives HandBrakeCLI. It builds command lines from typed options,
runs encodes while reporting progress, the job configuration and log
output as they happen, and can cancel or kill an encode at any time.

Encodes can be run directly, in batches from a YAML manifest, through the
HTTP API of "hbctl serve", or from a Kafka topic with "hbctl worker".`,
	SilenceUsage: true,
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode returns the exit status for an error returned by Execute.
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) && ee.code > 0 {
		return ee.code
	}
	return 1
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// set here rather than in the literal: initLogging reads rootCmd's flags
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Not bound to viper: an explicit flag wins, otherwise env and config
	// file apply. See initLogging.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.hbctl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	rootCmd.PersistentFlags().String("handbrake", "", "HandBrakeCLI executable (default is $"+handbrake.BinaryEnvVar+", then PATH)")
	rootCmd.PersistentFlags().String("database", "", "database DSN (default is hbctl.db)")
	rootCmd.PersistentFlags().Int("max-concurrent", 0, "maximum number of concurrent encodes")
	mustBindPFlag("handbrake.binary_path", rootCmd.PersistentFlags().Lookup("handbrake"))
	mustBindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("database"))
	mustBindPFlag("runner.max_concurrent", rootCmd.PersistentFlags().Lookup("max-concurrent"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hbctl")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.hbctl")
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
			os.Exit(1)
		}
	}
}

// initLogging configures the default slog logger. Logs always go to stderr
// so that stdout stays usable for encoded media.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (HBCTL_LOGGING_LEVEL, HBCTL_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, text)
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		logCfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		logCfg.Format, _ = flags.GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	slog.SetDefault(observability.NewLoggerWithWriter(logCfg, os.Stderr))
	return nil
}

// loadConfig decodes the configuration assembled by initConfig, including
// any command flags bound with mustBindPFlag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
