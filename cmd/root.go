package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/internal/config"
	"github.com/RockyZHH/MediaCrawler/internal/observability"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "mediacrawler",
	Short:         "mediacrawler drives the xiaohongshu private web API through a live browser session.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Initialize configuration loading (Viper).
		if err := initializeConfig(); err != nil {
			basicLogger, _ := zap.NewDevelopment()
			basicLogger.Error("Failed to initialize configuration", zap.Error(err))
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 2. Unmarshal the configuration.
		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "mediacrawler"})
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// 3. Validate the configuration.
		if err := cfg.Validate(); err != nil {
			observability.InitializeLogger(cfg.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 4. Store the configuration globally.
		config.Set(&cfg)

		// 5. Initialize the logger.
		observability.InitializeLogger(cfg.Logger)
		logger := observability.GetLogger()
		logger.Debug("Starting mediacrawler", zap.String("version", Version))

		return nil
	},
}

// Execute adds all child commands to the root command and runs it with the
// context passed from main.go for graceful shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			// context.Canceled during shutdown is expected, not a failure.
			if ctx.Err() == nil {
				logger.Error("Command execution failed", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(commentsCmd)
	rootCmd.AddCommand(subCommentsCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(publishCmd)
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig() error {
	// Set default values so the app can run with a minimal config.
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MEDIACRAWLER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicitly bind the knobs operators most often set from the environment.
	_ = viper.BindEnv("network.proxy_url", "MEDIACRAWLER_NETWORK_PROXY_URL")
	_ = viper.BindEnv("browser.sign_script_file", "MEDIACRAWLER_BROWSER_SIGN_SCRIPT_FILE")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; parse failures are not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
