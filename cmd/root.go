package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chat-relay/internal/config"
)

var (
	// Global flags
	cfgFile string
	envFile string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "chat-relay",
	Short: "Relay chat turns to an assistant over the vendor's thread/run API",
	Long: `chat-relay forwards a conversation turn to a hosted assistant and returns its reply.

Without a subcommand it runs the Lambda runtime when AWS_LAMBDA_RUNTIME_API is
set and the HTTP server otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
			return lambdaCmd.RunE(cmd, args)
		}
		return serveCmd.RunE(cmd, args)
	},
}

// Execute runs the root command and logs any terminal error.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Error().Err(err).Msg("chat-relay exited with error")
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded when present")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json or console)")
	rootCmd.PersistentFlags().String("mode", "", "reply mode (thread or completion)")

	_ = v.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag(config.KeyReplyMode, rootCmd.PersistentFlags().Lookup("mode"))

	rootCmd.AddCommand(serveCmd, lambdaCmd, askCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(v, config.LoadOptions{ConfigFile: cfgFile, EnvFile: envFile})
}
