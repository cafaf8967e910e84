package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/hosting/internal/daemon"
	"github.com/psantana5/hosting/pkg/logging"
)

var (
	cfgFile      string
	outputFormat string
	asAdmin      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hostingd",
	Short: "Liveness canary and session supervisor for a hosted server",
	Long: `hostingd keeps a liveness timestamp ("canary") and the process id of a
running server session in its storage directory, so external supervision
tools can tell whether the server is alive and which process to act on.

The canary can be switched off and on at runtime; the switch is stored in
Hosting.cfg and survives restarts.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	daemon.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hostingd.yaml or /etc/hostingd/hostingd.yaml)")
	rootCmd.PersistentFlags().String("storage", "", "storage directory for canary, pid and Hosting.cfg (default ./data)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit JSON log lines")

	viper.BindPFlag("storage_path", rootCmd.PersistentFlags().Lookup("storage"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hostingd")
		viper.SetConfigName("hostingd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HOSTING")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// loadSettings decodes the merged flag/env/file settings.
func loadSettings() (*daemon.Settings, error) {
	return daemon.LoadSettings(viper.GetViper())
}

// newLogger builds the console logger used by operator commands.
func newLogger(s *daemon.Settings) *logging.Logger {
	logger := logging.NewLogger(logging.ParseLevel(s.LogLevel), s.LogJSON)
	logger.SetOutput(os.Stderr)
	return logger
}
