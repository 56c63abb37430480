package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "browsercast",
		Short: "browsercast - remotely controllable streamed browser",
		Long: `browsercast holds one live headless-browser session, accepts control
commands (navigate, click, type, scroll, history) over HTTP, and streams the
session's rendered frames to any number of websocket viewers.

Features:
  • Single self-healing browser session
  • Poll or push (screencast) frame capture
  • Redundant-frame suppression
  • Per-viewer backpressure, freshest frame wins
  • Built-in web viewer with remote input
  • REST API for integration`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/browsercast/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("chrome-path", "", "browser executable location")
	rootCmd.PersistentFlags().String("landing-url", "", "default landing address")
	rootCmd.PersistentFlags().String("capture-mode", "", "frame capture mode (poll, push)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("chrome_path", rootCmd.PersistentFlags().Lookup("chrome-path"))
	viper.BindPFlag("landing_url", rootCmd.PersistentFlags().Lookup("landing-url"))
	viper.BindPFlag("capture_mode", rootCmd.PersistentFlags().Lookup("capture-mode"))

	viper.SetEnvPrefix("BROWSERCAST")
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
