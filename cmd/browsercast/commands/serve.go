package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/browsercast/internal/api"
	"github.com/bryanchriswhite/browsercast/internal/browser"
	"github.com/bryanchriswhite/browsercast/internal/config"
	"github.com/bryanchriswhite/browsercast/internal/logger"
	"github.com/bryanchriswhite/browsercast/internal/pipeline"
	"github.com/bryanchriswhite/browsercast/internal/session"
	"github.com/bryanchriswhite/browsercast/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the browsercast server",
	Long: `Start the browsercast server: one managed browser session, a control API,
and a websocket frame stream.

The browser launches lazily on the first control command or the first attached
viewer, and re-initializes itself after backend failures.`,
	Example: `  # Start server on default port (8080)
  browsercast serve

  # Start server on custom port with push-mode capture
  browsercast serve --port 9090 --capture-mode push

  # Start with a specific browser binary and landing page
  browsercast serve --chrome-path /usr/bin/chromium --landing-url https://example.com

  # Start with debug logging
  browsercast serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	applyOverrides(configMgr)

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("capture_mode", string(cfg.Capture.Mode)).
		Int("port", cfg.ServerPort).
		Msg("Starting browsercast")

	launcher := browser.NewChromeLauncher(browser.Options{
		ExecPath: cfg.Browser.ExecPath,
		Width:    cfg.Browser.ViewportWidth,
		Height:   cfg.Browser.ViewportHeight,
		Quality:  cfg.Capture.Quality,
	})

	sessions := session.NewManager(launcher, cfg.Browser)
	gateway := stream.NewGateway(cfg.Stream.QueueDepth)

	capturer, err := pipeline.New(cfg, sessions, gateway)
	if err != nil {
		return err
	}
	if err := capturer.Start(); err != nil {
		return fmt.Errorf("failed to start %s capture: %w", capturer.Name(), err)
	}

	server := api.NewServer(sessions, gateway)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	log.Info().
		Str("viewer", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("browsercast is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	if err := capturer.Stop(); err != nil {
		log.Warn().Err(err).Msg("Capturer stop failed")
	}
	gateway.Close()
	sessions.Shutdown()
	return nil
}

// applyOverrides layers flag/env values set through viper over the file config
func applyOverrides(configMgr *config.Manager) {
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	if viper.IsSet("chrome_path") {
		if path := viper.GetString("chrome_path"); path != "" {
			configMgr.SetChromePath(path)
		}
	}
	if viper.IsSet("landing_url") {
		if url := viper.GetString("landing_url"); url != "" {
			configMgr.SetLandingURL(url)
		}
	}
	if viper.IsSet("capture_mode") {
		if mode := viper.GetString("capture_mode"); mode != "" {
			configMgr.SetCaptureMode(mode)
		}
	}
}
