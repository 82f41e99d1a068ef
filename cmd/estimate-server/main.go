// Command estimate-server serves the estimate HTTP API on a plain listener.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/collision-estimator/internal/app"
	"github.com/fpang/collision-estimator/internal/config"
	"github.com/fpang/collision-estimator/internal/httpapi"
	"github.com/fpang/collision-estimator/internal/logging"
)

// CLI flags
var (
	configFlag   string
	addrFlag     string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "estimate-server",
	Short: "HTTP API for vehicle damage detection and repair estimates",
	Long: `estimate-server exposes damage detection, side classification, case
indexing, similar-case search and estimate generation over HTTP.

Every route except GET /health requires an x-api-key header matching one of
server.api_keys (or API_KEYS). Without keys authentication is disabled.

Examples:
  estimate-server
  estimate-server --config config.yaml --addr :9000`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides config)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	initStart := time.Now()
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	logging.Init(cfg.LogLevel, false)

	a, err := app.Build(cmd.Context(), cfg, app.Options{})
	if err != nil {
		return err
	}
	opts := httpapi.Options{
		Pipeline:         a.Pipeline,
		APIKeys:          cfg.Server.APIKeys,
		GeminiConfigured: a.ModelConfigured(),
	}
	if a.Retriever != nil {
		opts.Vectors = a.Retriever
	}

	a.Describe(logging.NewStartupLogger("estimate-server")).
		LogLevel(cfg.LogLevel).
		Config("addr", cfg.Server.Addr).
		Config("model", cfg.Gemini.Model).
		InitDuration(time.Since(initStart)).
		Log()

	return httpapi.New(opts).Serve(cmd.Context(), cfg.Server.Addr)
}
