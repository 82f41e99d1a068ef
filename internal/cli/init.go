package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/app"
	"github.com/fpang/collision-estimator/internal/auth"
	"github.com/fpang/collision-estimator/internal/config"
	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/logging"
)

// Flags are the options shared by every subcommand.
type Flags struct {
	ConfigPath  string
	LogLevel    string
	Model       string
	Backend     string
	ValidateKey bool
}

// Bootstrap loads configuration, initialises console logging, resolves the
// API key and wires the application with local file access enabled.
func Bootstrap(ctx context.Context, f Flags) (*app.App, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Model != "" {
		cfg.Gemini.Model = f.Model
	}
	if f.Backend != "" {
		cfg.Vector.Backend = f.Backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logging.Init(cfg.LogLevel, true)

	if key, err := auth.NewResolver().APIKey(cfg.Gemini.APIKey); err == nil {
		cfg.Gemini.APIKey = key
	} else {
		log.Debug().Err(err).Msg("No Gemini API key found")
	}
	if !inference.KnownModel(cfg.Gemini.Model) {
		log.Warn().Str("model", cfg.Gemini.Model).Msg("Unrecognised model name, passing through")
	}

	a, err := app.Build(ctx, cfg, app.Options{AllowLocal: true})
	if err != nil {
		return nil, fmt.Errorf("initialise: %w", err)
	}

	if f.ValidateKey {
		if !a.ModelConfigured() {
			return nil, &inference.CallError{Kind: inference.KindNoKey, Message: "no API key configured"}
		}
		if err := inference.ValidateAPIKey(ctx, a.Genai); err != nil {
			return nil, err
		}
		log.Info().Msg("API key validation complete - ready for operations")
	}
	return a, nil
}
