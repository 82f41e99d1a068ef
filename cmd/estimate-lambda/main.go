// Command estimate-lambda serves the estimate HTTP API behind API Gateway
// (HTTP API, payload v2).
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/app"
	"github.com/fpang/collision-estimator/internal/config"
	"github.com/fpang/collision-estimator/internal/httpapi"
	"github.com/fpang/collision-estimator/internal/lambdaboot"
	"github.com/fpang/collision-estimator/internal/logging"
)

var handler http.Handler

func init() {
	initStart := time.Now()
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Init(cfg.LogLevel, false)
	lambdaboot.InitMetrics()

	clients, err := lambdaboot.InitAWS(ctx, cfg.AWS.Region)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	if err := lambdaboot.LoadGeminiKey(ctx, clients.SSM, cfg); err != nil {
		log.Error().Err(err).Msg("Gemini key unavailable, starting degraded")
	}

	a, err := app.Build(ctx, cfg, app.Options{AWS: &clients.Config})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire application")
	}

	opts := httpapi.Options{
		Pipeline:         a.Pipeline,
		APIKeys:          cfg.Server.APIKeys,
		GeminiConfigured: a.ModelConfigured(),
	}
	if a.Retriever != nil {
		opts.Vectors = a.Retriever
	}
	handler = httpapi.New(opts).Handler()

	a.Describe(lambdaboot.StartupLog("estimate-lambda", cfg, initStart)).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
