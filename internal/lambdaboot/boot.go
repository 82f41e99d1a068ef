// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// A Lambda needs AWS config, the Gemini key from SSM when the environment
// does not carry it, default metric dimensions, and one startup log line.
// Each helper here does one of those so a handler's init stays short.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/config"
	"github.com/fpang/collision-estimator/internal/logging"
	"github.com/fpang/collision-estimator/internal/metrics"
)

// ParameterAPI is the subset of the SSM client used here.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config, pinned to region when set.
func InitAWS(ctx context.Context, region string) (AWSClients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{Config: cfg, SSM: ssm.NewFromConfig(cfg)}, nil
}

// LoadGeminiKey fills cfg.Gemini.APIKey from the SSM parameter named by
// cfg.Gemini.KeyParam. A key already present in cfg is kept.
func LoadGeminiKey(ctx context.Context, client ParameterAPI, cfg *config.Config) error {
	if cfg.Gemini.APIKey != "" {
		return nil
	}
	param := cfg.Gemini.KeyParam
	if param == "" {
		param = config.DefaultGeminiKeyParam
	}
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read API key from SSM %s: %w", param, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return errors.New("SSM parameter " + param + " is empty")
	}
	cfg.Gemini.APIKey = aws.ToString(out.Parameter.Value)
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return nil
}

// InitMetrics tags every EMF document with the Lambda function name.
func InitMetrics() {
	if name := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); name != "" {
		metrics.SetDefaultDimension("FunctionName", name)
	}
}

// StartupLog returns a startup logger describing cfg. Callers add their
// own fields and call Log.
func StartupLog(name string, cfg *config.Config, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		LogLevel(cfg.LogLevel).
		SSMParam("geminiKey", cfg.Gemini.KeyParam).
		Config("model", cfg.Gemini.Model).
		Config("embeddingModel", cfg.Gemini.EmbeddingModel).
		InitDuration(time.Since(initStart))
}
