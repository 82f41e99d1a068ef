package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/collision-estimator/internal/app"
	"github.com/fpang/collision-estimator/internal/cli"
)

// Global flags
var (
	flags      cli.Flags
	jsonOutput bool
)

// rootCmd is the main Cobra command for the damage CLI.
var rootCmd = &cobra.Command{
	Use:   "damage-cli",
	Short: "Vehicle collision damage analysis and repair estimates",
	Long: `damage-cli analyses photographs of a damaged vehicle with Gemini, merges
the findings into one narrative, retrieves similar historical cases from the
vector index and drafts a repair estimate.

Images may be local files, directories, or s3:// references.

Examples:
  damage-cli detect ./claim-123/
  damage-cli estimate ./claim-123/ --vin 4S4BSANC5K3300000 --year 2019 --make SUBARU --model OUTBACK
  damage-cli estimate --narrative "Rear bumper cover cracked" --pss catalog.json
  damage-cli classify s3://claims/123/
  damage-cli analyze-side --side rear ./claim-123/rear-*.jpg
  damage-cli catalog slim full.json -o slim.json
  damage-cli vectors search "hail damage on roof"
  damage-cli runs claim-123`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&flags.Model, "model", "m", "", "Gemini model to use (overrides config)")
	pf.StringVar(&flags.Backend, "backend", "", "Vector backend: qdrant, dataapi or memory (overrides config)")
	pf.BoolVar(&flags.ValidateKey, "validate-key", false, "Validate the Gemini API key before running")
	pf.BoolVar(&jsonOutput, "json", false, "Print the raw JSON report instead of a summary")

	rootCmd.AddCommand(
		detectCmd,
		estimateCmd,
		classifyCmd,
		analyzeSideCmd,
		saveChunkCmd,
		catalogCmd,
		vectorsCmd,
		runsCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Msg(cli.Explain(err))
		os.Exit(1)
	}
}

// bootstrap wires the application for a subcommand.
func bootstrap(cmd *cobra.Command) (*app.App, error) {
	return cli.Bootstrap(cmd.Context(), flags)
}
