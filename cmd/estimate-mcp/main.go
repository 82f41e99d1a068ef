// Command estimate-mcp serves part matching, narrative merging, case search
// and estimate generation as MCP tools over stdio.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/collision-estimator/internal/cli"
	"github.com/fpang/collision-estimator/internal/mcpserver"
)

var (
	flags   cli.Flags
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "estimate-mcp",
	Short: "MCP server for collision damage estimating tools",
	Long: `estimate-mcp speaks the Model Context Protocol on stdin/stdout. Logs go
to stderr so they never interleave with protocol messages.

Tools: match_part, merge_narrative, search_cases, estimate.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := cli.Bootstrap(cmd.Context(), flags)
		if err != nil {
			return err
		}
		opts := mcpserver.Options{Pipeline: a.Pipeline, Fetcher: a.Fetcher, Version: version}
		if a.Retriever != nil {
			opts.Cases = a.Retriever
		}
		return mcpserver.NewServer(opts).Run(cmd.Context())
	},
}

func init() {
	pf := rootCmd.Flags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&flags.Model, "model", "m", "", "Gemini model to use (overrides config)")
	pf.BoolVar(&flags.ValidateKey, "validate-key", false, "Validate the Gemini API key before serving")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Msg(cli.Explain(err))
		os.Exit(1)
	}
}
