package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/collision-estimator/internal/catalog"
	"github.com/fpang/collision-estimator/internal/cli"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/pipeline"
	"github.com/fpang/collision-estimator/internal/storage"
)

// Subcommand flags
var (
	vehicle          damage.VehicleInfo
	humanDescription string
	narrativeFlag    string
	findingsFile     string
	pssFile          string
	claimID          string
	topK             int
	minScore         float64
	customPrompt     string
	sideFlag         string
	approvedFile     string
	skipIndex        bool
	outputFile       string
	searchLimit      int
	assumeYes        bool
)

func addVehicleFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&vehicle.VIN, "vin", "", "Vehicle identification number")
	cmd.Flags().IntVar(&vehicle.Year, "year", 0, "Model year")
	cmd.Flags().StringVar(&vehicle.Make, "make", "", "Vehicle make")
	cmd.Flags().StringVar(&vehicle.Model, "vehicle-model", "", "Vehicle model")
	cmd.Flags().StringVar(&vehicle.BodyType, "body-type", "", "Body type (sedan, SUV, ...)")
}

// vehicleInfo returns nil when no vehicle flag was given.
func vehicleInfo() *damage.VehicleInfo {
	if vehicle.VIN == "" && !vehicle.Known() {
		return nil
	}
	v := vehicle
	return &v
}

// splitInputs treats a single non-image argument as a directory or prefix
// to list, and anything else as individual image references.
func splitInputs(args []string) (prefix string, images []string) {
	if len(args) == 1 && !storage.IsImage(args[0]) {
		return args[0], nil
	}
	return "", args
}

func emit(cmd *cobra.Command, v any, summary func()) error {
	if jsonOutput {
		return cli.WriteJSON(cmd.OutOrStdout(), v)
	}
	summary()
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// --- detect ---

var detectCmd = &cobra.Command{
	Use:   "detect <dir|prefix|image>...",
	Short: "Detect damage in each image and merge the findings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		prefix, images := splitInputs(args)
		report, err := a.Pipeline.Detect(cmd.Context(), pipeline.DetectRequest{
			BucketURL:        prefix,
			ImageURLs:        images,
			VehicleInfo:      vehicleInfo(),
			HumanDescription: humanDescription,
		})
		if err != nil {
			return err
		}
		return emit(cmd, report, func() { cli.PrintDetectReport(cmd.OutOrStdout(), report) })
	},
}

// --- estimate ---

var estimateCmd = &cobra.Command{
	Use:   "estimate [dir|prefix|image]...",
	Short: "Draft a repair estimate from images, findings or a narrative",
	Long: `estimate runs the full pipeline: damage detection (unless findings or a
narrative are given), similar-case retrieval and estimate synthesis. A parts
catalog (PSS export) may be supplied as a local file or s3:// reference.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		req := pipeline.EstimateRequest{
			ClaimID:          claimID,
			VehicleInfo:      vehicleInfo(),
			Narrative:        narrativeFlag,
			HumanDescription: humanDescription,
			CustomPrompt:     customPrompt,
			TopK:             topK,
		}
		if len(args) > 0 {
			req.BucketURL, req.Images = splitInputs(args)
		}
		if findingsFile != "" {
			if err := readJSONFile(findingsFile, &req.Findings); err != nil {
				return err
			}
		}
		if pssFile != "" {
			req.PSSURL = pssFile
		}
		if cmd.Flags().Changed("min-score") {
			req.MinScore = &minScore
		}

		report, err := a.Pipeline.Estimate(cmd.Context(), req)
		if err != nil {
			return err
		}
		if err := emit(cmd, report, func() { cli.PrintEstimateReport(cmd.OutOrStdout(), report) }); err != nil {
			return err
		}
		if !report.Success {
			return errors.New(report.Error)
		}
		return nil
	},
}

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <dir|prefix|image>...",
	Short: "Group images by the vehicle side they show",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		prefix, images := splitInputs(args)
		report, err := a.Pipeline.Classify(cmd.Context(), pipeline.ClassifyRequest{
			BucketURL:    prefix,
			ImageURLs:    images,
			CustomPrompt: customPrompt,
		})
		if err != nil {
			return err
		}
		return emit(cmd, report, func() { cli.PrintClassifyReport(cmd.OutOrStdout(), report) })
	},
}

// --- analyze-side ---

var analyzeSideCmd = &cobra.Command{
	Use:   "analyze-side --side <side> <image>...",
	Short: "Analyse one side's images together and build a case record",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		images := args
		if prefix, _ := splitInputs(args); prefix != "" {
			if images, err = a.Fetcher.List(cmd.Context(), prefix); err != nil {
				return err
			}
		}
		req := pipeline.SideRequest{
			Side:         sideFlag,
			Images:       images,
			CustomPrompt: customPrompt,
			SkipIndex:    skipIndex,
		}
		if vi := vehicleInfo(); vi != nil {
			req.VehicleInfo = *vi
		}
		if approvedFile != "" {
			if err := readJSONFile(approvedFile, &req.ApprovedEstimate); err != nil {
				return err
			}
		}
		c, err := a.Pipeline.AnalyzeSide(cmd.Context(), req)
		if err != nil {
			return err
		}
		return cli.WriteJSON(cmd.OutOrStdout(), c)
	},
}

// --- save-chunk ---

var saveChunkCmd = &cobra.Command{
	Use:   "save-chunk <case.json>",
	Short: "Index a case record in the vector index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		var c damage.Case
		if err := readJSONFile(args[0], &c); err != nil {
			return err
		}
		id, err := a.Pipeline.SaveCase(cmd.Context(), c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved case %s (%s, %s)\n", id, c.VehicleInfo.VIN, c.Side)
		return nil
	},
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Parts catalog utilities",
}

var catalogSlimCmd = &cobra.Command{
	Use:   "slim <full.json>",
	Short: "Reduce a full PSS catalog export to what estimate prompts need",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		full, err := catalog.ParseDocument(data)
		if err != nil {
			return err
		}
		slim := catalog.Slim(full)

		out := cmd.OutOrStdout()
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("create %s: %w", outputFile, err)
			}
			defer f.Close()
			out = f
		}
		return cli.WriteJSON(out, slim)
	},
}

// --- vectors ---

var vectorsCmd = &cobra.Command{
	Use:   "vectors",
	Short: "Inspect and administer the similar-case vector index",
}

var vectorsInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		info, err := a.Index.Info(cmd.Context())
		if err != nil {
			return err
		}
		return cli.WriteJSON(cmd.OutOrStdout(), info)
	},
}

var vectorsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search similar cases with free text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		if a.Retriever == nil {
			return pipeline.ErrNoModel
		}
		var threshold *float64
		if cmd.Flags().Changed("min-score") {
			threshold = &minScore
		}
		hits, err := a.Retriever.Search(cmd.Context(), strings.Join(args, " "), searchLimit, threshold)
		if err != nil {
			return err
		}
		if jsonOutput {
			return cli.WriteJSON(cmd.OutOrStdout(), hits)
		}
		for _, h := range hits {
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f  %s  %s  %s\n", h.Score, h.Payload.VehicleInfo.VIN, h.Payload.Side, h.Payload.Content)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d result(s)\n", len(hits))
		return nil
	},
}

var vectorsDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the whole collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		loc := a.Index.Location()
		if !assumeYes && !cli.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete every case in "+loc+"?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		if err := a.Index.Drop(cmd.Context()); err != nil {
			return err
		}
		log.Warn().Str("index", loc).Msg("Vector collection deleted")
		return nil
	},
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs <claim-id> [run-id]",
	Short: "List a claim's stored estimate runs or show one",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		if len(args) == 2 {
			run, err := a.Pipeline.GetRun(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s/%s not found", args[0], args[1])
			}
			return cli.WriteJSON(cmd.OutOrStdout(), run)
		}
		runs, err := a.Pipeline.ListRuns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return cli.WriteJSON(cmd.OutOrStdout(), runs)
		}
		for _, r := range runs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %d image(s)  %d finding(s)  %d operation(s)\n",
				r.RunID, r.Status, r.Images, r.Findings, r.Operations)
		}
		return nil
	},
}

func init() {
	addVehicleFlags(detectCmd)
	detectCmd.Flags().StringVar(&humanDescription, "description", "", "Adjuster's description of the damage")

	addVehicleFlags(estimateCmd)
	estimateCmd.Flags().StringVar(&humanDescription, "description", "", "Adjuster's description of the damage")
	estimateCmd.Flags().StringVar(&narrativeFlag, "narrative", "", "Merged damage narrative (skips detection)")
	estimateCmd.Flags().StringVar(&findingsFile, "findings", "", "JSON file of damage findings (skips detection)")
	estimateCmd.Flags().StringVar(&pssFile, "pss", "", "Parts catalog file or s3:// reference")
	estimateCmd.Flags().StringVar(&claimID, "claim", "", "Claim id for the stored run (generated when empty)")
	estimateCmd.Flags().IntVar(&topK, "top-k", 0, "Similar cases to retrieve (0 = configured default)")
	estimateCmd.Flags().Float64Var(&minScore, "min-score", 0, "Minimum similarity of retrieved cases")
	estimateCmd.Flags().StringVar(&customPrompt, "prompt", "", "Replacement estimate prompt template")

	classifyCmd.Flags().StringVar(&customPrompt, "prompt", "", "Replacement classification prompt")

	addVehicleFlags(analyzeSideCmd)
	analyzeSideCmd.Flags().StringVar(&sideFlag, "side", "", "Side shown: front, rear, left, right or roof")
	analyzeSideCmd.Flags().StringVar(&approvedFile, "approved", "", "JSON file with the approved estimate")
	analyzeSideCmd.Flags().StringVar(&customPrompt, "prompt", "", "Replacement damage analysis prompt")
	analyzeSideCmd.Flags().BoolVar(&skipIndex, "skip-index", false, "Do not index the resulting case")
	_ = analyzeSideCmd.MarkFlagRequired("side")

	catalogSlimCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the slim catalog here instead of stdout")
	catalogCmd.AddCommand(catalogSlimCmd)

	vectorsSearchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum results")
	vectorsSearchCmd.Flags().Float64Var(&minScore, "min-score", 0, "Minimum similarity")
	vectorsDropCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	vectorsCmd.AddCommand(vectorsInfoCmd, vectorsSearchCmd, vectorsDropCmd)
}
