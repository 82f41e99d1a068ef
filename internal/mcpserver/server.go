// Package mcpserver exposes part matching, narrative merging, case search
// and estimate generation as MCP tools so agents can drive the pipeline.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/catalog"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/narrative"
	"github.com/fpang/collision-estimator/internal/pipeline"
	"github.com/fpang/collision-estimator/internal/rag"
	"github.com/fpang/collision-estimator/internal/storage"
)

// CaseSearcher runs raw similarity searches. *rag.Retriever implements it.
type CaseSearcher interface {
	Search(ctx context.Context, query string, topK int, minScore *float64) ([]rag.Hit, error)
}

// Options wire a Server. Any collaborator may be nil; the tools that need
// it then return an error.
type Options struct {
	Pipeline *pipeline.Pipeline
	Fetcher  storage.Fetcher
	Cases    CaseSearcher
	Version  string
}

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	p       *pipeline.Pipeline
	fetcher storage.Fetcher
	cases   CaseSearcher
}

// NewServer creates the server with every tool registered.
func NewServer(opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "collision-estimator", Version: version}, nil),
		p:         opts.Pipeline,
		fetcher:   opts.Fetcher,
		cases:     opts.Cases,
	}
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Msg("Starting MCP server over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "match_part",
		Description: "Resolve a free-text part description to a parts catalog id. The catalog is given inline as JSON or as a storage reference.",
	}, s.handleMatchPart)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "merge_narrative",
		Description: "Merge damage findings into one narrative grouped by part with the worst severity per part.",
	}, s.handleMergeNarrative)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "search_cases",
		Description: "Find historical damage cases similar to a description.",
	}, s.handleSearchCases)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "estimate",
		Description: "Generate a repair estimate from findings, a narrative, or images, using similar historical cases and an optional parts catalog.",
	}, s.handleEstimate)
}

// --- Tool input/output types ---

type matchPartInput struct {
	Description string `json:"description" jsonschema:"free-text part description"`
	CatalogJSON string `json:"catalog_json,omitempty" jsonschema:"parts catalog document as JSON text"`
	CatalogRef  string `json:"catalog_ref,omitempty" jsonschema:"s3:// URI or local path of the parts catalog"`
}

type matchPartOutput struct {
	Matched bool   `json:"matched"`
	PartID  string `json:"part_id,omitempty"`
	Entries int    `json:"catalog_entries"`
}

type mergeNarrativeInput struct {
	Findings []damage.Finding    `json:"findings" jsonschema:"damage findings to merge"`
	Vehicle  *damage.VehicleInfo `json:"vehicle_info,omitempty" jsonschema:"vehicle to name in the narrative"`
}

type mergeNarrativeOutput struct {
	Narrative string `json:"narrative"`
	Findings  int    `json:"findings"`
}

type searchCasesInput struct {
	Query    string   `json:"query" jsonschema:"damage description to search with"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum results (default 5)"`
	MinScore *float64 `json:"min_score,omitempty" jsonschema:"minimum cosine similarity"`
}

type searchCasesOutput struct {
	Count int                    `json:"count"`
	Cases []damage.RetrievedCase `json:"cases"`
}

type estimateInput struct {
	ClaimID          string              `json:"claim_id,omitempty" jsonschema:"claim id used to store the run"`
	VehicleInfo      *damage.VehicleInfo `json:"vehicle_info,omitempty" jsonschema:"vehicle under assessment"`
	BucketURL        string              `json:"bucket_url,omitempty" jsonschema:"prefix whose images are analysed when no findings are given"`
	Images           []string            `json:"images,omitempty" jsonschema:"image references analysed when no findings are given"`
	Findings         []damage.Finding    `json:"damage_descriptions,omitempty" jsonschema:"damage findings"`
	Narrative        string              `json:"merged_damage_description,omitempty" jsonschema:"merged damage narrative used for retrieval"`
	HumanDescription string              `json:"human_description,omitempty" jsonschema:"adjuster description of the damage"`
	PSSURL           string              `json:"pss_url,omitempty" jsonschema:"storage reference of the parts catalog"`
	CustomPrompt     string              `json:"custom_estimate_prompt,omitempty" jsonschema:"replacement estimate prompt template"`
	TopK             int                 `json:"top_k,omitempty" jsonschema:"number of similar cases to retrieve"`
}

// --- Handlers ---

func (s *Server) handleMatchPart(ctx context.Context, _ *sdkmcp.CallToolRequest, in matchPartInput) (*sdkmcp.CallToolResult, matchPartOutput, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, matchPartOutput{}, errors.New("description is required")
	}
	doc, err := s.loadCatalog(ctx, in.CatalogJSON, in.CatalogRef)
	if err != nil {
		return nil, matchPartOutput{}, err
	}
	ix := catalog.BuildIndex(doc)
	id, ok := catalog.Match(in.Description, ix)
	log.Debug().Str("description", in.Description).Bool("matched", ok).Str("partId", id).Msg("match_part")
	return nil, matchPartOutput{Matched: ok, PartID: id, Entries: ix.Len()}, nil
}

func (s *Server) loadCatalog(ctx context.Context, inline, ref string) (*catalog.Document, error) {
	data := []byte(inline)
	if strings.TrimSpace(inline) == "" {
		if ref == "" {
			return nil, errors.New("catalog_json or catalog_ref is required")
		}
		if s.fetcher == nil {
			return nil, errors.New("no storage configured for catalog_ref")
		}
		obj, err := s.fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch catalog: %w", err)
		}
		data = obj.Data
	}
	return catalog.ParseDocument(data)
}

func (s *Server) handleMergeNarrative(_ context.Context, _ *sdkmcp.CallToolRequest, in mergeNarrativeInput) (*sdkmcp.CallToolResult, mergeNarrativeOutput, error) {
	return nil, mergeNarrativeOutput{
		Narrative: narrative.Merge(in.Findings, in.Vehicle),
		Findings:  len(in.Findings),
	}, nil
}

func (s *Server) handleSearchCases(ctx context.Context, _ *sdkmcp.CallToolRequest, in searchCasesInput) (*sdkmcp.CallToolResult, searchCasesOutput, error) {
	if s.cases == nil {
		return nil, searchCasesOutput{}, pipeline.ErrNoIndex
	}
	limit := in.Limit
	if limit <= 0 {
		limit = rag.DefaultTopK
	}
	hits, err := s.cases.Search(ctx, in.Query, limit, in.MinScore)
	if err != nil {
		return nil, searchCasesOutput{}, fmt.Errorf("search_cases: %w", err)
	}
	out := searchCasesOutput{Cases: make([]damage.RetrievedCase, 0, len(hits))}
	for _, h := range hits {
		out.Cases = append(out.Cases, h.Case())
	}
	out.Count = len(out.Cases)
	return nil, out, nil
}

func (s *Server) handleEstimate(ctx context.Context, _ *sdkmcp.CallToolRequest, in estimateInput) (*sdkmcp.CallToolResult, pipeline.EstimateReport, error) {
	if s.p == nil {
		return nil, pipeline.EstimateReport{}, errors.New("pipeline not configured")
	}
	report, err := s.p.Estimate(ctx, pipeline.EstimateRequest{
		ClaimID:          in.ClaimID,
		VehicleInfo:      in.VehicleInfo,
		BucketURL:        in.BucketURL,
		Images:           in.Images,
		Findings:         in.Findings,
		Narrative:        in.Narrative,
		HumanDescription: in.HumanDescription,
		PSSURL:           in.PSSURL,
		CustomPrompt:     in.CustomPrompt,
		TopK:             in.TopK,
	})
	if err != nil {
		return nil, pipeline.EstimateReport{}, fmt.Errorf("estimate: %w", err)
	}
	return nil, report, nil
}
