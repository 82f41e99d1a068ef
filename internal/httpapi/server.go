// Package httpapi exposes the collision pipeline over HTTP.
//
// GET /health is open. Every other route requires an x-api-key header
// matching one of the configured keys. Errors are returned as
// {"error": "..."}; internal details are logged only.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/batch"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/pipeline"
	"github.com/fpang/collision-estimator/internal/rag"
	"github.com/fpang/collision-estimator/internal/storage"
)

// VectorAdmin is the raw search and administration surface of the case
// index. *rag.Retriever implements it.
type VectorAdmin interface {
	Search(ctx context.Context, query string, topK int, minScore *float64) ([]rag.Hit, error)
	Index() rag.VectorIndex
}

// Options configure a Server. Vectors may be nil when no index is wired.
type Options struct {
	Pipeline         *pipeline.Pipeline
	Vectors          VectorAdmin
	APIKeys          []string
	GeminiConfigured bool
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	p       *pipeline.Pipeline
	vectors VectorAdmin
	keys    [][]byte
	gemini  bool
}

func New(opts Options) *Server {
	s := &Server{p: opts.Pipeline, vectors: opts.Vectors, gemini: opts.GeminiConfigured}
	for _, k := range opts.APIKeys {
		if k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

// Handler returns the full route tree with auth, metrics and gzip applied.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/vehicle-damage/classify", s.handleClassify)
	api.HandleFunc("POST /api/vehicle-damage/analyze-side", s.handleAnalyzeSide)
	api.HandleFunc("POST /api/vehicle-damage/analyze/chunks", s.handleAnalyzeClaim)
	api.HandleFunc("POST /api/vehicle-damage/save-chunk", s.handleSaveChunk)
	api.HandleFunc("POST /api/damage/detect", s.handleDetect)
	api.HandleFunc("POST /api/rag/estimate", s.handleEstimate)
	api.HandleFunc("POST /api/vectors/search", s.handleVectorSearch)
	api.HandleFunc("GET /api/vectors/collection", s.handleCollectionInfo)
	api.HandleFunc("DELETE /api/vectors/collection", s.handleCollectionDrop)
	api.HandleFunc("GET /api/runs/{claimId}", s.handleListRuns)
	api.HandleFunc("GET /api/runs/{claimId}/{runId}", s.handleGetRun)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("/", withAPIKey(s.keys, api))

	return gzhttp.GzipHandler(withMetrics(root))
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := false
	if s.vectors != nil {
		connected = s.vectors.Index().Reachable(r.Context())
	}
	status := "healthy"
	if !s.gemini {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":                 status,
		"service":                "collision-estimator",
		"gemini_configured":      s.gemini,
		"vector_index_connected": connected,
	})
}

// --- Vehicle damage ---

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ClassifyRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BucketURL == "" && len(req.ImageURLs) == 0 {
		httpError(w, http.StatusBadRequest, "either bucket_url or image_urls must be provided")
		return
	}
	report, err := s.p.Classify(r.Context(), req)
	if err != nil {
		s.pipelineError(w, "classify", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalyzeSide(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SideRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.p.AnalyzeSide(r.Context(), req)
	if err != nil {
		s.pipelineError(w, "analyze-side", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleAnalyzeClaim(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ClaimRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BucketURL == "" {
		httpError(w, http.StatusBadRequest, "bucket_url must be provided")
		return
	}
	cases, err := s.p.AnalyzeClaim(r.Context(), req)
	if err != nil {
		s.pipelineError(w, "analyze-claim", err)
		return
	}
	respondJSON(w, http.StatusOK, cases)
}

func (s *Server) handleSaveChunk(w http.ResponseWriter, r *http.Request) {
	var c damage.Case
	if err := decodeBody(r, &c); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.p.SaveCase(r.Context(), c)
	if err != nil {
		s.pipelineError(w, "save-chunk", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"chunk_id": id,
		"message":  "Chunk saved to vector index",
	})
}

// --- Detection and estimates ---

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req pipeline.DetectRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.p.Detect(r.Context(), req)
	if err != nil {
		s.pipelineError(w, "detect", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.EstimateRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.p.Estimate(r.Context(), req)
	if err != nil {
		s.pipelineError(w, "estimate", err)
		return
	}
	status := http.StatusOK
	if !report.Success {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, report)
}

// --- Vector administration ---

type searchRequest struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit"`
	MinScore *float64 `json:"min_score,omitempty"`
}

func (s *Server) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	if s.vectors == nil {
		httpError(w, http.StatusServiceUnavailable, "vector index not configured")
		return
	}
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	hits, err := s.vectors.Search(r.Context(), req.Query, req.Limit, req.MinScore)
	if err != nil {
		s.pipelineError(w, "vector-search", err)
		return
	}
	if hits == nil {
		hits = []rag.Hit{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": hits,
		"count":   len(hits),
	})
}

func (s *Server) handleCollectionInfo(w http.ResponseWriter, r *http.Request) {
	if s.vectors == nil {
		httpError(w, http.StatusServiceUnavailable, "vector index not configured")
		return
	}
	ix := s.vectors.Index()
	if !ix.Reachable(r.Context()) {
		httpError(w, http.StatusServiceUnavailable, "vector index not reachable")
		return
	}
	info, err := ix.Info(r.Context())
	if err != nil {
		s.pipelineError(w, "collection-info", err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleCollectionDrop(w http.ResponseWriter, r *http.Request) {
	if s.vectors == nil {
		httpError(w, http.StatusServiceUnavailable, "vector index not configured")
		return
	}
	ix := s.vectors.Index()
	if !ix.Reachable(r.Context()) {
		httpError(w, http.StatusServiceUnavailable, "vector index not reachable")
		return
	}
	if err := ix.Drop(r.Context()); err != nil {
		s.pipelineError(w, "collection-drop", err)
		return
	}
	log.Warn().Str("index", ix.Location()).Msg("Vector collection deleted via API")
	respondJSON(w, http.StatusOK, map[string]string{"message": "collection " + ix.Location() + " deleted"})
}

// --- Runs ---

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.p.GetRun(r.Context(), r.PathValue("claimId"), r.PathValue("runId"))
	if err != nil {
		s.pipelineError(w, "get-run", err)
		return
	}
	if run == nil {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.p.ListRuns(r.Context(), r.PathValue("claimId"))
	if err != nil {
		s.pipelineError(w, "list-runs", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// pipelineError maps known failures to client errors and hides the rest.
func (s *Server) pipelineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, batch.ErrNoImages),
		errors.Is(err, pipeline.ErrNoDescription),
		errors.Is(err, pipeline.ErrInvalidSide),
		errors.Is(err, pipeline.ErrNoSides),
		errors.Is(err, rag.ErrEmptyNarrative),
		errors.Is(err, storage.ErrInvalidRef):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rag.ErrCollectionNotFound):
		httpError(w, http.StatusNotFound, "collection not found")
	case errors.Is(err, pipeline.ErrNoIndex),
		errors.Is(err, pipeline.ErrNoRuns),
		errors.Is(err, pipeline.ErrNoModel),
		errors.Is(err, rag.ErrUnreachable):
		httpError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, op+" timed out", err.Error())
	default:
		httpError(w, http.StatusInternalServerError, op+" failed", err.Error())
	}
}

// Serve runs the handler on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Int("apiKeys", len(s.keys)).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(context.Background())
	}
}
