package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCollectionNotFound is returned when the collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// QdrantConfig configures a QdrantIndex.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	// Dims is the vector size used when the collection is created. Zero
	// takes the size passed to the first Ensure.
	Dims    int
	Timeout time.Duration
}

// QdrantIndex talks to Qdrant over its REST API using cosine distance.
// It is safe for concurrent use.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu    sync.Mutex
	dims  int
	ready bool
}

func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantIndex{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		client:     &http.Client{Timeout: timeout},
	}
}

func (q *QdrantIndex) Location() string { return q.url + "/collections/" + q.collection }

func (q *QdrantIndex) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.url, url.PathEscape(q.collection), suffix)
}

// qdrantEnvelope wraps every Qdrant response.
type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
}

// do sends a JSON request and decodes the "result" field into out.
func (q *QdrantIndex) do(ctx context.Context, method, u string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCollectionNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, u, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	var env qdrantEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	if len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// Ensure creates the collection if it is missing. After the first success
// it returns without contacting Qdrant until Drop is called.
func (q *QdrantIndex) Ensure(ctx context.Context, dims int) error {
	if dims <= 0 {
		return errors.New("invalid dimension")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}
	if q.dims == 0 {
		q.dims = dims
	}
	err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, &struct{}{})
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	if errors.Is(err, ErrCollectionNotFound) {
		body := map[string]any{
			"vectors": map[string]any{"size": q.dims, "distance": "Cosine"},
		}
		if err := q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil); err != nil {
			return fmt.Errorf("create collection %s: %w", q.collection, err)
		}
		log.Info().Str("collection", q.collection).Int("dims", q.dims).Msg("Qdrant collection created")
	}
	q.ready = true
	return nil
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, len(points))}
	for i, p := range points {
		body.Points[i] = qdrantPoint(p)
	}
	return q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), body, nil)
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, minScore *float64) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if minScore != nil {
		req["score_threshold"] = *minScore
	}
	var result []struct {
		ID      any     `json:"id"`
		Score   float64 `json:"score"`
		Payload Payload `json:"payload"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &result); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(result))
	for _, r := range result {
		hits = append(hits, Hit{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

func (q *QdrantIndex) Reachable(ctx context.Context) bool {
	err := q.do(ctx, http.MethodGet, q.url+"/collections", nil, nil)
	if err != nil {
		log.Debug().Err(err).Str("url", q.url).Msg("Qdrant not reachable")
	}
	return err == nil
}

func (q *QdrantIndex) Info(ctx context.Context) (CollectionInfo, error) {
	var result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, &result); err != nil {
		return CollectionInfo{Name: q.collection}, err
	}
	size := result.Config.Params.Vectors.Size
	if size == 0 {
		q.mu.Lock()
		size = q.dims
		q.mu.Unlock()
	}
	return CollectionInfo{
		Name:        q.collection,
		PointsCount: result.PointsCount,
		Status:      result.Status,
		VectorSize:  size,
	}, nil
}

func (q *QdrantIndex) Drop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = false
	return q.do(ctx, http.MethodDelete, q.collectionURL(""), nil, nil)
}
