package rag

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process index using brute-force cosine similarity.
// Upserting an existing id replaces the point in place.
type MemoryIndex struct {
	mu     sync.RWMutex
	name   string
	dims   int
	order  []string
	points map[string]Point
}

func NewMemoryIndex(name string) *MemoryIndex {
	return &MemoryIndex{name: name, points: make(map[string]Point)}
}

func (m *MemoryIndex) Location() string { return "memory:" + m.name }

func (m *MemoryIndex) Ensure(_ context.Context, dims int) error {
	if dims <= 0 {
		return errors.New("invalid dimension")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims == 0 {
		m.dims = dims
	}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if m.dims != 0 && len(p.Vector) != m.dims {
			return errors.New("vector dimension mismatch")
		}
	}
	for _, p := range points {
		if _, ok := m.points[p.ID]; !ok {
			m.order = append(m.order, p.ID)
		}
		m.points[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, topK int, minScore *float64) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	m.mu.RLock()
	hits := make([]Hit, 0, len(m.order))
	for _, id := range m.order {
		p := m.points[id]
		score := cosine(p.Vector, vector)
		if minScore != nil && score < *minScore {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score, Payload: p.Payload})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryIndex) Reachable(context.Context) bool { return true }

func (m *MemoryIndex) Info(context.Context) (CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return CollectionInfo{Name: m.name, PointsCount: int64(len(m.order)), Status: "green", VectorSize: m.dims}, nil
}

func (m *MemoryIndex) Drop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.points = make(map[string]Point)
	m.dims = 0
	return nil
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// normalize scales v to unit length. A zero vector is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
