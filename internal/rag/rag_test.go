package rag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/metrics"
)

func init() { metrics.SetOutput(io.Discard) }

// keywordEmbedder maps text onto three axes so similarity is predictable.
type keywordEmbedder struct {
	err   error
	mu    sync.Mutex
	tasks []string
}

func (k *keywordEmbedder) Embed(_ context.Context, text, task string) ([]float32, error) {
	k.mu.Lock()
	k.tasks = append(k.tasks, task)
	k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	v := []float32{0.01, 0.01, 0.01}
	t := strings.ToLower(text)
	if strings.Contains(t, "bumper") {
		v[0] = 1
	}
	if strings.Contains(t, "door") {
		v[1] = 1
	}
	if strings.Contains(t, "hood") {
		v[2] = 1
	}
	return normalize(v), nil
}

func ptr(f float64) *float64 { return &f }

func TestMemoryIndexSearchOrderAndThreshold(t *testing.T) {
	ctx := context.Background()
	ix := NewMemoryIndex("cases")
	if err := ix.Ensure(ctx, 3); err != nil {
		t.Fatal(err)
	}
	err := ix.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{Content: "a"}},
		{ID: "b", Vector: []float32{0.7, 0.7, 0}, Payload: Payload{Content: "b"}},
		{ID: "c", Vector: []float32{0, 0, 1}, Payload: Payload{Content: "c"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, _ := ix.Search(ctx, []float32{1, 0, 0}, 5, ptr(0.5))
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("hits mismatch (-want +got):\n%s", diff)
	}

	all, _ := ix.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if len(all) != 2 {
		t.Errorf("expected topK to cap results, got %d", len(all))
	}

	if err := ix.Upsert(ctx, []Point{{ID: "x", Vector: []float32{1, 0}}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	info, _ := ix.Info(ctx)
	if info.PointsCount != 3 || info.VectorSize != 3 {
		t.Errorf("unexpected info %+v", info)
	}
	_ = ix.Drop(ctx)
	if info, _ := ix.Info(ctx); info.PointsCount != 0 {
		t.Errorf("expected empty index after drop, got %d", info.PointsCount)
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("unexpected normalized vector %v", v)
	}
	zero := normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should be unchanged, got %v", zero)
	}
}

func newRetriever(e Embedder, ix VectorIndex) *Retriever {
	r := NewRetriever(e, ix, Options{Dims: 3})
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestSaveThenRetrieve(t *testing.T) {
	ctx := context.Background()
	emb := &keywordEmbedder{}
	r := newRetriever(emb, NewMemoryIndex("cases"))

	id, err := r.Save(ctx, damage.Case{
		VehicleInfo: damage.VehicleInfo{VIN: "VIN1", Year: 2020, Make: "Ford", Model: "F-150"},
		Side:        "front",
		Narrative:   "The 2020 Ford F-150 shows damage to: front bumper (Major dent).",
		ApprovedEstimate: damage.Estimate{
			"Bumper": {{Description: "Front bumper cover", Operation: "Remove / Replace"}},
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id != PointID("VIN1", "front", r.now()) {
		t.Errorf("unexpected point id %s", id)
	}
	if _, err := r.Save(ctx, damage.Case{Narrative: "door"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cases := r.Retrieve(ctx, "rear bumper scuffs", 0, nil)
	if len(cases) != 1 {
		t.Fatalf("expected one similar case, got %d", len(cases))
	}
	got := cases[0]
	if got.Side != "front" || got.VehicleInfo.Make != "Ford" || got.Score < 0.9 {
		t.Errorf("unexpected case %+v", got)
	}
	if got.ApprovedEstimate["Bumper"][0].Operation != "Remove / Replace" {
		t.Errorf("approved estimate not carried: %+v", got.ApprovedEstimate)
	}
	if diff := cmp.Diff([]string{TaskDocument, TaskDocument, TaskQuery}, emb.tasks); diff != "" {
		t.Errorf("task types mismatch (-want +got):\n%s", diff)
	}
}

func TestRetrieveConfiguredThreshold(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		minScore *float64
		want     int
	}{
		{"default threshold", nil, 1},
		{"zero disables filtering", ptr(0), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := NewMemoryIndex("cases")
			r := NewRetriever(&keywordEmbedder{}, ix, Options{Dims: 3, MinScore: tt.minScore})
			for _, n := range []string{"front bumper", "left door"} {
				if _, err := r.Save(ctx, damage.Case{Side: n, Narrative: n}); err != nil {
					t.Fatal(err)
				}
			}
			if got := r.Retrieve(ctx, "bumper", 5, nil); len(got) != tt.want {
				t.Errorf("got %d cases, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSaveRejectsEmptyNarrative(t *testing.T) {
	r := newRetriever(&keywordEmbedder{}, NewMemoryIndex("cases"))
	if _, err := r.Save(context.Background(), damage.Case{Narrative: "  "}); !errors.Is(err, ErrEmptyNarrative) {
		t.Errorf("expected ErrEmptyNarrative, got %v", err)
	}
}

type downIndex struct{ *MemoryIndex }

func (downIndex) Reachable(context.Context) bool { return false }

func TestRetrieveNeverFails(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		r     *Retriever
		query string
	}{
		{"blank query", newRetriever(&keywordEmbedder{}, NewMemoryIndex("c")), "   "},
		{"unreachable", newRetriever(&keywordEmbedder{}, downIndex{NewMemoryIndex("c")}), "bumper"},
		{"embedding fails", newRetriever(&keywordEmbedder{err: errors.New("quota")}, NewMemoryIndex("c")), "bumper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Retrieve(ctx, tt.query, 5, nil)
			if got == nil || len(got) != 0 {
				t.Errorf("expected empty non-nil list, got %#v", got)
			}
		})
	}
}

func TestPointIDStable(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := PointID("VIN", "rear", at)
	if a != PointID("VIN", "rear", at) {
		t.Error("expected deterministic id")
	}
	if a == PointID("VIN", "front", at) {
		t.Error("expected side to change the id")
	}
}

func TestQdrantIndex(t *testing.T) {
	var (
		mu       sync.Mutex
		created  bool
		upserted []qdrantPoint
		search   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("api-key") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			io.WriteString(w, `{"result":{"collections":[]},"status":"ok"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/collections/cases":
			if !created {
				http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
				return
			}
			io.WriteString(w, `{"result":{"status":"green","points_count":1,"config":{"params":{"vectors":{"size":3,"distance":"Cosine"}}}},"status":"ok"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/cases":
			created = true
			io.WriteString(w, `{"result":true,"status":"ok"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/cases/points":
			var body struct {
				Points []qdrantPoint `json:"points"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			upserted = append(upserted, body.Points...)
			io.WriteString(w, `{"result":{"status":"completed"},"status":"ok"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/collections/cases/points/search":
			json.NewDecoder(r.Body).Decode(&search)
			io.WriteString(w, `{"result":[{"id":"6f1c","score":0.87,"payload":{"content":"front bumper","side":"front","vehicle_info":{"make":"Ford","year":2020},"approved_estimate":{"Bumper":[{"Description":"Cover","Operation":"Repair","LabourHours":1.5}]}}}],"status":"ok"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/collections/cases":
			created = false
			io.WriteString(w, `{"result":true,"status":"ok"}`)
		default:
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, APIKey: "secret", Collection: "cases"})
	if !q.Reachable(ctx) {
		t.Fatal("expected reachable")
	}
	if err := q.Ensure(ctx, 3); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Error("expected collection to be created")
	}
	if err := q.Upsert(ctx, []Point{{ID: "p1", Vector: []float32{1, 0, 0}, Payload: Payload{Content: "front bumper"}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(upserted) != 1 || upserted[0].ID != "p1" || upserted[0].Payload.Content != "front bumper" {
		t.Errorf("unexpected upsert %+v", upserted)
	}

	hits, err := q.Search(ctx, []float32{1, 0, 0}, 5, ptr(0.5))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if search["score_threshold"] != 0.5 || search["limit"] != float64(5) {
		t.Errorf("unexpected search body %v", search)
	}
	if len(hits) != 1 || hits[0].Score != 0.87 || hits[0].Payload.VehicleInfo.Make != "Ford" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	op := hits[0].Payload.ApprovedEstimate["Bumper"][0]
	if op.LaborHours == nil || *op.LaborHours != 1.5 {
		t.Errorf("expected LabourHours decoded, got %+v", op)
	}

	info, err := q.Info(ctx)
	if err != nil || info.PointsCount != 1 || info.VectorSize != 3 || info.Status != "green" {
		t.Errorf("unexpected info %+v, %v", info, err)
	}
	if err := q.Drop(ctx); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := q.Info(ctx); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected not found after drop, got %v", err)
	}
}

func TestQdrantConcurrentRetrieveEnsuresOnce(t *testing.T) {
	var (
		mu       sync.Mutex
		created  bool
		gets     int
		creates  int
		dimsSent float64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			io.WriteString(w, `{"result":{"collections":[]},"status":"ok"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/collections/cases":
			gets++
			if !created {
				http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
				return
			}
			io.WriteString(w, `{"result":{"status":"green"},"status":"ok"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/cases":
			var body struct {
				Vectors struct {
					Size float64 `json:"size"`
				} `json:"vectors"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			dimsSent = body.Vectors.Size
			creates++
			created = true
			io.WriteString(w, `{"result":true,"status":"ok"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/collections/cases/points/search":
			io.WriteString(w, `{"result":[{"id":"p1","score":0.9,"payload":{"content":"front bumper","side":"front"}}],"status":"ok"}`)
		default:
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "cases", Dims: 3})
	r := NewRetriever(&keywordEmbedder{}, q, Options{Dims: 3})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = len(r.Retrieve(context.Background(), "bumper", 5, nil))
		}(i)
	}
	wg.Wait()

	for i, n := range results {
		if n != 1 {
			t.Errorf("retrieve %d returned %d cases, want 1", i, n)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if gets != 1 || creates != 1 {
		t.Errorf("collection checked %d times and created %d times, want 1 and 1", gets, creates)
	}
	if dimsSent != 3 {
		t.Errorf("collection created with size %v, want 3", dimsSent)
	}
}

type fakeStatements struct {
	sqls   []string
	params [][]rdsdatatypes.SqlParameter
	out    *rdsdata.ExecuteStatementOutput
	err    error
}

func (f *fakeStatements) ExecuteStatement(_ context.Context, in *rdsdata.ExecuteStatementInput, _ ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error) {
	f.sqls = append(f.sqls, aws.ToString(in.Sql))
	f.params = append(f.params, in.Parameters)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &rdsdata.ExecuteStatementOutput{}, nil
}

func TestDataAPIIndex(t *testing.T) {
	ctx := context.Background()
	if _, err := NewDataAPIIndex(&fakeStatements{}, "arn", "secret", "db", "cases; drop"); err == nil {
		t.Error("expected invalid table name error")
	}

	api := &fakeStatements{}
	ix, err := NewDataAPIIndex(api, "arn", "secret", "db", "damage_cases")
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Ensure(ctx, 768); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(api.sqls[1], "vector(768)") {
		t.Errorf("expected vector column, got %s", api.sqls[1])
	}
	if err := ix.Ensure(ctx, 768); err != nil || len(api.sqls) != 2 {
		t.Errorf("second Ensure ran statements: %d, %v", len(api.sqls), err)
	}
	if err := ix.Upsert(ctx, []Point{{ID: "p1", Vector: []float32{0.5, -0.25}, Payload: Payload{Content: "c", Side: "rear"}}}); err != nil {
		t.Fatal(err)
	}
	last := api.params[len(api.params)-1]
	if v := last[4].Value.(*rdsdatatypes.FieldMemberStringValue).Value; v != "[0.5,-0.25]" {
		t.Errorf("unexpected vector literal %s", v)
	}

	api.out = &rdsdata.ExecuteStatementOutput{Records: [][]rdsdatatypes.Field{{
		&rdsdatatypes.FieldMemberStringValue{Value: "p1"},
		&rdsdatatypes.FieldMemberStringValue{Value: `{"content":"c","side":"rear"}`},
		&rdsdatatypes.FieldMemberDoubleValue{Value: 0.91},
	}}}
	hits, err := ix.Search(ctx, []float32{1}, 3, ptr(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "p1" || hits[0].Score != 0.91 || hits[0].Payload.Side != "rear" {
		t.Errorf("unexpected hits %+v", hits)
	}
	if sql := api.sqls[len(api.sqls)-1]; !strings.Contains(sql, ">= :min") || !strings.Contains(sql, "<=>") {
		t.Errorf("unexpected search sql %s", sql)
	}

	api.err = errors.New("cluster paused")
	if ix.Reachable(ctx) {
		t.Error("expected unreachable when statements fail")
	}
}

type fakeEvents struct {
	inputs []*eventbridge.PutEventsInput
	failed bool
}

func (f *fakeEvents) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.failed {
		return &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries:          []eventbridgetypes.PutEventsResultEntry{{ErrorCode: aws.String("Throttled"), ErrorMessage: aws.String("slow")}},
		}, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEventEmitter(t *testing.T) {
	ctx := context.Background()
	var nilEmitter *EventEmitter
	if err := nilEmitter.Emit(ctx, EventCaseIndexed, CaseEvent{}); err != nil {
		t.Errorf("nil emitter should discard, got %v", err)
	}

	api := &fakeEvents{}
	e := NewEventEmitter(api, "claims-bus")
	if err := e.Emit(ctx, EventEstimateGenerated, EstimateEvent{RunID: "r1", Operations: 3}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	entry := api.inputs[0].Entries[0]
	if aws.ToString(entry.Source) != EventSource || aws.ToString(entry.EventBusName) != "claims-bus" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if !strings.Contains(aws.ToString(entry.Detail), `"runId":"r1"`) {
		t.Errorf("unexpected detail %s", aws.ToString(entry.Detail))
	}

	api.failed = true
	if err := e.Emit(ctx, EventEstimateGenerated, EstimateEvent{}); err == nil {
		t.Error("expected failed entry error")
	}
}

func TestSaveEmitsCaseEvent(t *testing.T) {
	api := &fakeEvents{}
	r := NewRetriever(&keywordEmbedder{}, NewMemoryIndex("c"), Options{Dims: 3, Events: NewEventEmitter(api, "")})
	if _, err := r.Save(context.Background(), damage.Case{Side: "left", Narrative: "door dent"}); err != nil {
		t.Fatal(err)
	}
	if len(api.inputs) != 1 || aws.ToString(api.inputs[0].Entries[0].DetailType) != EventCaseIndexed {
		t.Errorf("expected one CaseIndexed event, got %+v", api.inputs)
	}
}

func TestGeminiEmbedder(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"embeddings":[{"values":[3,4]}]}`)
	}))
	defer srv.Close()

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "k",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	e := NewGeminiEmbedder(client, "", 0)
	if e.Dims() != DefaultEmbeddingDims {
		t.Errorf("expected default dims, got %d", e.Dims())
	}
	vec, err := e.Embed(context.Background(), "front bumper", TaskQuery)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 {
		t.Errorf("expected normalised vector, got %v", vec)
	}
	if !strings.Contains(body, TaskQuery) || !strings.Contains(body, "768") {
		t.Errorf("request missing task type or dimensionality: %s", body)
	}
	if _, err := e.Embed(context.Background(), " ", TaskQuery); err == nil {
		t.Error("expected error for empty text")
	}
}
