package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestDefaultDimension(t *testing.T) {
	SetDefaultDimension("FunctionName", "estimate-lambda")
	t.Cleanup(func() { SetDefaultDimension("FunctionName", "") })

	r := New(Namespace)
	if r.dimensions["FunctionName"] != "estimate-lambda" {
		t.Errorf("expected FunctionName dimension, got %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := capture(t)

	Op("synthesize").
		Metric("LatencyMs", 1234.5, UnitMilliseconds).
		Count("Estimates").
		Property("claimId", "claim-7").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output: %v\nOutput: %s", err, buf.String())
	}

	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := aws["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cw, ok := aws["CloudWatchMetrics"].([]any)
	if !ok || len(cw) != 1 {
		t.Fatalf("expected one CloudWatchMetrics entry, got %v", aws["CloudWatchMetrics"])
	}
	if ns := cw[0].(map[string]any)["Namespace"]; ns != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, ns)
	}
	if doc["Operation"] != "synthesize" {
		t.Errorf("expected Operation=synthesize, got %v", doc["Operation"])
	}
	if doc["LatencyMs"] != 1234.5 {
		t.Errorf("expected LatencyMs=1234.5, got %v", doc["LatencyMs"])
	}
	if doc["Estimates"] != float64(1) {
		t.Errorf("expected Estimates=1, got %v", doc["Estimates"])
	}
	if doc["claimId"] != "claim-7" {
		t.Errorf("expected claimId property, got %v", doc["claimId"])
	}
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Errorf("expected a single line, got %q", buf.String())
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := capture(t)
	New("Test").Dimension("Operation", "noop").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Duration(t *testing.T) {
	r := New("Test").Duration("LatencyMs", 1500*time.Millisecond)
	if r.values["LatencyMs"] != 1500 {
		t.Errorf("expected 1500ms, got %v", r.values["LatencyMs"])
	}
	if r.metrics["LatencyMs"].Unit != UnitMilliseconds {
		t.Errorf("expected millisecond unit, got %s", r.metrics["LatencyMs"].Unit)
	}
}

func TestRecorder_Chaining(t *testing.T) {
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Bytes", 100, UnitBytes).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Bytes"] != 100 {
		t.Error("chaining Metric failed")
	}
	if rec.values["Calls"] != 1 {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}
