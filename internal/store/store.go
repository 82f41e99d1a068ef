// Package store persists estimate runs so a claim's results can be read
// back after the request that produced them has finished.
//
// Runs live in a single DynamoDB table. Every run for a claim shares the
// partition key CLAIM#{claimId}; the sort key is RUN#{runId}. The report
// body is zstd-compressed into a binary attribute, and a TTL attribute
// (expiresAt) removes records after the configured number of days.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long runs are kept when no TTL is configured.
const DefaultTTL = 30 * 24 * time.Hour

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is the persisted summary of one estimate run plus its full report.
type Run struct {
	ClaimID    string          `dynamodbav:"-" json:"claim_id"`
	RunID      string          `dynamodbav:"-" json:"run_id"`
	Kind       string          `dynamodbav:"kind" json:"kind"`
	Status     string          `dynamodbav:"status" json:"status"`
	Model      string          `dynamodbav:"model,omitempty" json:"model,omitempty"`
	Images     int             `dynamodbav:"images" json:"images"`
	Findings   int             `dynamodbav:"findings" json:"findings"`
	Operations int             `dynamodbav:"operations" json:"operations"`
	Error      string          `dynamodbav:"error,omitempty" json:"error,omitempty"`
	CreatedAt  int64           `dynamodbav:"createdAt" json:"created_at"`
	Report     json.RawMessage `dynamodbav:"-" json:"report,omitempty"`
}

// RunStore persists runs. Get returns nil, nil when the run does not exist.
type RunStore interface {
	PutRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, claimID, runID string) (*Run, error)
	ListRuns(ctx context.Context, claimID string) ([]*Run, error)
}

// NewRunID returns a random run id.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

// NewClaimID returns an id for runs submitted without a claim id.
func NewClaimID() string {
	return "claim-" + uuid.NewString()
}
