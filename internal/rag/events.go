package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// EventSource is the EventBridge source of every event.
const EventSource = "collision-estimator"

// Event detail types.
const (
	EventEstimateGenerated = "EstimateGenerated"
	EventCaseIndexed       = "CaseIndexed"
)

// EstimateEvent records one generated estimate.
type EstimateEvent struct {
	RunID          string   `json:"runId"`
	ClaimID        string   `json:"claimId,omitempty"`
	Model          string   `json:"model"`
	Categories     []string `json:"categories"`
	Operations     int      `json:"operations"`
	RetrievedCases int      `json:"retrievedCases"`
	Findings       int      `json:"findings"`
	Failed         bool     `json:"failed"`
	Timestamp      string   `json:"timestamp"`
}

// CaseEvent records one indexed case.
type CaseEvent struct {
	PointID   string `json:"pointId"`
	VIN       string `json:"vin,omitempty"`
	Side      string `json:"side"`
	Findings  int    `json:"findings"`
	Timestamp string `json:"timestamp"`
}

// PutEventsAPI is the part of the EventBridge client the emitter uses.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventEmitter publishes feedback events. A nil emitter discards events.
type EventEmitter struct {
	client PutEventsAPI
	bus    string
}

func NewEventEmitter(client PutEventsAPI, bus string) *EventEmitter {
	return &EventEmitter{client: client, bus: bus}
}

// Emit sends one event with detail marshalled as JSON.
func (e *EventEmitter) Emit(ctx context.Context, detailType string, detail any) error {
	if e == nil || e.client == nil {
		return nil
	}
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(EventSource),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(body)),
	}
	if e.bus != "" {
		entry.EventBusName = aws.String(e.bus)
	}
	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("detailType", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("detailType", detailType).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("detailType", detailType).Str("bus", e.bus).Msg("Event emitted to EventBridge")
	return nil
}
