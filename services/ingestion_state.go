package services

import (
	"time"

	"ai-tutor-platform/models"
)

// IngestionState is the position of one ingestion attempt in its linear
// state machine: Fetching, Extracting, Chunking, Embedding, then Succeeded.
// Any stage may move to Failed.
type IngestionState int

const (
	StateFetching IngestionState = iota
	StateExtracting
	StateChunking
	StateEmbedding
	StateSucceeded
	StateFailed
)

func (s IngestionState) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateChunking:
		return "chunking"
	case StateEmbedding:
		return "embedding"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s IngestionState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// NextState is the transition function. A stage error always fails the
// attempt; terminal states never change.
func NextState(current IngestionState, stageErr error) IngestionState {
	if current.Terminal() {
		return current
	}
	if stageErr != nil {
		return StateFailed
	}
	return current + 1
}

// IngestionOutcome is what an attempt ended with.
type IngestionOutcome struct {
	State    IngestionState
	FailedAt IngestionState
	Err      error
	Chunks   int
	Pages    int
}

// StatusUpdateFor maps a terminal outcome to the status fields written on
// the source document. It is the only place those fields are derived.
func StatusUpdateFor(outcome IngestionOutcome, now time.Time) models.StatusUpdate {
	if outcome.State == StateSucceeded {
		return models.StatusUpdate{
			State:            models.StateSucceeded,
			ContentProcessed: true,
			ProcessingError:  nil,
			ProcessedAt:      now,
			ChunkCount:       outcome.Chunks,
			PageCount:        outcome.Pages,
		}
	}

	msg := "ingestion failed"
	if outcome.Err != nil {
		msg = outcome.Err.Error()
	}
	return models.StatusUpdate{
		State:            models.StateFailed,
		ContentProcessed: false,
		ProcessingError:  &msg,
		ProcessedAt:      now,
	}
}
