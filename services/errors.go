package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ai-tutor-platform/models"
)

// ErrorKind classifies a pipeline failure. It decides the HTTP status and
// whether a queued ingestion is worth retrying.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration_error"
	KindFetch         ErrorKind = "fetch_error"
	KindExtraction    ErrorKind = "extraction_error"
	KindProvider      ErrorKind = "provider_error"
	KindValidation    ErrorKind = "validation_error"
	KindConflict      ErrorKind = "conflict"
	KindNotFound      ErrorKind = "not_found"
	KindStorage       ErrorKind = "storage_error"
)

// PipelineError is the single error type surfaced by both pipelines.
type PipelineError struct {
	Kind       ErrorKind
	Stage      string
	DocumentID string
	Err        error
}

func (e *PipelineError) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Message is the caller-facing text, without the stage prefix.
func (e *PipelineError) Message() string { return e.Err.Error() }

func (e *PipelineError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindExtraction:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether re-running the same request could succeed
// without the caller changing anything.
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case KindFetch, KindProvider, KindStorage:
		return true
	}
	return false
}

func newPipelineError(kind ErrorKind, stage, documentID string, err error) *PipelineError {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out: %w", stage, err)
	}
	return &PipelineError{Kind: kind, Stage: stage, DocumentID: documentID, Err: err}
}

// NewConfigurationError names every missing configuration key.
func NewConfigurationError(pipeline string, keys []string) *PipelineError {
	return &PipelineError{
		Kind:  KindConfiguration,
		Stage: pipeline,
		Err:   fmt.Errorf("%s pipeline is not configured: missing %s", pipeline, strings.Join(keys, ", ")),
	}
}

// requireFields returns a validation error naming every empty field.
// Pairs are given as name, value, name, value...
func requireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &PipelineError{
		Kind:  KindValidation,
		Stage: "validation",
		Err:   fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", ")),
	}
}

// AsPipelineError unwraps err into a PipelineError, classifying unknown
// errors as storage or internal failures.
func AsPipelineError(err error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, models.ErrIngestionInProgress):
		return &PipelineError{Kind: KindConflict, Err: err}
	case errors.Is(err, models.ErrDocumentNotFound):
		return &PipelineError{Kind: KindNotFound, Err: err}
	}
	return &PipelineError{Kind: KindStorage, Err: err}
}

// KindOf returns the ErrorKind of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if pe := AsPipelineError(err); pe != nil {
		return pe.Kind
	}
	return ""
}
