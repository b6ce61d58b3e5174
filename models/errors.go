package models

import "errors"

var (
	ErrDocumentNotFound    = errors.New("source document not found")
	ErrIngestionInProgress = errors.New("ingestion already in progress for this document")
	ErrAttemptSuperseded   = errors.New("ingestion attempt superseded by a newer attempt")
	ErrMissingDocumentID   = errors.New("vector record metadata is missing documentId")
)
