package models

import "time"

// ProcessingState is the coarse ingestion state persisted on a source document.
type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateSucceeded  ProcessingState = "succeeded"
	StateFailed     ProcessingState = "failed"
)

// SourceDocument is an uploaded PDF tracked in the pyq_pdfs collection.
type SourceDocument struct {
	ID               string          `bson:"_id" json:"id"`
	FileURL          string          `bson:"fileUrl" json:"fileUrl"`
	Title            string          `bson:"title" json:"title"`
	ContentProcessed bool            `bson:"contentProcessed" json:"contentProcessed"`
	ProcessingError  *string         `bson:"processingError" json:"processingError"`
	ProcessedAt      *time.Time      `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
	ProcessingState  ProcessingState `bson:"processingState,omitempty" json:"processingState,omitempty"`
	AttemptID        string          `bson:"attemptId,omitempty" json:"-"`
	LeaseExpiresAt   *time.Time      `bson:"leaseExpiresAt,omitempty" json:"leaseExpiresAt,omitempty"`
	ChunkCount       int             `bson:"chunkCount,omitempty" json:"chunkCount,omitempty"`
	PageCount        int             `bson:"pageCount,omitempty" json:"pageCount,omitempty"`
}

// StatusUpdate is the single write that closes an ingestion attempt.
type StatusUpdate struct {
	State            ProcessingState
	ContentProcessed bool
	ProcessingError  *string
	ProcessedAt      time.Time
	ChunkCount       int
	PageCount        int
}

// Metadata keys carried by every chunk and vector record.
const (
	MetaDocumentID    = "documentId"
	MetaDocumentTitle = "documentTitle"
	MetaSourceURL     = "sourceUrl"
	MetaChunkIndex    = "chunkIndex"
	MetaPageNumber    = "pageNumber"
)

// Chunk is a window of extracted text. Start and End are rune offsets into
// the extracted text, End exclusive.
type Chunk struct {
	Index    int
	Text     string
	Start    int
	End      int
	Metadata map[string]any
}

type VectorRecord struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// DocumentID returns the owning document id, or "" when missing.
func (r VectorRecord) DocumentID() string {
	id, _ := r.Metadata[MetaDocumentID].(string)
	return id
}

type VectorMatch struct {
	ID       string
	Score    float32
	Text     string
	Metadata map[string]any
}

func (m VectorMatch) DocumentID() string {
	id, _ := m.Metadata[MetaDocumentID].(string)
	return id
}

// Request/Response types

type ProcessPDFRequest struct {
	PDFID   string `json:"pdfId"`
	FileURL string `json:"fileUrl"`
	Title   string `json:"title"`
}

type ProcessPDFResponse struct {
	Message string `json:"message"`
	PDFID   string `json:"pdfId"`
	Chunks  int    `json:"chunks"`
	Pages   int    `json:"pages"`
}

type EnqueuePDFResponse struct {
	Message string `json:"message"`
	PDFID   string `json:"pdfId"`
	TaskID  string `json:"taskId"`
}

type ChatWithPDFRequest struct {
	Question string `json:"question"`
	PDFID    string `json:"pdfId"`
	PDFTitle string `json:"pdfTitle"`
}

type Source struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata"`
}

type ChatWithPDFResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}
