package document

import (
	"time"

	"github.com/zombor/docproc/internal/extraction"
)

// Status is the lifecycle state of a document. Transitions are monotonic:
// uploaded -> processing -> completed | failed. No other edge exists.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transition
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document represents an ingested document and its processing state.
// Result is non-nil exactly when Status is completed; FailureReason is
// non-empty exactly when Status is failed.
type Document struct {
	ID               string            `json:"id"`
	OriginalFilename string            `json:"original_filename"`
	ContentType      string            `json:"content_type"`
	Size             int64             `json:"size"`
	StorageRef       string            `json:"storage_ref"`
	Status           Status            `json:"status"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	Result           *ExtractionResult `json:"result,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ExtractionResult is the confidence-scored outcome of a completed job.
// It is written once, atomically with the completed status, and never
// mutated afterwards. Fields preserve the provider's response order.
type ExtractionResult struct {
	DocumentType      string             `json:"document_type"`
	ConfidenceScore   float64            `json:"confidence_score"`
	BelowThreshold    bool               `json:"below_threshold"`
	ProcessingSeconds float64            `json:"processing_time_seconds"`
	Fields            []extraction.Field `json:"fields"`
}
