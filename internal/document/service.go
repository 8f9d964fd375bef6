package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zombor/docproc/internal/extraction"
)

// IDGenerator generates unique IDs for documents and export artifacts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the tunable limits of the processing pipeline
type Config struct {
	// MaxFileSize is the largest accepted upload in bytes (default 10 MiB)
	MaxFileSize int64
	// MaxConcurrent bounds simultaneous in-flight provider calls (default 5)
	MaxConcurrent int64
	// ExtractionTimeout is the wall-clock budget per provider call (default 120s)
	ExtractionTimeout time.Duration
	// ConfidenceThreshold flags low-confidence results for review (default 0.7)
	ConfidenceThreshold float64
	// RetryAttempts is how many times a transient provider failure is
	// retried within a job before the job fails (default 0)
	RetryAttempts int
	// RetryBackoff is the pause between retry attempts (default 2s)
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 10 << 20
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.ExtractionTimeout <= 0 {
		c.ExtractionTimeout = 120 * time.Second
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = extraction.DefaultConfidenceThreshold
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

// allowedContentTypes is the upload allow-list. JPEG aliases are
// normalized before the check.
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
}

// Service owns the document lifecycle: ingestion, the processing state
// machine, status reads, export and statistics
type Service struct {
	db          DB
	extractor   extraction.Extractor
	storage     Storage
	cfg         Config
	sem         *semaphore.Weighted
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor extraction.Extractor, storage Storage, cfg Config) *Service {
	return NewServiceWithDeps(db, extractor, storage, cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor extraction.Extractor, storage Storage, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Job is the handle for one asynchronous processing attempt. Done is
// closed once the document has reached a terminal status; Cancel abandons
// the in-flight provider call, failing the job.
type Job struct {
	DocumentID string
	done       chan struct{}
	cancel     context.CancelFunc
}

// Done returns a channel closed when the job has committed its outcome
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel abandons the job's provider call
func (j *Job) Cancel() {
	j.cancel()
}

// normalizeContentType lowercases the MIME type and folds common aliases
func normalizeContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch ct {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/tif":
		return "image/tiff"
	}
	return ct
}

// Register validates an upload and creates a document in the uploaded
// state. A rejected upload leaves no trace: no record, no stored bytes.
func (s *Service) Register(filename string, data []byte, contentType string) (*Document, error) {
	ct := normalizeContentType(contentType)
	if !allowedContentTypes[ct] {
		return nil, &ValidationError{Reason: fmt.Sprintf("content type %q not allowed; accepted: pdf, png, jpeg, tiff", contentType)}
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, &ValidationError{Reason: fmt.Sprintf("file size %d exceeds maximum %d bytes", len(data), s.cfg.MaxFileSize)}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "file is empty"}
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	ref, err := s.storage.Save(fmt.Sprintf("%s%s", id, filepath.Ext(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	doc := &Document{
		ID:               id,
		OriginalFilename: filename,
		ContentType:      ct,
		Size:             int64(len(data)),
		StorageRef:       ref,
		Status:           StatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.db.CreateDocument(doc); err != nil {
		s.storage.Delete(ref)
		return nil, fmt.Errorf("saving document record: %w", err)
	}

	slog.Info("Document registered", "id", id, "filename", filename, "content_type", ct, "size", len(data))
	return doc, nil
}

// StartProcessing moves a document into the processing state and
// dispatches extraction asynchronously. It returns as soon as the
// transition is committed; the returned Job tracks the in-flight work.
//
// The uploaded -> processing compare-and-set is the exclusivity token:
// of two concurrent starts on the same document, exactly one wins and the
// other gets InvalidStateError.
func (s *Service) StartProcessing(ctx context.Context, id string) (*Job, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusUploaded {
		return nil, &InvalidStateError{ID: id, Status: doc.Status}
	}

	ok, err := s.db.Transition(id, StatusUploaded, StatusProcessing, nil, "")
	if err != nil {
		return nil, fmt.Errorf("transitioning document: %w", err)
	}
	if !ok {
		// Lost the race to a concurrent start
		return nil, &InvalidStateError{ID: id, Status: StatusProcessing}
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		DocumentID: id,
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	go s.runJob(jobCtx, job, doc)

	slog.Info("Processing started", "id", id)
	return job, nil
}

// runJob performs one extraction attempt and commits the terminal status
func (s *Service) runJob(ctx context.Context, job *Job, doc *Document) {
	defer close(job.done)
	defer job.cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.failJob(doc.ID, fmt.Sprintf("canceled before dispatch: %v", err))
		return
	}
	defer s.sem.Release(1)

	data, err := s.storage.Get(doc.StorageRef)
	if err != nil {
		s.failJob(doc.ID, fmt.Sprintf("reading stored file: %v", err))
		return
	}

	start := s.timeSource.Now()
	extracted, err := s.extract(ctx, data, doc.ContentType)
	elapsed := s.timeSource.Now().Sub(start)
	if err != nil {
		slog.Error("Extraction failed",
			"id", doc.ID,
			"filename", doc.OriginalFilename,
			"content_type", doc.ContentType,
			"elapsed", elapsed,
			"error", err,
		)
		s.failJob(doc.ID, err.Error())
		return
	}

	eval := extraction.Evaluate(extracted.Fields, s.cfg.ConfidenceThreshold)
	result := &ExtractionResult{
		DocumentType:      extraction.CategorizeDocument(extracted),
		ConfidenceScore:   eval.Score,
		BelowThreshold:    eval.BelowThreshold,
		ProcessingSeconds: elapsed.Seconds(),
		Fields:            extracted.Fields,
	}

	ok, err := s.db.Transition(doc.ID, StatusProcessing, StatusCompleted, result, "")
	if err != nil {
		slog.Error("Failed to commit result", "id", doc.ID, "error", err)
		return
	}
	if !ok {
		slog.Error("Document left processing state mid-job", "id", doc.ID)
		return
	}

	slog.Info("Document completed",
		"id", doc.ID,
		"document_type", result.DocumentType,
		"fields", len(result.Fields),
		"confidence", result.ConfidenceScore,
		"below_threshold", result.BelowThreshold,
		"elapsed", elapsed,
	)
}

// extract invokes the provider under the configured wall-clock budget,
// retrying transient failures when retries are enabled
func (s *Service) extract(ctx context.Context, data []byte, contentType string) (*extraction.DocumentData, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			slog.Info("Retrying extraction", "attempt", attempt, "backoff", s.cfg.RetryBackoff)
			select {
			case <-time.After(s.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, &extraction.TransientError{Err: ctx.Err()}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExtractionTimeout)
		extracted, err := s.extractor.Extract(callCtx, data, contentType)
		cancel()
		if err == nil {
			return extracted, nil
		}
		lastErr = err

		// Only transient failures are worth a second attempt; a schema
		// mismatch will just recur
		var transient *extraction.TransientError
		if !errors.As(err, &transient) {
			return nil, err
		}
	}
	return nil, lastErr
}

// failJob commits the failed status with a human-readable reason
func (s *Service) failJob(id, reason string) {
	ok, err := s.db.Transition(id, StatusProcessing, StatusFailed, nil, reason)
	if err != nil {
		slog.Error("Failed to commit failure", "id", id, "reason", reason, "error", err)
		return
	}
	if !ok {
		slog.Error("Document left processing state before failure commit", "id", id)
	}
}

// StatusReport is the externally visible view of a document's lifecycle
type StatusReport struct {
	DocumentID string            `json:"document_id"`
	Status     Status            `json:"status"`
	Result     *ExtractionResult `json:"result,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// GetStatus reads the current lifecycle state of a document. It never
// blocks on an in-flight job.
func (s *Service) GetStatus(id string) (*StatusReport, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Result:     doc.Result,
		Reason:     doc.FailureReason,
	}, nil
}

// GetDocument retrieves a full document record by ID
func (s *Service) GetDocument(id string) (*Document, error) {
	return s.db.GetDocument(id)
}

// ListDocuments returns documents newest-first with paging, optionally
// filtered by status
func (s *Service) ListDocuments(status Status, page, pageSize int) ([]*Document, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, &ValidationError{Reason: fmt.Sprintf("unknown status filter %q", status)}
	}
	return s.db.ListDocuments(status, page, pageSize)
}

// Statistics returns aggregate processing metrics
func (s *Service) Statistics() (*Stats, error) {
	return s.db.Stats()
}

// DeleteDocument removes a document and its stored bytes. Documents with
// an in-flight job cannot be deleted.
func (s *Service) DeleteDocument(id string) error {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return err
	}
	if doc.Status == StatusProcessing {
		return &InvalidStateError{ID: id, Status: doc.Status}
	}

	if err := s.storage.Delete(doc.StorageRef); err != nil {
		slog.Warn("Failed to delete stored file", "id", id, "ref", doc.StorageRef, "error", err)
	}
	if err := s.db.DeleteDocument(id); err != nil {
		return fmt.Errorf("deleting document record: %w", err)
	}

	slog.Info("Document deleted", "id", id)
	return nil
}

// GetDocumentFile retrieves the original uploaded bytes for a document
func (s *Service) GetDocumentFile(id string) ([]byte, string, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.storage.Get(doc.StorageRef)
	if err != nil {
		return nil, "", fmt.Errorf("reading stored file: %w", err)
	}
	return data, doc.ContentType, nil
}

// Poll reads the document status at a fixed interval until it reaches a
// terminal state, the attempts run out (ErrPollTimeout), or ctx ends
func (s *Service) Poll(ctx context.Context, id string, interval time.Duration, maxAttempts int) (*StatusReport, error) {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		report, err := s.GetStatus(id)
		if err != nil {
			return nil, err
		}
		if report.Status.Terminal() {
			return report, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrPollTimeout, maxAttempts)
}
