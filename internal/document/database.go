package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const documentBucket = "documents"

// Stats aggregates processing metrics across all documents
type Stats struct {
	TotalDocuments           int            `json:"total_documents"`
	UploadedDocuments        int            `json:"uploaded_documents"`
	ProcessingDocuments      int            `json:"processing_documents"`
	CompletedDocuments       int            `json:"completed_documents"`
	FailedDocuments          int            `json:"failed_documents"`
	DocumentsByType          map[string]int `json:"documents_by_type"`
	AverageProcessingSeconds float64        `json:"average_processing_time_seconds"`
	AverageConfidence        float64        `json:"average_confidence_score"`
}

// DB defines the interface for document persistence. Transition is the
// only mutation path for status; it is an atomic compare-and-set, which is
// what enforces per-document exclusivity without a separate lock.
type DB interface {
	// CreateDocument persists a new document record
	CreateDocument(doc *Document) error

	// GetDocument retrieves a document by ID
	GetDocument(id string) (*Document, error)

	// ListDocuments returns documents newest-first, optionally filtered by
	// status, along with the total count before paging
	ListDocuments(status Status, page, pageSize int) ([]*Document, int, error)

	// Transition atomically moves a document from expected to next. It
	// returns false without modifying anything when the current status does
	// not match expected. A transition to completed attaches result; a
	// transition to failed records reason.
	Transition(id string, expected, next Status, result *ExtractionResult, reason string) (bool, error)

	// DeleteDocument removes a document record
	DeleteDocument(id string) error

	// Stats returns aggregate processing statistics
	Stats() (*Stats, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Update transactions are
// serialized, which makes Transition's read-check-write atomic.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(documentBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// CreateDocument persists a new document record
func (b *BoltDB) CreateDocument(doc *Document) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		if bucket.Get([]byte(doc.ID)) != nil {
			return fmt.Errorf("document already exists: %s", doc.ID)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		return bucket.Put([]byte(doc.ID), data)
	})
}

// GetDocument retrieves a document by ID
func (b *BoltDB) GetDocument(id string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return &NotFoundError{ID: id}
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns documents newest-first with paging
func (b *BoltDB) ListDocuments(status Status, page, pageSize int) ([]*Document, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	docs := make([]*Document, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling document: %w", err)
			}
			if status != "" && doc.Status != status {
				return nil
			}
			docs = append(docs, &doc)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	// Newest first; ties broken by ID so page walks are stable
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	total := len(docs)
	start := (page - 1) * pageSize
	if start >= total {
		return []*Document{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return docs[start:end], total, nil
}

// Transition atomically moves a document between lifecycle states
func (b *BoltDB) Transition(id string, expected, next Status, result *ExtractionResult, reason string) (bool, error) {
	matched := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return &NotFoundError{ID: id}
		}

		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("unmarshaling document: %w", err)
		}
		if doc.Status != expected {
			return nil
		}

		doc.Status = next
		doc.UpdatedAt = time.Now()
		if next == StatusCompleted {
			doc.Result = result
			doc.FailureReason = ""
		} else {
			doc.Result = nil
			doc.FailureReason = reason
		}

		updated, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		if err := bucket.Put([]byte(id), updated); err != nil {
			return err
		}
		matched = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}

// DeleteDocument removes a document record
func (b *BoltDB) DeleteDocument(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		if bucket.Get([]byte(id)) == nil {
			return &NotFoundError{ID: id}
		}
		return bucket.Delete([]byte(id))
	})
}

// Stats returns aggregate processing statistics
func (b *BoltDB) Stats() (*Stats, error) {
	stats := &Stats{DocumentsByType: make(map[string]int)}
	var processingSum, confidenceSum float64
	var completed int

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling document: %w", err)
			}
			stats.TotalDocuments++
			switch doc.Status {
			case StatusUploaded:
				stats.UploadedDocuments++
			case StatusProcessing:
				stats.ProcessingDocuments++
			case StatusCompleted:
				stats.CompletedDocuments++
			case StatusFailed:
				stats.FailedDocuments++
			}
			if doc.Result != nil {
				stats.DocumentsByType[doc.Result.DocumentType]++
				processingSum += doc.Result.ProcessingSeconds
				confidenceSum += doc.Result.ConfidenceScore
				completed++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if completed > 0 {
		stats.AverageProcessingSeconds = processingSum / float64(completed)
		stats.AverageConfidence = confidenceSum / float64(completed)
	}
	return stats, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
