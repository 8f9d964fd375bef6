package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DataType tags the semantic type of an extracted field value
type DataType string

const (
	DataTypeText     DataType = "text"
	DataTypeNumber   DataType = "number"
	DataTypeCurrency DataType = "currency"
	DataTypeDate     DataType = "date"
)

// Valid reports whether the data type is one of the recognized kinds
func (d DataType) Valid() bool {
	switch d {
	case DataTypeText, DataTypeNumber, DataTypeCurrency, DataTypeDate:
		return true
	}
	return false
}

// Field is a single labeled value extracted from a document.
// Confidence is always within [0,1]; fields whose reported confidence
// falls outside that range never make it into a Field.
type Field struct {
	Name       string   `json:"field_name"`
	Value      string   `json:"value"`
	DataType   DataType `json:"data_type"`
	Confidence float64  `json:"confidence"`
}

// DocumentData contains the structured information extracted from a document.
// Fields preserve the provider's response order.
type DocumentData struct {
	DocumentType string  `json:"document_type"`
	Fields       []Field `json:"fields"`
}

// Extractor defines the interface for document extraction providers
type Extractor interface {
	// Extract analyzes a document (image or PDF) and returns structured fields
	Extract(ctx context.Context, data []byte, contentType string) (*DocumentData, error)
	// Close closes the extractor and releases resources
	Close() error
}

// TransientError indicates a provider failure that was environmental:
// network errors, non-success status codes, or an exceeded timeout.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// SchemaError indicates the provider responded, but with data that cannot
// be parsed into the expected shape. Raw holds the response text for
// diagnosis.
type SchemaError struct {
	Raw string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("provider response does not match schema: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err originated from the extraction provider
func IsProviderError(err error) bool {
	var transient *TransientError
	var schema *SchemaError
	return errors.As(err, &transient) || errors.As(err, &schema)
}

// CategorizeDocument returns the document type label for extracted data,
// falling back to inference from field names when the provider omitted one
func CategorizeDocument(data *DocumentData) string {
	if data.DocumentType != "" {
		return data.DocumentType
	}

	var names []string
	for _, f := range data.Fields {
		names = append(names, strings.ToLower(f.Name))
	}
	joined := strings.Join(names, " ")

	switch {
	case containsAny(joined, "invoice", "inv no", "invoice number"):
		return "invoice"
	case containsAny(joined, "receipt", "transaction"):
		return "receipt"
	case containsAny(joined, "purchase order", "po number"):
		return "purchase_order"
	case containsAny(joined, "bill", "billing"):
		return "bill"
	}
	return "other"
}

func containsAny(s string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
