package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rawField mirrors the provider's field shape before validation. Value and
// Confidence stay raw so a single malformed field cannot fail the whole
// response.
type rawField struct {
	FieldName  string          `json:"field_name"`
	Value      json.RawMessage `json:"value"`
	DataType   string          `json:"data_type"`
	Confidence json.RawMessage `json:"confidence"`
}

type rawResponse struct {
	DocumentType string      `json:"document_type"`
	Fields       *[]rawField `json:"fields"`
}

// parseDocumentJSON parses a provider response into validated document data.
// Individual fields that fail validation are dropped; a response that does
// not contain the expected shape at all yields a SchemaError.
func parseDocumentJSON(text string) (*DocumentData, error) {
	original := text
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return nil, &SchemaError{Raw: original, Err: fmt.Errorf("no JSON object found in response")}
	}
	text = text[startIdx : endIdx+1]

	var raw rawResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &SchemaError{Raw: original, Err: fmt.Errorf("unmarshaling json: %w", err)}
	}
	if raw.Fields == nil {
		return nil, &SchemaError{Raw: original, Err: fmt.Errorf("response has no fields array")}
	}

	data := &DocumentData{
		DocumentType: strings.TrimSpace(raw.DocumentType),
		Fields:       make([]Field, 0, len(*raw.Fields)),
	}
	for _, rf := range *raw.Fields {
		field, ok := validateField(rf)
		if !ok {
			continue
		}
		data.Fields = append(data.Fields, field)
	}

	return data, nil
}

// validateField applies the per-field validation rules. A field survives
// only if it has a name, a recognized data type, a value that parses under
// that type, and a confidence that is either absent or a number in [0,1].
func validateField(rf rawField) (Field, bool) {
	name := strings.TrimSpace(rf.FieldName)
	if name == "" {
		return Field{}, false
	}

	dataType := DataType(strings.ToLower(strings.TrimSpace(rf.DataType)))
	if !dataType.Valid() {
		return Field{}, false
	}

	value, ok := parseValue(rf.Value, dataType)
	if !ok {
		return Field{}, false
	}

	confidence, ok := parseConfidence(rf.Confidence)
	if !ok {
		return Field{}, false
	}

	return Field{
		Name:       name,
		Value:      value,
		DataType:   dataType,
		Confidence: confidence,
	}, true
}

// parseConfidence returns the field confidence. A missing or null
// confidence counts as 0; a non-numeric or out-of-range one rejects the
// field entirely.
func parseConfidence(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, true
	}
	var confidence float64
	if err := json.Unmarshal(raw, &confidence); err != nil {
		return 0, false
	}
	if confidence < 0 || confidence > 1 {
		return 0, false
	}
	return confidence, true
}

// parseValue validates a raw scalar against its declared data type and
// returns the normalized string form
func parseValue(raw json.RawMessage, dataType DataType) (string, bool) {
	scalar, ok := decodeScalar(raw)
	if !ok {
		return "", false
	}

	switch dataType {
	case DataTypeText:
		if strings.TrimSpace(scalar) == "" {
			return "", false
		}
		return strings.TrimSpace(scalar), true
	case DataTypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(scalar), 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case DataTypeCurrency:
		n, ok := parseCurrency(scalar)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', 2, 64), true
	case DataTypeDate:
		d, ok := parseDate(scalar)
		if !ok {
			return "", false
		}
		return d, true
	}
	return "", false
}

// decodeScalar accepts JSON strings, numbers and booleans. Objects, arrays
// and null are not scalars.
func decodeScalar(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	return "", false
}

// parseCurrency strips common currency decoration before parsing the amount
func parseCurrency(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	for _, symbol := range []string{"$", "€", "£", "¥", "USD", "EUR", "GBP"} {
		s = strings.ReplaceAll(s, symbol, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// parseDate normalizes a date string to ISO 8601 (YYYY-MM-DD)
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02"), true
		}
	}
	return "", false
}
