package document

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// ExportFormat selects the artifact serialization. Field semantics are
// identical across formats.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatXLSX ExportFormat = "xlsx"
)

// Valid reports whether f is a supported export format
func (f ExportFormat) Valid() bool {
	switch f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return true
	}
	return false
}

// ExportArtifact references a materialized export file
type ExportArtifact struct {
	ExportID    string       `json:"export_id"`
	Filename    string       `json:"filename"`
	Format      ExportFormat `json:"format"`
	RecordCount int          `json:"record_count"`
	DownloadURL string       `json:"download_url"`
}

// exportRow is one flattened field of one document
type exportRow struct {
	DocumentID   string   `json:"document_id"`
	Filename     string   `json:"filename"`
	DocumentType string   `json:"document_type"`
	FieldName    string   `json:"field_name"`
	Value        string   `json:"value"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Export materializes completed extraction results into a downloadable
// artifact, one row per extracted field. The request is all-or-nothing:
// if any referenced document is missing or not completed, no artifact is
// produced.
func (s *Service) Export(ids []string, format ExportFormat, includeConfidence bool) (*ExportArtifact, error) {
	if len(ids) == 0 {
		return nil, &ExportError{Reason: "no documents requested"}
	}
	if !format.Valid() {
		return nil, &ExportError{Reason: fmt.Sprintf("unsupported format %q", format)}
	}

	docs := make([]*Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.db.GetDocument(id)
		if err != nil {
			return nil, &ExportError{Reason: fmt.Sprintf("document not found: %s", id)}
		}
		if doc.Status != StatusCompleted {
			return nil, &ExportError{Reason: fmt.Sprintf("document %s is not completed (status %q)", id, doc.Status)}
		}
		docs = append(docs, doc)
	}

	rows := flattenRows(docs, includeConfidence)

	var data []byte
	var err error
	switch format {
	case FormatCSV:
		data, err = encodeCSV(rows, includeConfidence)
	case FormatJSON:
		data, err = json.MarshalIndent(rows, "", "  ")
	case FormatXLSX:
		data, err = encodeXLSX(rows, includeConfidence)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}

	exportID := s.idGenerator.Generate()
	filename := fmt.Sprintf("export_%s_%s.%s", s.timeSource.Now().Format("20060102_150405"), exportID, format)
	if _, err := s.storage.Save(path.Join("exports", filename), data); err != nil {
		return nil, fmt.Errorf("writing export artifact: %w", err)
	}

	slog.Info("Export created", "export_id", exportID, "format", format, "documents", len(docs), "rows", len(rows))
	return &ExportArtifact{
		ExportID:    exportID,
		Filename:    filename,
		Format:      format,
		RecordCount: len(rows),
		DownloadURL: "/api/exports/" + filename,
	}, nil
}

// GetExportArtifact retrieves a previously materialized export file
func (s *Service) GetExportArtifact(filename string) ([]byte, string, error) {
	data, err := s.storage.Get(path.Join("exports", path.Base(filename)))
	if err != nil {
		return nil, "", &NotFoundError{ID: filename}
	}

	contentType := "application/octet-stream"
	switch ExportFormat(path.Ext(filename)[1:]) {
	case FormatCSV:
		contentType = "text/csv"
	case FormatJSON:
		contentType = "application/json"
	case FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return data, contentType, nil
}

func flattenRows(docs []*Document, includeConfidence bool) []exportRow {
	rows := make([]exportRow, 0)
	for _, doc := range docs {
		for _, field := range doc.Result.Fields {
			row := exportRow{
				DocumentID:   doc.ID,
				Filename:     doc.OriginalFilename,
				DocumentType: doc.Result.DocumentType,
				FieldName:    field.Name,
				Value:        field.Value,
			}
			if includeConfidence {
				confidence := field.Confidence
				row.Confidence = &confidence
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func exportHeader(includeConfidence bool) []string {
	header := []string{"document_id", "filename", "document_type", "field_name", "value"}
	if includeConfidence {
		header = append(header, "confidence")
	}
	return header
}

func (r exportRow) cells() []string {
	cells := []string{r.DocumentID, r.Filename, r.DocumentType, r.FieldName, r.Value}
	if r.Confidence != nil {
		cells = append(cells, strconv.FormatFloat(*r.Confidence, 'f', -1, 64))
	}
	return cells
}

func encodeCSV(rows []exportRow, includeConfidence bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader(includeConfidence)); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.Write(row.cells()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeXLSX(rows []exportRow, includeConfidence bool) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Documents"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	for col, h := range exportHeader(includeConfidence) {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, row := range rows {
		for col, v := range row.cells() {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
