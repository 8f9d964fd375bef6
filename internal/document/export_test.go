package document

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/docproc/internal/extraction"
)

var _ = Describe("Export", func() {
	var (
		db      *mockDB
		storage *mockStorage
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		service = NewServiceWithDeps(db, &mockExtractor{}, storage, Config{},
			&fixedIDGenerator{ids: []string{"export-1"}},
			&fixedTimeSource{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		)

		completed := &Document{
			ID:               "doc-done",
			OriginalFilename: "invoice.pdf",
			ContentType:      "application/pdf",
			Status:           StatusCompleted,
			Result: &ExtractionResult{
				DocumentType:    "invoice",
				ConfidenceScore: 0.9,
				Fields: []extraction.Field{
					{Name: "invoice_number", Value: "INV-1001", DataType: extraction.DataTypeText, Confidence: 0.95},
					{Name: "total", Value: "1234.50", DataType: extraction.DataTypeCurrency, Confidence: 0.85},
				},
			},
			CreatedAt: time.Now(),
		}
		processing := &Document{
			ID:               "doc-busy",
			OriginalFilename: "receipt.jpg",
			ContentType:      "image/jpeg",
			Status:           StatusProcessing,
			CreatedAt:        time.Now(),
		}
		Expect(db.CreateDocument(completed)).To(Succeed())
		Expect(db.CreateDocument(processing)).To(Succeed())
	})

	It("should produce one CSV row per extracted field", func() {
		artifact, err := service.Export([]string{"doc-done"}, FormatCSV, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(artifact.RecordCount).To(Equal(2))
		Expect(artifact.Format).To(Equal(FormatCSV))

		data, _, err := service.GetExportArtifact(artifact.Filename)
		Expect(err).NotTo(HaveOccurred())

		records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(3))
		Expect(records[0]).To(Equal([]string{"document_id", "filename", "document_type", "field_name", "value", "confidence"}))
		Expect(records[1]).To(Equal([]string{"doc-done", "invoice.pdf", "invoice", "invoice_number", "INV-1001", "0.95"}))
		Expect(records[2]).To(Equal([]string{"doc-done", "invoice.pdf", "invoice", "total", "1234.50", "0.85"}))
	})

	It("should omit the confidence column when not requested", func() {
		artifact, err := service.Export([]string{"doc-done"}, FormatCSV, false)
		Expect(err).NotTo(HaveOccurred())

		data, _, err := service.GetExportArtifact(artifact.Filename)
		Expect(err).NotTo(HaveOccurred())

		records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(records[0]).To(Equal([]string{"document_id", "filename", "document_type", "field_name", "value"}))
		Expect(records[1]).To(HaveLen(5))
	})

	It("should serialize the same rows as JSON", func() {
		artifact, err := service.Export([]string{"doc-done"}, FormatJSON, true)
		Expect(err).NotTo(HaveOccurred())

		data, contentType, err := service.GetExportArtifact(artifact.Filename)
		Expect(err).NotTo(HaveOccurred())
		Expect(contentType).To(Equal("application/json"))

		var rows []map[string]any
		Expect(json.Unmarshal(data, &rows)).To(Succeed())
		Expect(rows).To(HaveLen(2))
		Expect(rows[0]).To(HaveKeyWithValue("document_id", "doc-done"))
		Expect(rows[0]).To(HaveKeyWithValue("field_name", "invoice_number"))
		Expect(rows[0]).To(HaveKey("confidence"))
	})

	It("should produce a readable XLSX workbook", func() {
		artifact, err := service.Export([]string{"doc-done"}, FormatXLSX, true)
		Expect(err).NotTo(HaveOccurred())

		data, _, err := service.GetExportArtifact(artifact.Filename)
		Expect(err).NotTo(HaveOccurred())

		f, err := excelize.OpenReader(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		rows, err := f.GetRows("Documents")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[1][3]).To(Equal("invoice_number"))
	})

	It("should fail as a whole when any document is not completed", func() {
		_, err := service.Export([]string{"doc-done", "doc-busy"}, FormatCSV, true)
		var exportErr *ExportError
		Expect(errors.As(err, &exportErr)).To(BeTrue())
		Expect(storage.count()).To(BeZero())
	})

	It("should fail as a whole when any document is missing", func() {
		_, err := service.Export([]string{"doc-done", "doc-gone"}, FormatCSV, true)
		var exportErr *ExportError
		Expect(errors.As(err, &exportErr)).To(BeTrue())
		Expect(storage.count()).To(BeZero())
	})

	It("should reject an empty request", func() {
		_, err := service.Export(nil, FormatCSV, true)
		var exportErr *ExportError
		Expect(errors.As(err, &exportErr)).To(BeTrue())
	})

	It("should reject an unsupported format", func() {
		_, err := service.Export([]string{"doc-done"}, ExportFormat("xml"), true)
		var exportErr *ExportError
		Expect(errors.As(err, &exportErr)).To(BeTrue())
	})
})
