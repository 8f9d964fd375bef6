package document

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps service errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	setCORSHeaders(w)

	status := http.StatusInternalServerError
	var validationErr *ValidationError
	var notFoundErr *NotFoundError
	var invalidStateErr *InvalidStateError
	var exportErr *ExportError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &invalidStateErr):
		status = http.StatusConflict
	case errors.As(err, &exportErr):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("Internal error", "error", err)
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleUploadDocument validates and registers a new document
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form; the gateway enforces its own size limit on the
	// file itself
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, &ValidationError{Reason: "error parsing form"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, &ValidationError{Reason: "no file provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".tif", ".tiff":
			contentType = "image/tiff"
		default:
			contentType = "application/octet-stream"
		}
	}

	doc, err := s.service.Register(header.Filename, data, contentType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// handleStartProcessing dispatches an extraction job
func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.service.StartProcessing(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": job.DocumentID,
		"status":      string(StatusProcessing),
		"message":     "processing started; poll the document for results",
	})
}

// handleGetDocument returns a document's status report
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleGetDocumentFile returns the original uploaded bytes
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetDocumentFile(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteDocument removes a document
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDocuments returns a page of documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := Status(r.URL.Query().Get("status"))

	docs, total, err := s.service.ListDocuments(status, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"documents": docs,
	})
}

// handleExport materializes an export artifact
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentIDs       []string `json:"document_ids"`
		Format            string   `json:"format"`
		IncludeConfidence bool     `json:"include_confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &ValidationError{Reason: "invalid request body"})
		return
	}
	if req.Format == "" {
		req.Format = string(FormatCSV)
	}

	artifact, err := s.service.Export(req.DocumentIDs, ExportFormat(req.Format), req.IncludeConfidence)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

// handleDownloadExport serves a previously created export artifact
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetExportArtifact(r.PathValue("filename"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(r.PathValue("filename")))
	w.Write(data)
}

// handleStatistics returns aggregate processing metrics
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Statistics()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
