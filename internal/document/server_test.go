package document

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/docproc/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		db         *mockDB
		storage    *mockStorage
		extractor  *mockExtractor
		service    *Service
		server     *Server
		auth       BasicAuth
		testServer *httptest.Server
	)

	setupServer := func() {
		if testServer != nil {
			testServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		testServer = httptest.NewServer(server)
	}

	uploadRequest := func(filename, contentType string, data []byte) *http.Request {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
		header["Content-Type"] = []string{contentType}
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", testServer.URL+"/api/documents", &body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &mockExtractor{
			data: &extraction.DocumentData{
				DocumentType: "receipt",
				Fields: []extraction.Field{
					{Name: "total", Value: "9.99", DataType: extraction.DataTypeCurrency, Confidence: 0.9},
				},
			},
		}
		service = NewService(db, extractor, storage, Config{})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if testServer != nil {
			testServer.Close()
		}
	})

	Describe("uploading a document", func() {
		It("should return 201 with an uploaded document", func() {
			resp, err := http.DefaultClient.Do(uploadRequest("scan.jpg", "image/jpeg", []byte("jpeg bytes")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var doc Document
			Expect(json.NewDecoder(resp.Body).Decode(&doc)).To(Succeed())
			Expect(doc.Status).To(Equal(StatusUploaded))
			Expect(doc.OriginalFilename).To(Equal("scan.jpg"))
		})

		It("should return 400 for a disallowed content type", func() {
			resp, err := http.DefaultClient.Do(uploadRequest("notes.txt", "text/plain", []byte("hello")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var errResp map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&errResp)).To(Succeed())
			Expect(errResp["error"]).To(ContainSubstring("not allowed"))
		})

		It("should return 400 when no file is attached", func() {
			resp, err := http.Post(testServer.URL+"/api/documents", "application/json", bytes.NewBufferString("{}"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("starting processing", func() {
		var docID string

		BeforeEach(func() {
			doc, err := service.Register("scan.jpg", []byte("jpeg bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			docID = doc.ID
		})

		It("should return 202 and transition the document", func() {
			resp, err := http.Post(testServer.URL+"/api/documents/"+docID+"/process", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		})

		It("should return 404 for an unknown document", func() {
			resp, err := http.Post(testServer.URL+"/api/documents/missing/process", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 409 for a second start", func() {
			extractor.block = make(chan struct{})
			defer close(extractor.block)

			resp, err := http.Post(testServer.URL+"/api/documents/"+docID+"/process", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			resp, err = http.Post(testServer.URL+"/api/documents/"+docID+"/process", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("reading a document", func() {
		It("should return the status report", func() {
			doc, err := service.Register("scan.jpg", []byte("jpeg bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Get(testServer.URL + "/api/documents/" + doc.ID)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var report StatusReport
			Expect(json.NewDecoder(resp.Body).Decode(&report)).To(Succeed())
			Expect(report.Status).To(Equal(StatusUploaded))
		})

		It("should return 404 for an unknown document", func() {
			resp, err := http.Get(testServer.URL + "/api/documents/missing")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("listing documents", func() {
		BeforeEach(func() {
			_, err := service.Register("a.jpg", []byte("bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Register("b.jpg", []byte("bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the documents with a total", func() {
			resp, err := http.Get(testServer.URL + "/api/documents?page=1&page_size=10")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var listResp struct {
				Total     int         `json:"total"`
				Documents []*Document `json:"documents"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&listResp)).To(Succeed())
			Expect(listResp.Total).To(Equal(2))
			Expect(listResp.Documents).To(HaveLen(2))
		})

		It("should reject an unknown status filter", func() {
			resp, err := http.Get(testServer.URL + "/api/documents?status=bogus")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("export", func() {
		It("should return 400 when a document is not completed", func() {
			doc, err := service.Register("scan.jpg", []byte("jpeg bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			body, _ := json.Marshal(map[string]any{
				"document_ids": []string{doc.ID},
				"format":       "csv",
			})
			resp, err := http.Post(testServer.URL+"/api/export", "application/json", bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should materialize and serve an artifact for completed documents", func() {
			doc, err := service.Register("scan.jpg", []byte("jpeg bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			job, err := service.StartProcessing(context.Background(), doc.ID)
			Expect(err).NotTo(HaveOccurred())
			Eventually(job.Done()).Should(BeClosed())

			body, _ := json.Marshal(map[string]any{
				"document_ids":       []string{doc.ID},
				"format":             "csv",
				"include_confidence": true,
			})
			resp, err := http.Post(testServer.URL+"/api/export", "application/json", bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var artifact ExportArtifact
			Expect(json.NewDecoder(resp.Body).Decode(&artifact)).To(Succeed())
			Expect(artifact.RecordCount).To(Equal(1))

			dlResp, err := http.Get(testServer.URL + artifact.DownloadURL)
			Expect(err).NotTo(HaveOccurred())
			defer dlResp.Body.Close()
			Expect(dlResp.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(dlResp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("total"))
		})
	})

	Describe("statistics", func() {
		It("should return aggregate counts", func() {
			_, err := service.Register("scan.jpg", []byte("jpeg bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Get(testServer.URL + "/api/statistics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var stats Stats
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).To(Succeed())
			Expect(stats.TotalDocuments).To(Equal(1))
		})
	})

	Describe("health", func() {
		It("should report ok without authentication", func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			setupServer()

			resp, err := http.Get(testServer.URL + "/api/health")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(testServer.URL + "/api/documents")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", testServer.URL+"/api/documents", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
