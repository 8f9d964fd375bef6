package document

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		It("should write the file and return its reference", func() {
			ref, err := storage.Save("doc-1.pdf", []byte("pdf bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(Equal("doc-1.pdf"))
			Expect(filepath.Join(tmpDir, "doc-1.pdf")).To(BeAnExistingFile())
		})

		It("should write export artifacts under the exports subtree", func() {
			ref, err := storage.Save("exports/export_1.csv", []byte("a,b\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(Equal("exports/export_1.csv"))
			Expect(filepath.Join(tmpDir, "exports", "export_1.csv")).To(BeAnExistingFile())
		})

		It("should refuse references that escape the base path", func() {
			_, err := storage.Save("../escape.txt", []byte("nope"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Get", func() {
		It("should return previously saved bytes", func() {
			_, err := storage.Save("doc-1.pdf", []byte("pdf bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("doc-1.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("pdf bytes")))
		})

		It("should fail for a missing reference", func() {
			_, err := storage.Get("missing.pdf")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save("doc-1.pdf", []byte("pdf bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("doc-1.pdf")).To(Succeed())
			Expect(filepath.Join(tmpDir, "doc-1.pdf")).NotTo(BeAnExistingFile())
		})

		It("should fail for a missing reference", func() {
			Expect(storage.Delete("missing.pdf")).NotTo(Succeed())
		})
	})
})
