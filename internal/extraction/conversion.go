package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/tiff" // Register TIFF decoder for scanned documents
)

// maxRenderPages bounds how many PDF pages are rasterized and sent to the
// provider. Invoices and receipts rarely carry data past the first pages,
// and every page costs inference tokens.
const maxRenderPages = 4

// extractionPrompt is the shared prompt used by all providers
const extractionPrompt = `You are an expert data extraction system. Analyze this document image and extract ALL relevant information in a structured format.

EXTRACTION REQUIREMENTS:
1. Identify the document type (invoice, receipt, purchase_order, bill, statement, form, contract, or other)
2. Extract ALL labeled text fields
3. For each field, determine:
   - field_name: the label of the field
   - value: the field value as a string
   - data_type: one of "text", "number", "currency", "date"
   - confidence: your confidence in the extraction, from 0.0 to 1.0

4. Common fields to look for:
   - Document identifiers: invoice number, order number, reference number
   - Dates: invoice date, due date, order date (use YYYY-MM-DD)
   - Parties: vendor/seller name, customer/buyer name, addresses
   - Financial: amounts, subtotals, tax, total (numeric value only, no symbols)

Return ONLY valid JSON in this exact format:
{
  "document_type": "invoice",
  "fields": [
    {"field_name": "string", "value": "string", "data_type": "text|number|currency|date", "confidence": 0.0}
  ]
}

Important:
- Dates must be in YYYY-MM-DD format
- Currency and number values must contain only digits, a decimal point, and an optional sign
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImages rasterizes the leading pages of a PDF into PNG images
func pdfToImages(pdfData []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if pages > maxRenderPages {
		pages = maxRenderPages
	}

	images := make([][]byte, 0, pages)
	for i := 0; i < pages; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG: %w", err)
		}
		images = append(images, buf.Bytes())
	}

	return images, nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF (common on iPhones) is not covered by the standard image
	// decoders, and phone uploads often carry the wrong Content-Type, so
	// sniff the bytes rather than trusting the declared type alone
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, TIFF, HEIC, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks the ftyp box for HEIC/HEIF brands
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// documentImages normalizes a document into one or more PNG page images.
// PDFs produce one image per rendered page; everything else produces a
// single image.
func documentImages(data []byte, contentType string) ([][]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	if mimeType == "application/pdf" {
		images, err := pdfToImages(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to images: %w", err)
		}
		return images, nil
	}

	if mimeType == "image/png" && !isHEICFormat(data) {
		return [][]byte{data}, nil
	}

	pngData, err := imageToPNG(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("converting image to PNG: %w", err)
	}
	return [][]byte{pngData}, nil
}
