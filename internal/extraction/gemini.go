package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Low temperature keeps field extraction deterministic
	model.SetTemperature(0.1)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Extract analyzes a document and returns structured field data. The caller
// controls the wall-clock budget through ctx.
func (g *Gemini) Extract(ctx context.Context, data []byte, contentType string) (*DocumentData, error) {
	images, err := documentImages(data, contentType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix ("png"), not the full
	// MIME type. documentImages always yields PNG.
	parts := make([]genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.ImageData("png", img))
	}
	parts = append(parts, genai.Text(extractionPrompt))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("generating content: %w", err)}
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &TransientError{Err: fmt.Errorf("no response from gemini")}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return parseDocumentJSON(responseText.String())
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
