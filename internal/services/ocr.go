package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carblock-backend/internal/plate"
)

// OCRService reads license plates from photos via the OCR.space API and
// a regex pass over the returned text.
type OCRService struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewOCRService initializes the OCR service with credentials and HTTP client
func NewOCRService(apiKey, endpoint string) *OCRService {
	return &OCRService{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// OCRResult is the outcome of a recognition attempt. Confidence is a
// fixed heuristic keyed to how the plate was matched, not an OCR score.
type OCRResult struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
	RawText    string  `json:"rawText"`
	Error      string  `json:"error,omitempty"`
}

// Enabled reports whether an API key is configured.
func (s *OCRService) Enabled() bool {
	return s.apiKey != ""
}

type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
}

// Recognize sends a data-URI image to OCR.space and extracts a plate
// candidate from the parsed text. A missing API key or empty OCR result
// is not an error: the caller gets an empty-plate result with the
// reason in the Error field.
func (s *OCRService) Recognize(ctx context.Context, image string) (*OCRResult, error) {
	if !s.Enabled() {
		return &OCRResult{Error: "OCR not configured"}, nil
	}

	base64Data := image
	if idx := strings.Index(image, ","); idx >= 0 {
		base64Data = image[idx+1:]
	}

	form := url.Values{}
	form.Set("base64Image", "data:image/jpeg;base64,"+base64Data)
	form.Set("apikey", s.apiKey)
	form.Set("language", "eng")
	form.Set("OCREngine", "2")
	form.Set("detectOrientation", "true")
	form.Set("scale", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call OCR API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read OCR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR API error %d: %s", resp.StatusCode, string(body))
	}

	var parsed ocrSpaceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse OCR response: %w", err)
	}

	if parsed.IsErroredOnProcessing || len(parsed.ParsedResults) == 0 {
		return &OCRResult{Error: "No text detected"}, nil
	}

	text := parsed.ParsedResults[0].ParsedText
	candidate, confidence := plate.Extract(text)
	return &OCRResult{
		Plate:      candidate,
		Confidence: confidence,
		RawText:    text,
	}, nil
}
