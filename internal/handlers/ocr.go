package handlers

import (
	"encoding/json"
	"net/http"

	"carblock-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// OCRHandler handles plate recognition requests
type OCRHandler struct {
	ocrService *services.OCRService
}

// NewOCRHandler creates a new OCR handler
func NewOCRHandler(ocrService *services.OCRService) *OCRHandler {
	return &OCRHandler{ocrService: ocrService}
}

// RecognizeRequest represents the request body for plate recognition
type RecognizeRequest struct {
	Image string `json:"image"`
}

// Recognize handles POST /api/v1/ocr
func (h *OCRHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RecognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Image == "" {
		respondError(w, "image is required", http.StatusBadRequest)
		return
	}

	result, err := h.ocrService.Recognize(ctx, req.Image)
	if err != nil {
		log.Error().Err(err).Msg("OCR failed")
		respondJSON(w, http.StatusInternalServerError, services.OCRResult{Error: err.Error()})
		return
	}

	if result.Error != "" {
		log.Warn().Str("reason", result.Error).Msg("OCR returned no plate")
	}

	respondJSON(w, http.StatusOK, result)
}
