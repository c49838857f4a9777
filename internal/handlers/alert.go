package handlers

import (
	"encoding/json"
	"net/http"

	"carblock-backend/internal/middleware"
	"carblock-backend/internal/models"
	"carblock-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// AlertHandler handles alert-related HTTP requests
type AlertHandler struct {
	alertService *services.AlertService
	userService  *services.UserService
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alertService *services.AlertService, userService *services.UserService) *AlertHandler {
	return &AlertHandler{
		alertService: alertService,
		userService:  userService,
	}
}

// SubmitAlertRequest represents the request body for submitting an alert
type SubmitAlertRequest struct {
	Plate            string   `json:"plate"`
	ManualCorrection bool     `json:"manualCorrection"`
	Confidence       *float64 `json:"confidence"`
	SenderEmail      string   `json:"senderEmail"`
	SenderID         string   `json:"senderId"`
}

// OwnerInfo is the plate owner's contact card returned on success.
type OwnerInfo struct {
	Name  *string `json:"name"`
	Email string  `json:"email"`
	Phone *string `json:"phone"`
}

// SubmitAlertResponse is the success body for POST /alert.
type SubmitAlertResponse struct {
	Success bool      `json:"success"`
	AlertID string    `json:"alertId"`
	Owner   OwnerInfo `json:"owner"`
}

// SubmitAlert handles POST /api/v1/alert
func (h *AlertHandler) SubmitAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Plate == "" {
		respondError(w, "plate is required", http.StatusBadRequest)
		return
	}

	senderID, err := h.resolveSender(r, req)
	if err != nil {
		respondError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	alert, owner, err := h.alertService.SubmitAlert(ctx, senderID, req.Plate, req.ManualCorrection, req.Confidence)
	if err != nil {
		log.Error().
			Err(err).
			Str("sender_id", senderID).
			Str("plate", req.Plate).
			Msg("Failed to submit alert")
		respondError(w, err.Error(), statusForError(err))
		return
	}

	log.Info().
		Str("alert_id", alert.ID).
		Str("sender_id", senderID).
		Str("plate", alert.DetectedPlate).
		Msg("Alert submitted")

	respondJSON(w, http.StatusOK, SubmitAlertResponse{
		Success: true,
		AlertID: alert.ID,
		Owner: OwnerInfo{
			Name:  owner.Name,
			Email: owner.Email,
			Phone: owner.Phone,
		},
	})
}

// resolveSender picks the acting sender: authenticated user first, then
// the body's senderId, then a senderEmail lookup (legacy clients).
func (h *AlertHandler) resolveSender(r *http.Request, req SubmitAlertRequest) (string, error) {
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		return userID, nil
	}
	if req.SenderID != "" {
		return req.SenderID, nil
	}
	if req.SenderEmail != "" {
		user, err := h.userService.GetByEmail(r.Context(), req.SenderEmail)
		if err != nil {
			return "", err
		}
		return user.ID, nil
	}
	return "", services.ErrUserNotFound
}

// UpdateStatusRequest represents the request body for a status update
type UpdateStatusRequest struct {
	AlertID string `json:"alertId"`
	Status  string `json:"status"`
	UserID  string `json:"userId"`
}

// UpdateStatus handles POST /api/v1/alert-status
func (h *AlertHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.AlertID == "" || req.Status == "" || req.UserID == "" {
		respondError(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	alert, err := h.alertService.UpdateStatus(ctx, req.AlertID, models.AlertStatus(req.Status), req.UserID)
	if err != nil {
		log.Error().
			Err(err).
			Str("alert_id", req.AlertID).
			Str("status", req.Status).
			Str("user_id", req.UserID).
			Msg("Failed to update alert status")
		respondError(w, err.Error(), statusForError(err))
		return
	}

	log.Info().
		Str("alert_id", alert.ID).
		Str("status", string(alert.Status)).
		Str("user_id", req.UserID).
		Msg("Alert status updated")

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  alert.Status,
	})
}

// History handles GET /api/v1/history
func (h *AlertHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("userId")
	email := r.URL.Query().Get("email")
	if userID == "" || email == "" {
		respondError(w, "User ID and email required", http.StatusBadRequest)
		return
	}

	items, err := h.alertService.History(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load history")
		respondError(w, err.Error(), statusForError(err))
		return
	}

	if items == nil {
		items = []models.HistoryItem{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": items})
}

// Cleanup handles POST /api/v1/admin/cleanup: removes alerts with no
// sender reference.
func (h *AlertHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.alertService.Cleanup(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Cleanup failed")
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Info().Int64("deleted", deleted).Msg("Orphaned alerts cleaned up")

	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"deletedCount": deleted,
		"message":      "Deleted orphaned alerts",
	})
}
