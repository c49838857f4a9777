package handlers

import (
	"encoding/json"
	"net/http"

	"carblock-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles profile, login and push-subscription requests
type UserHandler struct {
	userService *services.UserService
	dispatcher  *services.Dispatcher
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService, dispatcher *services.Dispatcher) *UserHandler {
	return &UserHandler{
		userService: userService,
		dispatcher:  dispatcher,
	}
}

// SaveProfile handles POST /api/v1/profile
func (h *UserHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Email == "" {
		respondError(w, "Email is required", http.StatusBadRequest)
		return
	}

	user, err := h.userService.SaveProfile(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("email", req.Email).Msg("Failed to save profile")
		respondError(w, err.Error(), statusForError(err))
		return
	}

	log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Profile saved")

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

// LoginRequest represents the request body for phone login
type LoginRequest struct {
	Phone string `json:"phone"`
}

// Login handles POST /api/v1/login: a phone lookup that issues a session
// token when the phone is registered. Unknown phones are not an error.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Phone == "" {
		respondError(w, "Phone number is required", http.StatusBadRequest)
		return
	}

	user, token, err := h.userService.Login(ctx, req.Phone)
	if err != nil {
		log.Error().Err(err).Msg("Login failed")
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if user == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"found":   false,
			"message": "Phone number not registered",
		})
		return
	}

	log.Info().Str("user_id", user.ID).Msg("User logged in")

	respondJSON(w, http.StatusOK, map[string]any{
		"found": true,
		"user": map[string]any{
			"id":       user.ID,
			"name":     user.Name,
			"email":    user.Email,
			"phone":    user.Phone,
			"carPlate": user.CarPlate,
		},
		"token": token,
	})
}

// PushSubscriptionRequest represents the request body for saving a
// Web Push subscription
type PushSubscriptionRequest struct {
	VisitorID        string          `json:"visitorId"`
	PushSubscription json.RawMessage `json:"pushSubscription"`
}

// SavePushSubscription handles POST /api/v1/push-subscription
func (h *UserHandler) SavePushSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PushSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.VisitorID == "" || len(req.PushSubscription) == 0 {
		respondError(w, "Missing visitorId or subscription", http.StatusBadRequest)
		return
	}

	saved, err := h.userService.SavePushSubscription(ctx, req.VisitorID, req.PushSubscription)
	if err != nil {
		log.Error().Err(err).Str("visitor_id", req.VisitorID).Msg("Failed to save push subscription")
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if saved {
		log.Info().Str("visitor_id", req.VisitorID).Msg("Push subscription saved")
	} else {
		// unknown visitor: the client keeps the subscription and retries
		// once the user registers
		log.Debug().Str("visitor_id", req.VisitorID).Msg("No user for visitor id, subscription not stored")
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// VapidKey handles GET /api/v1/vapid-key
func (h *UserHandler) VapidKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, map[string]any{
		"vapidPublicKey": h.dispatcher.VapidPublicKey(),
	})
}
