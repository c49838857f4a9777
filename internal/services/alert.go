package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carblock-backend/internal/models"
	"carblock-backend/internal/plate"
	"carblock-backend/internal/repository"

	"github.com/google/uuid"
)

const historyLimit = 50

// AlertStore is the persistence surface the lifecycle engine needs.
// *repository.AlertRepository implements it.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	FindActiveForPlate(ctx context.Context, plate string) (*models.Alert, error)
	UpdateStatus(ctx context.Context, id string, status models.AlertStatus) error
	CountBySenderSince(ctx context.Context, senderID string, since time.Time) (int, error)
	ListSent(ctx context.Context, userID string, limit int) ([]models.HistoryItem, error)
	ListReceived(ctx context.Context, userID string, limit int) ([]models.HistoryItem, error)
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// UserDirectory resolves plates and contact details to users.
// *repository.UserRepository implements it.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPlate(ctx context.Context, plate string) (*models.User, error)
}

// Notifier fans a lifecycle transition out to the notification channels.
// Delivery is best-effort: implementations log failures and never return
// them, so the engine's writes are never rolled back by a channel error.
type Notifier interface {
	// AlertCreated tells the receiver their car is blocking someone.
	AlertCreated(ctx context.Context, alert *models.Alert, receiver *models.User)
	// MoveRequested tells the sender the owner needs to leave. urgent is
	// true for the leaving_now escalation.
	MoveRequested(ctx context.Context, alert *models.Alert, sender, receiver *models.User, urgent bool)
	// Unblocked tells the receiver the blocker has moved.
	Unblocked(ctx context.Context, alert *models.Alert, sender, receiver *models.User)
}

// AlertService is the alert lifecycle engine: creation with the
// duplicate-block guard, permission-gated status transitions, and the
// notification dispatch mapping.
type AlertService struct {
	alerts           AlertStore
	users            UserDirectory
	notifier         Notifier
	maxPerMinute     int
	enableLeavingNow bool
}

// NewAlertService creates a new alert service
func NewAlertService(alerts AlertStore, users UserDirectory, notifier Notifier, maxPerMinute int, enableLeavingNow bool) *AlertService {
	return &AlertService{
		alerts:           alerts,
		users:            users,
		notifier:         notifier,
		maxPerMinute:     maxPerMinute,
		enableLeavingNow: enableLeavingNow,
	}
}

// SubmitAlert records that rawPlate is blocking the sender and notifies
// the plate owner. Resubmitting while the sender's own alert is still
// open is an idempotent no-op returning the existing alert.
func (s *AlertService) SubmitAlert(ctx context.Context, senderID, rawPlate string, manualCorrection bool, confidence *float64) (*models.Alert, *models.User, error) {
	normalized, err := plate.Normalize(rawPlate)
	if err != nil {
		return nil, nil, err
	}

	since := time.Now().Add(-time.Minute)
	recent, err := s.alerts.CountBySenderSince(ctx, senderID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if recent >= s.maxPerMinute {
		return nil, nil, ErrRateLimited
	}

	owner, err := s.users.GetByPlate(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrPlateNotRegistered
		}
		return nil, nil, fmt.Errorf("failed to look up plate owner: %w", err)
	}

	if owner.ID == senderID {
		return nil, nil, ErrSelfAlert
	}

	existing, err := s.alerts.FindActiveForPlate(ctx, normalized)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to check for active alert: %w", err)
	}
	if existing != nil {
		if existing.SentBy(senderID) {
			// already blocking: no duplicate row, no second notification
			return existing, owner, nil
		}
		return nil, nil, ErrAlreadyBlocked
	}

	now := time.Now()
	alert := &models.Alert{
		ID:               uuid.New().String(),
		SenderID:         &senderID,
		ReceiverID:       owner.ID,
		DetectedPlate:    normalized,
		ManualCorrection: manualCorrection,
		OCRConfidence:    confidence,
		Status:           models.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.alerts.Create(ctx, alert); err != nil {
		// the partial unique index catches pre-check races
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, nil, ErrAlreadyBlocked
		}
		return nil, nil, fmt.Errorf("failed to create alert: %w", err)
	}

	s.notifier.AlertCreated(ctx, alert, owner)

	return alert, owner, nil
}

// UpdateStatus applies a permission-gated lifecycle transition and
// dispatches the matching notification.
func (s *AlertService) UpdateStatus(ctx context.Context, alertID string, target models.AlertStatus, actingUserID string) (*models.Alert, error) {
	if !target.Valid() || target == models.StatusActive {
		return nil, ErrInvalidStatus
	}
	if target == models.StatusLeavingNow && !s.enableLeavingNow {
		return nil, ErrInvalidStatus
	}

	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}

	switch target {
	case models.StatusLeavingSoon, models.StatusLeavingNow:
		// only the blocked party may announce they are leaving
		if alert.ReceiverID != actingUserID {
			return nil, ErrForbidden
		}
	case models.StatusResolved:
		if !alert.SentBy(actingUserID) && alert.ReceiverID != actingUserID {
			return nil, ErrForbidden
		}
	}

	if !alert.Status.CanTransitionTo(target) {
		return nil, ErrInvalidTransition
	}

	if err := s.alerts.UpdateStatus(ctx, alertID, target); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}
	alert.Status = target
	alert.UpdatedAt = time.Now()

	s.dispatchTransition(ctx, alert, actingUserID)

	return alert, nil
}

// dispatchTransition applies the notification mapping for a completed
// transition. Lookup failures only cost the notification, never the
// already-committed status write.
func (s *AlertService) dispatchTransition(ctx context.Context, alert *models.Alert, actingUserID string) {
	switch alert.Status {
	case models.StatusLeavingSoon, models.StatusLeavingNow:
		if alert.SenderID == nil {
			return
		}
		sender, err := s.users.GetByID(ctx, *alert.SenderID)
		if err != nil {
			return
		}
		receiver, _ := s.users.GetByID(ctx, alert.ReceiverID)
		s.notifier.MoveRequested(ctx, alert, sender, receiver, alert.Status == models.StatusLeavingNow)
	case models.StatusResolved:
		// only a sender-side resolve tells the receiver they can leave
		if !alert.SentBy(actingUserID) {
			return
		}
		receiver, err := s.users.GetByID(ctx, alert.ReceiverID)
		if err != nil {
			return
		}
		sender, _ := s.users.GetByID(ctx, *alert.SenderID)
		s.notifier.Unblocked(ctx, alert, sender, receiver)
	}
}

// History returns the user's sent and received alerts, each newest first
// and independently capped.
func (s *AlertService) History(ctx context.Context, userID string) ([]models.HistoryItem, error) {
	received, err := s.alerts.ListReceived(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load received alerts: %w", err)
	}
	sent, err := s.alerts.ListSent(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load sent alerts: %w", err)
	}

	items := make([]models.HistoryItem, 0, len(received)+len(sent))
	items = append(items, received...)
	items = append(items, sent...)
	return items, nil
}

// Cleanup deletes alerts with no sender reference.
func (s *AlertService) Cleanup(ctx context.Context) (int64, error) {
	return s.alerts.DeleteOrphaned(ctx)
}
