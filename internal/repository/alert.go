package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carblock-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const alertColumns = `id, sender_id, receiver_id, detected_plate, manual_correction, ocr_confidence, status, created_at, updated_at`

// AlertRepository handles database operations for alerts
type AlertRepository struct {
	db *pgxpool.Pool
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{db: db}
}

func scanAlert(row pgx.Row) (*models.Alert, error) {
	var alert models.Alert
	err := row.Scan(
		&alert.ID, &alert.SenderID, &alert.ReceiverID, &alert.DetectedPlate,
		&alert.ManualCorrection, &alert.OCRConfidence, &alert.Status,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return &alert, nil
}

// Create inserts a new alert. The partial unique index on
// (detected_plate) WHERE status <> 'resolved' backstops the duplicate
// pre-check; a violation surfaces as ErrUniqueViolation.
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (id, sender_id, receiver_id, detected_plate, manual_correction, ocr_confidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		alert.ID, alert.SenderID, alert.ReceiverID, alert.DetectedPlate,
		alert.ManualCorrection, alert.OCRConfidence, alert.Status,
		alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	return scanAlert(r.db.QueryRow(ctx, query, id))
}

// FindActiveForPlate returns the most recent non-resolved alert for a
// plate, or ErrNotFound when the plate is unclaimed.
func (r *AlertRepository) FindActiveForPlate(ctx context.Context, plate string) (*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE detected_plate = $1 AND status <> 'resolved'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanAlert(r.db.QueryRow(ctx, query, plate))
}

// UpdateStatus sets the alert status and stamps updated_at.
func (r *AlertRepository) UpdateStatus(ctx context.Context, id string, status models.AlertStatus) error {
	query := `UPDATE alerts SET status = $1, updated_at = now() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountBySenderSince counts alerts submitted by a sender after the given
// instant. Used for the per-sender rolling rate limit.
func (r *AlertRepository) CountBySenderSince(ctx context.Context, senderID string, since time.Time) (int, error) {
	query := `SELECT count(*) FROM alerts WHERE sender_id = $1 AND created_at >= $2`
	var count int
	if err := r.db.QueryRow(ctx, query, senderID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent alerts: %w", err)
	}
	return count, nil
}

// ListSent returns alerts reported by the user, newest first, annotated
// with the receiver's contact details.
func (r *AlertRepository) ListSent(ctx context.Context, userID string, limit int) ([]models.HistoryItem, error) {
	query := `
		SELECT a.id, a.detected_plate, a.status, a.created_at, u.name, u.phone
		FROM alerts a
		LEFT JOIN users u ON u.id = a.receiver_id
		WHERE a.sender_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent alerts: %w", err)
	}
	defer rows.Close()

	var items []models.HistoryItem
	for rows.Next() {
		item := models.HistoryItem{Type: "sent"}
		if err := rows.Scan(&item.ID, &item.DetectedPlate, &item.Status, &item.CreatedAt, &item.ReceiverName, &item.ReceiverPhone); err != nil {
			return nil, fmt.Errorf("failed to scan sent alert: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sent alerts: %w", err)
	}
	return items, nil
}

// ListReceived returns alerts targeting the user, newest first, annotated
// with the sender's contact details.
func (r *AlertRepository) ListReceived(ctx context.Context, userID string, limit int) ([]models.HistoryItem, error) {
	query := `
		SELECT a.id, a.detected_plate, a.status, a.created_at, u.name, u.phone
		FROM alerts a
		LEFT JOIN users u ON u.id = a.sender_id
		WHERE a.receiver_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list received alerts: %w", err)
	}
	defer rows.Close()

	var items []models.HistoryItem
	for rows.Next() {
		item := models.HistoryItem{Type: "received"}
		if err := rows.Scan(&item.ID, &item.DetectedPlate, &item.Status, &item.CreatedAt, &item.SenderName, &item.SenderPhone); err != nil {
			return nil, fmt.Errorf("failed to scan received alert: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read received alerts: %w", err)
	}
	return items, nil
}

// DeleteOrphaned removes alerts with no sender reference (bad legacy
// rows) and returns how many were deleted.
func (r *AlertRepository) DeleteOrphaned(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM alerts WHERE sender_id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned alerts: %w", err)
	}
	return result.RowsAffected(), nil
}
