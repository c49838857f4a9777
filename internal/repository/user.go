package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"carblock-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, phone, car_plate, push_subscription, created_at, updated_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Phone, &user.CarPlate,
		&user.PushSubscription, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// Create inserts a new user. Unique violations on email, phone or
// car_plate surface as ErrUniqueViolation.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, name, email, phone, car_plate, push_subscription, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Name, user.Email, user.Phone, user.CarPlate,
		user.PushSubscription, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Update saves mutable profile fields for an existing user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET name = $1, phone = $2, car_plate = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := r.db.Exec(ctx, query,
		user.Name, user.Phone, user.CarPlate, user.UpdatedAt, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

// GetByPhone retrieves a user by phone
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.db.QueryRow(ctx, query, phone))
}

// GetByPlate retrieves the owner of a normalized plate. Exact string
// equality only, no partial matching.
func (r *UserRepository) GetByPlate(ctx context.Context, plate string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE car_plate = $1`
	return scanUser(r.db.QueryRow(ctx, query, plate))
}

// UpdatePushSubscription stores the Web Push subscription blob for a user
func (r *UserRepository) UpdatePushSubscription(ctx context.Context, userID string, subscription json.RawMessage) error {
	query := `UPDATE users SET push_subscription = $1, updated_at = now() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, subscription, userID)
	if err != nil {
		return fmt.Errorf("failed to update push subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
