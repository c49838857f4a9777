package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"carblock-backend/internal/models"
	"carblock-backend/internal/plate"
	"carblock-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtExpDays = 365

// UserStore is the persistence surface the user service needs.
// *repository.UserRepository implements it.
type UserStore interface {
	UserDirectory
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePushSubscription(ctx context.Context, userID string, subscription json.RawMessage) error
}

// UserService handles profiles, phone login and push-subscription
// bookkeeping.
type UserService struct {
	users     UserStore
	jwtSecret string
}

// NewUserService creates a new user service
func NewUserService(users UserStore, jwtSecret string) *UserService {
	return &UserService{
		users:     users,
		jwtSecret: jwtSecret,
	}
}

// ProfileRequest carries the profile fields saved by the client.
type ProfileRequest struct {
	Email    string  `json:"email"`
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	CarPlate *string `json:"carPlate"`
}

// SaveProfile upserts a user keyed by email. Claiming a phone or plate
// already bound to a different user fails with ErrContactTaken.
func (s *UserService) SaveProfile(ctx context.Context, req ProfileRequest) (*models.User, error) {
	var carPlate *string
	if req.CarPlate != nil && *req.CarPlate != "" {
		normalized, err := plate.Normalize(*req.CarPlate)
		if err != nil {
			return nil, err
		}
		carPlate = &normalized
	}

	existing, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if existing != nil {
		existing.Name = req.Name
		existing.Phone = normalizePhonePtr(req.Phone)
		existing.CarPlate = carPlate
		existing.UpdatedAt = time.Now()
		if err := s.users.Update(ctx, existing); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				return nil, ErrContactTaken
			}
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
		return existing, nil
	}

	now := time.Now()
	user := &models.User{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     normalizePhonePtr(req.Phone),
		CarPlate:  carPlate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, ErrContactTaken
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return user, nil
}

// Login resolves a user by phone, trying the raw input first and then
// the normalized form (dashes and spaces stripped). Unknown phones are
// not an error: the caller gets (nil, "", nil).
func (s *UserService) Login(ctx context.Context, phone string) (*models.User, string, error) {
	user, err := s.users.GetByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		user, err = s.users.GetByPhone(ctx, normalizePhone(phone))
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", nil
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up user by phone: %w", err)
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// SavePushSubscription stores a Web Push subscription blob for a known
// user. An unknown visitor id is a no-op: the client keeps the
// subscription locally and re-submits it after registering.
func (s *UserService) SavePushSubscription(ctx context.Context, userID string, subscription json.RawMessage) (bool, error) {
	err := s.users.UpdatePushSubscription(ctx, userID, subscription)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to save push subscription: %w", err)
	}
	return true, nil
}

// GetByID resolves a user by id.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// GetByEmail resolves a user by email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// GenerateJWT generates a JWT token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

// normalizePhone strips dashes and spaces.
func normalizePhone(phone string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(phone)
}

func normalizePhonePtr(phone *string) *string {
	if phone == nil || *phone == "" {
		return nil
	}
	normalized := normalizePhone(*phone)
	return &normalized
}
