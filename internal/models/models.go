package models

import (
	"encoding/json"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusActive      AlertStatus = "active"
	StatusLeavingSoon AlertStatus = "leaving_soon"
	StatusLeavingNow  AlertStatus = "leaving_now"
	StatusResolved    AlertStatus = "resolved"
)

// allowed transition edges; resolved is terminal
var transitions = map[AlertStatus][]AlertStatus{
	StatusActive:      {StatusLeavingSoon, StatusResolved},
	StatusLeavingSoon: {StatusLeavingNow, StatusResolved},
	StatusLeavingNow:  {StatusResolved},
}

// Valid reports whether s is a known status value.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusActive, StatusLeavingSoon, StatusLeavingNow, StatusResolved:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s AlertStatus) IsTerminal() bool {
	return s == StatusResolved
}

// CanTransitionTo reports whether the edge s -> target is allowed.
func (s AlertStatus) CanTransitionTo(target AlertStatus) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// User represents a registered driver
type User struct {
	ID               string          `json:"id"`
	Name             *string         `json:"name,omitempty"`
	Email            string          `json:"email"`
	Phone            *string         `json:"phone,omitempty"`
	CarPlate         *string         `json:"car_plate,omitempty"`
	PushSubscription json.RawMessage `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Alert represents a single block notification between two users.
// SenderID is nullable for legacy rows created before sender tracking.
type Alert struct {
	ID               string      `json:"id"`
	SenderID         *string     `json:"sender_id,omitempty"`
	ReceiverID       string      `json:"receiver_id"`
	DetectedPlate    string      `json:"detected_plate"`
	ManualCorrection bool        `json:"manual_correction"`
	OCRConfidence    *float64    `json:"ocr_confidence,omitempty"`
	Status           AlertStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// SentBy reports whether userID is the alert's sender.
func (a *Alert) SentBy(userID string) bool {
	return a.SenderID != nil && *a.SenderID == userID
}

// HistoryItem is one row of a user's alert history, annotated with the
// counterpart's contact details where known.
type HistoryItem struct {
	ID            string      `json:"id"`
	DetectedPlate string      `json:"detected_plate"`
	Status        AlertStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	Type          string      `json:"type"` // "sent" or "received"
	SenderName    *string     `json:"sender_name,omitempty"`
	SenderPhone   *string     `json:"sender_phone,omitempty"`
	ReceiverName  *string     `json:"receiver_name,omitempty"`
	ReceiverPhone *string     `json:"receiver_phone,omitempty"`
}
