package services

import "errors"

// Domain errors surfaced by the services. Handlers map these to HTTP
// statuses with errors.Is; anything else is a storage failure and maps
// to 500.
var (
	ErrPlateNotRegistered = errors.New("plate not registered in system")
	ErrSelfAlert          = errors.New("cannot alert your own car")
	ErrAlreadyBlocked     = errors.New("plate already has an active alert")
	ErrRateLimited        = errors.New("rate limit: max 3 alerts per minute")
	ErrForbidden          = errors.New("not authorized")
	ErrAlertNotFound      = errors.New("alert not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrContactTaken       = errors.New("email, phone or plate already registered to another user")
)
