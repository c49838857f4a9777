package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrUniqueViolation is returned when an insert or update breaks a
// unique constraint (duplicate email/phone/plate, or a second active
// alert for the same plate racing past the pre-check).
var ErrUniqueViolation = errors.New("unique constraint violation")

// isUniqueViolation reports whether err is a postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
