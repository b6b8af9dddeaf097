package enrollment

import (
	"errors"
	"fmt"

	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrInvalidInput = errors.New("invalid input")

	ErrStudentNotFound  = fmt.Errorf("student %w", ErrNotFound)
	ErrCourseNotFound   = fmt.Errorf("course %w", ErrNotFound)
	ErrRollNumberExists = fmt.Errorf("roll number %w", ErrConflict)
	ErrCourseCodeExists = fmt.Errorf("course code %w", ErrConflict)
)

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// classify turns constraint violations the pre-checks did not catch into
// domain errors. Any other error is returned as is.
func classify(err error, onUnique, onForeignKey error) error {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Field('C') {
	case pgUniqueViolation:
		if onUnique != nil {
			return fmt.Errorf("%w (%s)", onUnique, pgErr.Field('n'))
		}
	case pgForeignKeyViolation:
		if onForeignKey != nil {
			return fmt.Errorf("%w (%s)", onForeignKey, pgErr.Field('n'))
		}
	}
	return err
}
