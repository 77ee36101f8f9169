package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInternalServerError will throw if any the Internal Server Error happen
	ErrInternalServerError = errors.New("internal Server Error")
	// ErrNotFound will throw if the requested item is not exists
	ErrNotFound = errors.New("your requested Item is not found")
	// ErrConflict will throw if the current action already exists
	ErrConflict = errors.New("your Item already exist")
	// ErrBadParamInput will throw if the given request-body or params is not valid
	ErrBadParamInput = errors.New("given Param is not valid")
	// ErrForbidden will throw if the caller may not touch the item
	ErrForbidden = errors.New("you are not allowed to do this")

	// ErrEmailTaken is what a signup sees when the email belongs to another account.
	ErrEmailTaken = errors.New("email already in use")

	// ErrConfiguration marks missing or invalid parameters, fatal at job start.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrPermanent marks a failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent processing error")
	// ErrRetriesExhausted is attached by the queue when a job ran out of attempts.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNoTransaction is returned by writers that must join a caller's transaction.
	ErrNoTransaction = errors.New("no active transaction in context")
	// ErrLeaseLost means another owner took over a claimed row.
	ErrLeaseLost = errors.New("lease lost")
)

// Permanent wraps err so the queue routes it to dead-letter without retrying.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// StoreErrorKind is the closed set of storage failure classes.
type StoreErrorKind uint8

const (
	StoreUnknown StoreErrorKind = iota
	StoreConflict
	StoreTransient
	StoreNotFound
)

func (k StoreErrorKind) String() string {
	switch k {
	case StoreConflict:
		return "conflict"
	case StoreTransient:
		return "transient"
	case StoreNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// StoreError is produced once at the storage boundary. Callers branch on Kind
// (or errors.Is against ErrConflict / ErrNotFound) and never on driver codes.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Kind == StoreConflict
	case ErrNotFound:
		return e.Kind == StoreNotFound
	}
	return false
}

// StoreErrorKindOf reports the storage kind carried by err, StoreUnknown otherwise.
func StoreErrorKindOf(err error) StoreErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return StoreUnknown
}

func IsConflict(err error) bool {
	return StoreErrorKindOf(err) == StoreConflict
}

func IsTransient(err error) bool {
	return StoreErrorKindOf(err) == StoreTransient
}
