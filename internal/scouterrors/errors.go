// Package scouterrors defines the error taxonomy shared across Scouter's
// client queues, ingestion pipeline, drift kernels, and HTTP boundary.
package scouterrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for logging and HTTP-status mapping without
// exposing internal types across package boundaries.
type Kind int

const (
	// KindInternal covers unexpected failures that should be logged at
	// error level and surfaced as 500.
	KindInternal Kind = iota
	// KindInput covers malformed profiles, NaN/Inf data, insufficient
	// samples for quantile binning, and other caller-supplied bad input.
	KindInput
	// KindConfig covers unknown drift types, missing env vars, invalid
	// cron expressions.
	KindConfig
	// KindTransport covers produce/consume failures after retries are
	// exhausted.
	KindTransport
	// KindPersistence covers SQL failures.
	KindPersistence
	// KindAuth covers 401/403 after one refresh attempt.
	KindAuth
	// KindNotFound covers missing profiles/entities.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindPersistence:
		return "persistence"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error wraps an underlying error with a Kind and the operation that
// produced it, e.g. "drift.CreateSpcProfile".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf constructs a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// carries no classification.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error's Kind to the HTTP status it surfaces as.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput, KindConfig:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport, KindPersistence, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel errors for common not-found / no-profile conditions referenced
// by the persistence and entity-cache layers.
var (
	// ErrNoProfile is returned when an observation's entity_id does not
	// resolve to an active profile.
	ErrNoProfile = errors.New("entity does not resolve to an active profile")
	// ErrProfileNotFound is returned when a profile lookup by
	// (space, name, version, drift_type) finds nothing.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInsufficientData is returned when quantile binning is attempted
	// with fewer samples than requested bins.
	ErrInsufficientData = errors.New("insufficient data for requested bin count")
)
