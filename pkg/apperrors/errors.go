package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

// Sentinel errors for the authorization engine. Services wrap these with
// fmt.Errorf("...: %w", ErrX) so callers can match with errors.Is while
// keeping a human-readable message.
var (
	// ErrNotFound indicates a referenced user, role or permission is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation on a name or an
	// association pair.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the operation is disallowed by policy
	// (system-role protection, disabled account, missing permission).
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStoreUnavailable indicates a transient storage failure. This is the
	// only class a caller may reasonably retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FromStore translates a GORM error into the engine's taxonomy, preserving
// the original message. Errors already carrying a taxonomy sentinel pass
// through untouched. Record-not-found and duplicate-key errors are semantic;
// everything else is treated as a transient store failure.
func FromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// HTTPStatus maps a taxonomy error to the status code the REST layer
// should answer with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
