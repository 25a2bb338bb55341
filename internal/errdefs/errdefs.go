// Package errdefs holds the error taxonomy shared by the archive filesystem
// and the surfaces that serve it.
package errdefs

import (
	"errors"
	"net/http"
)

var (
	// ErrArchiveUnreadable is returned when the backing bytes of an archive are
	// missing, unreachable or cannot be parsed as an archive.
	ErrArchiveUnreadable = errors.New("archive unreadable")

	// ErrEntryNotFound is returned when the requested entry path is absent.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrUnsupportedOperation is returned by every mutating operation on a
	// read-only filesystem.
	ErrUnsupportedOperation = errors.New("unsupported operation: filesystem is read-only")

	// ErrInvalidAddress is returned when a composite address cannot be parsed.
	ErrInvalidAddress = errors.New("invalid composite address")

	// ErrUnsupportedLocation is returned when no byte source handles the
	// scheme of an archive location.
	ErrUnsupportedLocation = errors.New("unsupported archive location")

	// ErrUnknownMethod is returned for notifications nobody routes.
	ErrUnknownMethod = errors.New("unknown notification method")

	// ErrInvalidParams is returned for notifications whose params do not
	// decode.
	ErrInvalidParams = errors.New("invalid notification params")
)

// OpError records a failed filesystem operation and the address it was
// applied to.
type OpError struct {
	Op      string
	Address string
	Err     error
}

func (e *OpError) Error() string {
	return e.Op + " " + e.Address + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// HTTPStatus maps an error from the taxonomy onto the status code the HTTP
// surfaces answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupportedOperation):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrUnsupportedLocation),
		errors.Is(err, ErrUnknownMethod), errors.Is(err, ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrArchiveUnreadable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
