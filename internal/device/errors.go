package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/garagelink/garagelink/internal/channel"
)

// Kind classifies an operation failure for the transport layer.
type Kind int

const (
	KindUpstream Kind = iota
	KindBadRequest
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	default:
		return "Upstream"
	}
}

// Service errors. Each is returned wrapped in an *Error carrying its Kind.
var (
	ErrMissingDeviceID  = errors.New("device ID is required")
	ErrUnauthenticated  = errors.New("caller identity not found")
	ErrInvalidEmail     = errors.New("valid email address is required")
	ErrInvalidAction    = errors.New(`invalid command action, must be "open" or "close"`)
	ErrInvalidName      = errors.New("device name is too long")
	ErrInvalidShareMode = errors.New("share mode must be grant or revoke")
	ErrNotPreRegistered = errors.New("device not found, devices must be pre-registered before claiming")
	ErrAlreadyClaimed   = errors.New("device already has an owner")
	ErrClaimRace        = errors.New("device was just claimed by someone else")
	ErrNotAuthorized    = errors.New("not authorized to access this device")
	ErrNotOwner         = errors.New("only the device owner can change access")
	ErrUserNotFound     = errors.New("no user found with this email address")
	ErrShareWithOwner   = errors.New("you already own this device")
	ErrAlreadyShared    = errors.New("user already has access to this device")
	ErrNoAccess         = errors.New("cannot revoke access for a user who does not have access")
	ErrAccessChanged    = errors.New("device access changed concurrently, reload and retry")
)

// Error is an operation failure with its classification.
type Error struct {
	Kind     Kind
	DeviceID string
	Hint     string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, deviceID string, err error) *Error {
	return &Error{Kind: kind, DeviceID: deviceID, Err: err}
}

func upstream(op string, err error) *Error {
	return &Error{Kind: KindUpstream, Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the classification of err. Unclassified errors are Upstream.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// IsRetryable reports whether an Upstream failure was caused by a collaborator
// timing out or being unavailable, so the caller may retry the request as a whole.
func IsRetryable(err error) bool {
	if KindOf(err) != KindUpstream {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, channel.ErrCircuitOpen) ||
		errors.Is(err, channel.ErrPublishTimeout) ||
		errors.Is(err, channel.ErrNotConnected)
}
