package response

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/garagelink/garagelink/internal/api/middleware"
	"github.com/garagelink/garagelink/internal/api/models"
	"github.com/garagelink/garagelink/internal/device"
)

// RetryAfterSeconds is advertised on 503 responses for retryable upstream failures.
const RetryAfterSeconds = 5

// DeviceError writes the problem response for an error returned by the device service.
// Server faults carry a debug object only when includeDebug is set.
func DeviceError(w http.ResponseWriter, r *http.Request, err error, includeDebug bool) {
	traceID := middleware.GetRequestID(r.Context())

	var derr *device.Error
	errors.As(err, &derr)

	var problem *models.Problem
	switch device.KindOf(err) {
	case device.KindBadRequest:
		problem = models.NewBadRequest(traceID, err.Error(), nil)
	case device.KindUnauthenticated:
		problem = models.NewUnauthorized(traceID, err.Error())
	case device.KindForbidden:
		problem = models.NewForbidden(traceID, err.Error())
	case device.KindNotFound:
		problem = models.NewNotFound(traceID, err.Error())
	case device.KindConflict:
		problem = models.NewConflict(traceID, err.Error())
	default:
		if device.IsRetryable(err) {
			w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
			problem = models.NewServiceUnavailable(traceID, "a backing service is temporarily unavailable")
		} else {
			problem = models.NewInternalError(traceID, "internal server error")
		}
		if includeDebug {
			problem.Debug = debugFor(err)
		}
	}

	if derr != nil {
		problem.DeviceID = derr.DeviceID
		problem.Hint = derr.Hint
	}

	Error(w, r, problem)
}

// debugFor describes err and the chain of errors it wraps.
func debugFor(err error) *models.Debug {
	root := err
	var stack []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		stack = append(stack, e.Error())
		root = e
	}

	return &models.Debug{
		Message: err.Error(),
		Type:    fmt.Sprintf("%T", root),
		Stack:   stack,
	}
}
