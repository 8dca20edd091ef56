package response_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagelink/garagelink/internal/api/models"
	"github.com/garagelink/garagelink/internal/api/response"
	"github.com/garagelink/garagelink/internal/channel"
	"github.com/garagelink/garagelink/internal/device"
)

func decodeProblem(t *testing.T, body []byte) models.Problem {
	t.Helper()
	var problem models.Problem
	require.NoError(t, json.Unmarshal(body, &problem))
	return problem
}

func TestDeviceError_StatusByKind(t *testing.T) {
	tests := []struct {
		kind   device.Kind
		err    error
		status int
	}{
		{device.KindBadRequest, device.ErrInvalidAction, http.StatusBadRequest},
		{device.KindUnauthenticated, device.ErrUnauthenticated, http.StatusUnauthorized},
		{device.KindForbidden, device.ErrNotAuthorized, http.StatusForbidden},
		{device.KindNotFound, device.ErrDeviceNotFound, http.StatusNotFound},
		{device.KindConflict, device.ErrAlreadyClaimed, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			req, rec := requestWithContext(t, http.MethodPost, "/devices/claim/gd-001")

			response.DeviceError(rec, req, &device.Error{Kind: tt.kind, DeviceID: "gd-001", Err: tt.err}, true)

			assert.Equal(t, tt.status, rec.Code)
			problem := decodeProblem(t, rec.Body.Bytes())
			assert.Equal(t, tt.err.Error(), problem.Error)
			assert.Equal(t, "gd-001", problem.DeviceID)
			assert.Nil(t, problem.Debug, "client errors never carry debug details")
		})
	}
}

func TestDeviceError_Hint(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodPost, "/devices/gd-001/share")

	err := &device.Error{
		Kind:     device.KindNotFound,
		DeviceID: "gd-001",
		Hint:     device.UnknownUserHint,
		Err:      device.ErrUserNotFound,
	}
	response.DeviceError(rec, req, err, false)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	problem := decodeProblem(t, rec.Body.Bytes())
	assert.Equal(t, device.UnknownUserHint, problem.Hint)
}

func TestDeviceError_InternalHidesCause(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/devices")

	cause := fmt.Errorf("list owned devices: %w", errors.New("connection reset by peer"))
	response.DeviceError(rec, req, &device.Error{Err: cause}, false)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "connection reset")

	problem := decodeProblem(t, rec.Body.Bytes())
	assert.Nil(t, problem.Debug)
}

func TestDeviceError_DebugDetails(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/devices")

	cause := fmt.Errorf("list owned devices: %w", errors.New("connection reset by peer"))
	response.DeviceError(rec, req, &device.Error{Err: cause}, true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	problem := decodeProblem(t, rec.Body.Bytes())
	require.NotNil(t, problem.Debug)
	assert.Equal(t, "list owned devices: connection reset by peer", problem.Debug.Message)
	assert.Equal(t, "*errors.errorString", problem.Debug.Type)
	assert.Len(t, problem.Debug.Stack, 3)
}

func TestDeviceError_RetryableUpstream(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"circuit open", channel.ErrCircuitOpen},
		{"not connected", channel.ErrNotConnected},
		{"publish timeout", channel.ErrPublishTimeout},
		{"deadline", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := requestWithContext(t, http.MethodPost, "/devices/gd-001/command")

			err := &device.Error{Err: fmt.Errorf("publish command: %w", tt.err)}
			response.DeviceError(rec, req, err, false)

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "5", rec.Header().Get("Retry-After"))
		})
	}
}
