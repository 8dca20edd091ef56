package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagelink/garagelink/internal/api/handler"
	"github.com/garagelink/garagelink/internal/api/models"
	"github.com/garagelink/garagelink/internal/device"
)

// stubService returns canned results and records the last call.
type stubService struct {
	list     *device.ListResult
	err      error
	lastName string
	action   device.Action
}

func (s *stubService) Claim(_ context.Context, callerID, deviceID, name string) (*device.Device, error) {
	s.lastName = name
	if s.err != nil {
		return nil, s.err
	}
	return &device.Device{ID: deviceID, OwnerID: callerID, Name: name}, nil
}

func (s *stubService) Get(_ context.Context, _, deviceID string) (*device.Device, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &device.Device{ID: deviceID}, nil
}

func (s *stubService) List(context.Context, string) (*device.ListResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

func (s *stubService) Share(_ context.Context, _, deviceID, email string, _ device.ShareMode) (*device.ShareResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &device.ShareResult{Device: &device.Device{ID: deviceID}, Email: email, Message: "ok"}, nil
}

func (s *stubService) SendCommand(_ context.Context, _, deviceID string, action device.Action) (*device.CommandResult, error) {
	s.action = action
	if s.err != nil {
		return nil, s.err
	}
	return &device.CommandResult{
		DeviceID:  deviceID,
		Action:    action,
		Timestamp: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
	}, nil
}

func serve(h http.HandlerFunc, pattern, method, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeviceHandler_ClaimPassesName(t *testing.T) {
	svc := &stubService{}
	h := handler.NewDeviceHandler(svc, false)

	w := serve(h.Claim, "/devices/claim/{deviceId}", http.MethodPost, "/devices/claim/gd-001", `{"name":"Barn"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Barn", svc.lastName)

	var resp models.ClaimResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Barn", resp.Device.Name)
	assert.NotNil(t, resp.Device.UserAccess, "userAccess is always an array on the wire")
}

func TestDeviceHandler_ListDebugOnlyWhenEnabled(t *testing.T) {
	svc := &stubService{list: &device.ListResult{
		Devices:    []*device.Device{{ID: "gd-001", OwnerID: "usr_1"}},
		OwnedCount: 1,
	}}

	w := serve(handler.NewDeviceHandler(svc, false).List, "/devices", http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "debug")

	w = serve(handler.NewDeviceHandler(svc, true).List, "/devices", http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list models.DeviceList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.NotNil(t, list.Debug)
	assert.Equal(t, 1, list.Debug.TotalCount)
}

func TestDeviceHandler_SendCommandResponse(t *testing.T) {
	svc := &stubService{}
	h := handler.NewDeviceHandler(svc, false)

	w := serve(h.SendCommand, "/devices/{deviceId}/command", http.MethodPost, "/devices/gd-001/command", `{"action":"open"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, device.ActionOpen, svc.action)
	assert.JSONEq(t, `{
		"message": "Command sent successfully",
		"command": "open",
		"deviceId": "gd-001",
		"timestamp": "2026-03-01T08:30:00Z"
	}`, w.Body.String())
}

func TestDeviceHandler_UnclassifiedErrorIsInternal(t *testing.T) {
	svc := &stubService{err: errors.New("boom")}
	h := handler.NewDeviceHandler(svc, false)

	w := serve(h.Get, "/devices/{deviceId}", http.MethodGet, "/devices/gd-001", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestDeviceHandler_MalformedShareBody(t *testing.T) {
	h := handler.NewDeviceHandler(&stubService{}, false)

	w := serve(h.Grant, "/devices/{deviceId}/share", http.MethodPost, "/devices/gd-001/share", `{"email":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
