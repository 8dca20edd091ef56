package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/garagelink/garagelink/internal/api/models"
	"github.com/garagelink/garagelink/internal/api/response"
	"github.com/garagelink/garagelink/internal/device"
)

// maxBodyBytes bounds the size of device request bodies.
const maxBodyBytes = 16 << 10

// DeviceService is the device operations the handler exposes over HTTP.
type DeviceService interface {
	Claim(ctx context.Context, callerID, deviceID, name string) (*device.Device, error)
	Get(ctx context.Context, callerID, deviceID string) (*device.Device, error)
	List(ctx context.Context, callerID string) (*device.ListResult, error)
	Share(ctx context.Context, callerID, deviceID, email string, mode device.ShareMode) (*device.ShareResult, error)
	SendCommand(ctx context.Context, callerID, deviceID string, action device.Action) (*device.CommandResult, error)
}

// DeviceHandler handles device endpoints.
type DeviceHandler struct {
	service DeviceService
	debug   bool
}

// NewDeviceHandler creates a new DeviceHandler. With debug set, fault responses
// and device lists carry diagnostic fields.
func NewDeviceHandler(service DeviceService, debug bool) *DeviceHandler {
	return &DeviceHandler{
		service: service,
		debug:   debug,
	}
}

// Claim handles POST /devices/claim/{deviceId} - take ownership of an unclaimed device.
func (h *DeviceHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var input models.ClaimRequest
	if err := decodeOptionalBody(r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	d, err := h.service.Claim(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "deviceId"), input.Name)
	if err != nil {
		response.DeviceError(w, r, err, h.debug)
		return
	}

	response.JSON(w, r, http.StatusOK, models.ClaimResponse{
		Message: "Device claimed successfully",
		Device:  toDeviceModel(d),
	})
}

// List handles GET /devices - devices the caller owns or can access.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context(), GetUserID(r.Context()))
	if err != nil {
		response.DeviceError(w, r, err, h.debug)
		return
	}

	list := models.DeviceList{Devices: make([]models.Device, 0, len(result.Devices))}
	for _, d := range result.Devices {
		list.Devices = append(list.Devices, toDeviceModel(d))
	}
	if h.debug {
		list.Debug = &models.DeviceListDebug{
			OwnedCount:  result.OwnedCount,
			SharedCount: result.SharedCount,
			TotalCount:  len(list.Devices),
		}
	}

	response.JSON(w, r, http.StatusOK, list)
}

// Get handles GET /devices/{deviceId}.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "deviceId"))
	if err != nil {
		response.DeviceError(w, r, err, h.debug)
		return
	}

	response.JSON(w, r, http.StatusOK, toDeviceModel(d))
}

// Grant handles POST /devices/{deviceId}/share.
func (h *DeviceHandler) Grant(w http.ResponseWriter, r *http.Request) {
	h.share(w, r, device.ShareGrant)
}

// Revoke handles DELETE /devices/{deviceId}/share.
func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.share(w, r, device.ShareRevoke)
}

func (h *DeviceHandler) share(w http.ResponseWriter, r *http.Request, mode device.ShareMode) {
	var input models.ShareRequest
	if err := decodeOptionalBody(r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	result, err := h.service.Share(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "deviceId"), input.Email, mode)
	if err != nil {
		response.DeviceError(w, r, err, h.debug)
		return
	}

	response.JSON(w, r, http.StatusOK, models.ShareResponse{
		Message: result.Message,
		Device:  toDeviceModel(result.Device),
	})
}

// SendCommand handles POST /devices/{deviceId}/command - publish open or close.
func (h *DeviceHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	var input models.CommandRequest
	if err := decodeOptionalBody(r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	result, err := h.service.SendCommand(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "deviceId"), device.Action(input.Action))
	if err != nil {
		response.DeviceError(w, r, err, h.debug)
		return
	}

	response.JSON(w, r, http.StatusOK, models.CommandResponse{
		Message:   "Command sent successfully",
		Command:   string(result.Action),
		DeviceID:  result.DeviceID,
		Timestamp: models.Timestamp(result.Timestamp),
	})
}

// decodeOptionalBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func toDeviceModel(d *device.Device) models.Device {
	m := models.Device{
		DeviceID:        d.ID,
		Name:            d.DisplayName(),
		UserAccess:      d.UserAccess,
		LastCommand:     string(d.LastCommand),
		LastCommandTime: models.NewTimestamp(d.LastCommandTime),
		CreatedAt:       models.Timestamp(d.CreatedAt),
		UpdatedAt:       models.Timestamp(d.UpdatedAt),
	}
	if d.Claimed() {
		owner := d.OwnerID
		m.OwnerID = &owner
	}
	if m.UserAccess == nil {
		m.UserAccess = []string{}
	}
	return m
}
