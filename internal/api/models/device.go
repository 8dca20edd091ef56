package models

// Device is the wire representation of a garage-door controller.
type Device struct {
	DeviceID        string     `json:"deviceId"`
	OwnerID         *string    `json:"ownerId"`
	Name            string     `json:"name"`
	UserAccess      []string   `json:"userAccess"`
	LastCommand     string     `json:"lastCommand,omitempty"`
	LastCommandTime *Timestamp `json:"lastCommandTime,omitempty"`
	CreatedAt       Timestamp  `json:"createdAt"`
	UpdatedAt       Timestamp  `json:"updatedAt"`
}

// ClaimRequest is the optional request body for claiming a device.
type ClaimRequest struct {
	Name string `json:"name,omitempty"`
}

// ClaimResponse is returned after a successful claim.
type ClaimResponse struct {
	Message string `json:"message"`
	Device  Device `json:"device"`
}

// DeviceList is the set of devices visible to the caller.
type DeviceList struct {
	Devices []Device         `json:"devices"`
	Debug   *DeviceListDebug `json:"debug,omitempty"`
}

// DeviceListDebug carries diagnostic counts outside production.
type DeviceListDebug struct {
	OwnedCount  int `json:"ownedCount"`
	SharedCount int `json:"sharedCount"`
	TotalCount  int `json:"totalCount"`
}

// ShareRequest identifies the user to grant or revoke access for.
type ShareRequest struct {
	Email string `json:"email"`
}

// ShareResponse is returned after access is granted or revoked.
type ShareResponse struct {
	Message string `json:"message"`
	Device  Device `json:"device"`
}

// CommandRequest is the request body for sending a command.
type CommandRequest struct {
	Action string `json:"action"`
}

// CommandResponse acknowledges that a command was accepted for delivery.
type CommandResponse struct {
	Message   string    `json:"message"`
	Command   string    `json:"command"`
	DeviceID  string    `json:"deviceId"`
	Timestamp Timestamp `json:"timestamp"`
}
