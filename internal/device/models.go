// Package device provides device ownership, access sharing and command dispatch
// for garage-door controllers.
package device

import (
	"errors"
	"slices"
	"time"
)

// Repository errors.
var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrConditionFailed = errors.New("conditional update rejected")
	ErrDeviceExists    = errors.New("device already registered")
)

// Action is a command that can be sent to a controller.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// Valid reports whether the action is one of the supported commands.
func (a Action) Valid() bool {
	return a == ActionOpen || a == ActionClose
}

// Device is a pre-registered garage-door controller record.
type Device struct {
	ID              string
	OwnerID         string // empty while unclaimed
	Name            string
	UserAccess      []string
	LastCommand     Action
	LastCommandTime *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Claimed reports whether the device has an owner.
func (d *Device) Claimed() bool {
	return d.OwnerID != ""
}

// IsOwner reports whether userID owns the device.
func (d *Device) IsOwner(userID string) bool {
	return userID != "" && d.OwnerID == userID
}

// HasAccess reports whether userID appears in the shared access list.
func (d *Device) HasAccess(userID string) bool {
	return slices.Contains(d.UserAccess, userID)
}

// CanView reports whether userID may read or command the device.
func (d *Device) CanView(userID string) bool {
	return d.IsOwner(userID) || d.HasAccess(userID)
}

// DisplayName returns the device name, falling back to the device ID.
func (d *Device) DisplayName() string {
	if d.Name == "" {
		return d.ID
	}
	return d.Name
}

// Condition is the precondition of a conditional update. Every non-zero field must
// hold at write time for the mutation to apply.
type Condition struct {
	// Unowned requires the device to have no owner.
	Unowned bool
	// OwnerID requires the device to be owned by this user.
	OwnerID string
	// HasAccess requires this user to be present in the access list.
	HasAccess string
	// LacksAccess requires this user to be absent from the access list.
	LacksAccess string
}

// Holds evaluates the condition against a device record.
func (c Condition) Holds(d *Device) bool {
	if c.Unowned && d.Claimed() {
		return false
	}
	if c.OwnerID != "" && d.OwnerID != c.OwnerID {
		return false
	}
	if c.HasAccess != "" && !d.HasAccess(c.HasAccess) {
		return false
	}
	if c.LacksAccess != "" && d.HasAccess(c.LacksAccess) {
		return false
	}
	return true
}

// MutationKind identifies the state transition a Mutation performs.
type MutationKind int

const (
	// MutationClaim sets the owner, resets the access list and sets the name.
	MutationClaim MutationKind = iota + 1
	// MutationGrant appends a user to the access list.
	MutationGrant
	// MutationRevoke removes a user from the access list.
	MutationRevoke
	// MutationRecordCommand stores the last dispatched command.
	MutationRecordCommand
)

// Mutation describes the change applied by a conditional update.
type Mutation struct {
	Kind MutationKind

	OwnerID string // MutationClaim
	Name    string // MutationClaim
	UserID  string // MutationGrant, MutationRevoke

	Command     Action    // MutationRecordCommand
	CommandTime time.Time // MutationRecordCommand
}

// Apply performs the mutation on a device record in place.
func (m Mutation) Apply(d *Device, now time.Time) {
	switch m.Kind {
	case MutationClaim:
		d.OwnerID = m.OwnerID
		d.Name = m.Name
		d.UserAccess = []string{}
	case MutationGrant:
		d.UserAccess = append(d.UserAccess, m.UserID)
	case MutationRevoke:
		d.UserAccess = slices.DeleteFunc(d.UserAccess, func(id string) bool {
			return id == m.UserID
		})
	case MutationRecordCommand:
		t := m.CommandTime
		d.LastCommand = m.Command
		d.LastCommandTime = &t
	}
	d.UpdatedAt = now
}

// ClaimMutation builds the mutation that makes ownerID the owner of the device.
func ClaimMutation(ownerID, name string) Mutation {
	return Mutation{Kind: MutationClaim, OwnerID: ownerID, Name: name}
}

// GrantMutation builds the mutation that appends userID to the access list.
func GrantMutation(userID string) Mutation {
	return Mutation{Kind: MutationGrant, UserID: userID}
}

// RevokeMutation builds the mutation that removes userID from the access list.
func RevokeMutation(userID string) Mutation {
	return Mutation{Kind: MutationRevoke, UserID: userID}
}

// RecordCommandMutation builds the mutation that stores the last dispatched command.
func RecordCommandMutation(action Action, at time.Time) Mutation {
	return Mutation{Kind: MutationRecordCommand, Command: action, CommandTime: at}
}
