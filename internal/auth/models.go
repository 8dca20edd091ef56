// Package auth verifies bearer credentials and resolves GarageLink users.
package auth

import "time"

// User is a registered GarageLink account.
type User struct {
	ID          string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
