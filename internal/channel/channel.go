// Package channel delivers device commands to the messaging endpoint that
// garage-door controllers listen on.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain-specific errors for channel operations.
var (
	// ErrNotConnected is returned when the underlying transport has no live connection.
	ErrNotConnected = errors.New("channel: not connected")

	// ErrPublishFailed is returned when the transport rejects a publish.
	ErrPublishFailed = errors.New("channel: publish failed")

	// ErrPublishTimeout is returned when the transport does not acknowledge a
	// publish within the publish timeout.
	ErrPublishTimeout = errors.New("channel: publish timed out")

	// ErrCircuitOpen is returned while the publish circuit breaker is open.
	ErrCircuitOpen = errors.New("channel: circuit breaker is open")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("channel: topic cannot be empty")
)

// DefaultTopicPrefix is the first topic level of every command topic.
const DefaultTopicPrefix = "garage"

// Publisher sends a payload to a topic with at-most-once delivery.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Pinger is implemented by publishers that can report connection health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CommandTopic returns the command topic for a device.
//
// Example: garage/gd-0042/commands
func CommandTopic(prefix, deviceID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return fmt.Sprintf("%s/%s/commands", strings.TrimSuffix(prefix, "/"), deviceID)
}

// CommandMessage is the payload delivered to a controller.
type CommandMessage struct {
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	RequestedBy string    `json:"requestedBy"`
}

// Encode serializes the message as JSON with an RFC 3339 UTC timestamp.
func (m CommandMessage) Encode() ([]byte, error) {
	m.Timestamp = m.Timestamp.UTC()
	return json.Marshal(m)
}

// DecodeCommand parses a command payload.
func DecodeCommand(payload []byte) (CommandMessage, error) {
	var m CommandMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return CommandMessage{}, fmt.Errorf("decoding command: %w", err)
	}
	return m, nil
}
