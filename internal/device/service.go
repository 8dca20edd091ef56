package device

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garagelink/garagelink/internal/channel"
	"github.com/garagelink/garagelink/internal/telemetry"
)

// MaxNameLength is the longest display name accepted on claim.
const MaxNameLength = 100

// UnknownUserHint is attached to share failures for an email with no account.
const UnknownUserHint = "The user must create an account before they can be granted access."

// Directory resolves an email address to a user ID.
type Directory interface {
	// LookupByEmail returns the ID of the user registered with email, or an
	// empty string when there is none.
	LookupByEmail(ctx context.Context, email string) (string, error)
}

// ShareMode selects whether Share grants or revokes access.
type ShareMode int

const (
	ShareGrant ShareMode = iota + 1
	ShareRevoke
)

// ListResult is the set of devices visible to a caller.
type ListResult struct {
	Devices     []*Device
	OwnedCount  int
	SharedCount int
}

// ShareResult is the outcome of a successful grant or revoke.
type ShareResult struct {
	Device  *Device
	Email   string
	Message string
}

// CommandResult acknowledges that a command was accepted for delivery.
// It does not confirm that the door moved.
type CommandResult struct {
	DeviceID  string
	Action    Action
	Topic     string
	Timestamp time.Time
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Repository  Repository
	Directory   Directory
	Publisher   channel.Publisher
	TopicPrefix string
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Service implements device claiming, access sharing and command dispatch.
type Service struct {
	repo        Repository
	directory   Directory
	publisher   channel.Publisher
	topicPrefix string
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewService creates a new device service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:        cfg.Repository,
		directory:   cfg.Directory,
		publisher:   cfg.Publisher,
		topicPrefix: cfg.TopicPrefix,
		logger:      cfg.Logger.With().Str("component", "device").Logger(),
		tracer:      telemetry.Tracer("github.com/garagelink/garagelink/internal/device"),
		now:         now,
	}
}

// Claim makes callerID the owner of a pre-registered, unclaimed device.
// An empty name defaults to the device ID.
func (s *Service) Claim(ctx context.Context, callerID, deviceID, name string) (_ *Device, err error) {
	ctx, span := s.startSpan(ctx, "device.Claim", deviceID)
	defer func() { endSpan(span, err) }()

	if err := checkRequest(callerID, deviceID); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, newError(KindBadRequest, deviceID, ErrInvalidName)
	}
	if name == "" {
		name = deviceID
	}

	current, err := s.load(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, newError(KindNotFound, deviceID, ErrNotPreRegistered)
		}
		return nil, err
	}
	if current.Claimed() {
		return nil, newError(KindConflict, deviceID, ErrAlreadyClaimed)
	}

	device, err := s.repo.ConditionalUpdate(ctx, deviceID, Condition{Unowned: true}, ClaimMutation(callerID, name))
	switch {
	case errors.Is(err, ErrConditionFailed):
		s.logger.Info().
			Str("device_id", deviceID).
			Str("user_id", callerID).
			Msg("claim lost race")
		return nil, newError(KindConflict, deviceID, ErrClaimRace)
	case errors.Is(err, ErrDeviceNotFound):
		return nil, newError(KindNotFound, deviceID, ErrNotPreRegistered)
	case err != nil:
		return nil, upstream("claim device", err)
	}

	s.logger.Info().
		Str("device_id", deviceID).
		Str("user_id", callerID).
		Msg("device claimed")

	return device, nil
}

// Get returns a device the caller owns or has been granted access to.
func (s *Service) Get(ctx context.Context, callerID, deviceID string) (_ *Device, err error) {
	ctx, span := s.startSpan(ctx, "device.Get", deviceID)
	defer func() { endSpan(span, err) }()

	if err := checkRequest(callerID, deviceID); err != nil {
		return nil, err
	}

	device, err := s.load(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, newError(KindNotFound, deviceID, ErrDeviceNotFound)
		}
		return nil, err
	}

	if !device.CanView(callerID) {
		return nil, newError(KindForbidden, deviceID, ErrNotAuthorized)
	}

	return device, nil
}

// List returns every device the caller owns or has been granted access to.
// A device appears at most once.
func (s *Service) List(ctx context.Context, callerID string) (_ *ListResult, err error) {
	ctx, span := s.startSpan(ctx, "device.List", "")
	defer func() { endSpan(span, err) }()

	if callerID == "" {
		return nil, newError(KindUnauthenticated, "", ErrUnauthenticated)
	}

	owned, err := s.repo.ListByOwner(ctx, callerID)
	if err != nil {
		return nil, upstream("list owned devices", err)
	}

	shared, err := s.repo.ListByMember(ctx, callerID)
	if err != nil {
		return nil, upstream("list shared devices", err)
	}

	seen := make(map[string]struct{}, len(owned)+len(shared))
	result := &ListResult{Devices: make([]*Device, 0, len(owned)+len(shared))}

	for _, d := range owned {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		result.Devices = append(result.Devices, d)
		result.OwnedCount++
	}
	for _, d := range shared {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		result.Devices = append(result.Devices, d)
		result.SharedCount++
	}

	return result, nil
}

// Share grants or revokes another user's access to a device owned by callerID.
// The target is identified by email.
func (s *Service) Share(ctx context.Context, callerID, deviceID, email string, mode ShareMode) (_ *ShareResult, err error) {
	ctx, span := s.startSpan(ctx, "device.Share", deviceID)
	defer func() { endSpan(span, err) }()

	if err := checkRequest(callerID, deviceID); err != nil {
		return nil, err
	}
	if mode != ShareGrant && mode != ShareRevoke {
		return nil, newError(KindBadRequest, deviceID, ErrInvalidShareMode)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, newError(KindBadRequest, deviceID, ErrInvalidEmail)
	}

	device, err := s.load(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, newError(KindNotFound, deviceID, ErrDeviceNotFound)
		}
		return nil, err
	}
	if !device.IsOwner(callerID) {
		return nil, newError(KindForbidden, deviceID, ErrNotOwner)
	}

	targetID, err := s.directory.LookupByEmail(ctx, email)
	if err != nil {
		return nil, upstream("look up user", err)
	}
	if targetID == "" {
		e := newError(KindNotFound, deviceID, ErrUserNotFound)
		e.Hint = UnknownUserHint
		return nil, e
	}
	if targetID == device.OwnerID {
		return nil, newError(KindBadRequest, deviceID, ErrShareWithOwner)
	}

	logger := s.logger.With().
		Str("device_id", deviceID).
		Str("user_id", callerID).
		Str("target_id", targetID).
		Logger()

	var (
		cond    Condition
		mut     Mutation
		message string
	)

	switch mode {
	case ShareGrant:
		if device.HasAccess(targetID) {
			return nil, newError(KindConflict, deviceID, ErrAlreadyShared)
		}
		cond = Condition{OwnerID: callerID, LacksAccess: targetID}
		mut = GrantMutation(targetID)
		message = "Access granted successfully to " + email
	case ShareRevoke:
		if !device.HasAccess(targetID) {
			return nil, newError(KindNotFound, deviceID, ErrNoAccess)
		}
		cond = Condition{OwnerID: callerID, HasAccess: targetID}
		mut = RevokeMutation(targetID)
		message = "Access revoked successfully from " + email
	}

	updated, err := s.repo.ConditionalUpdate(ctx, deviceID, cond, mut)
	switch {
	case errors.Is(err, ErrConditionFailed):
		logger.Info().Msg("access change lost race")
		if mode == ShareGrant && s.grantedConcurrently(ctx, deviceID, callerID, targetID) {
			return nil, newError(KindConflict, deviceID, ErrAlreadyShared)
		}
		return nil, newError(KindConflict, deviceID, ErrAccessChanged)
	case errors.Is(err, ErrDeviceNotFound):
		return nil, newError(KindNotFound, deviceID, ErrDeviceNotFound)
	case err != nil:
		return nil, upstream("update device access", err)
	}

	logger.Info().
		Bool("grant", mode == ShareGrant).
		Int("access_count", len(updated.UserAccess)).
		Msg("device access changed")

	return &ShareResult{Device: updated, Email: email, Message: message}, nil
}

// SendCommand publishes an open or close command to the device's command topic.
//
// A missing device and an unauthorized caller are both reported as Forbidden so
// callers cannot probe for device IDs. Recording the command on the device record
// happens after the publish and its failure is only logged.
func (s *Service) SendCommand(ctx context.Context, callerID, deviceID string, action Action) (_ *CommandResult, err error) {
	ctx, span := s.startSpan(ctx, "device.SendCommand", deviceID)
	defer func() { endSpan(span, err) }()

	if err := checkRequest(callerID, deviceID); err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, newError(KindBadRequest, deviceID, ErrInvalidAction)
	}

	device, err := s.load(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, newError(KindForbidden, deviceID, ErrNotAuthorized)
		}
		return nil, err
	}
	if !device.CanView(callerID) {
		return nil, newError(KindForbidden, deviceID, ErrNotAuthorized)
	}

	now := s.now().UTC()
	topic := channel.CommandTopic(s.topicPrefix, deviceID)

	payload, err := channel.CommandMessage{
		Action:      string(action),
		Timestamp:   now,
		RequestedBy: callerID,
	}.Encode()
	if err != nil {
		return nil, upstream("encode command", err)
	}

	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		return nil, upstream("publish command", err)
	}

	logger := s.logger.With().
		Str("device_id", deviceID).
		Str("user_id", callerID).
		Str("action", string(action)).
		Str("topic", topic).
		Logger()

	logger.Info().Msg("command published")

	if _, err := s.repo.ConditionalUpdate(ctx, deviceID, Condition{}, RecordCommandMutation(action, now)); err != nil {
		logger.Warn().Err(err).Msg("failed to record last command")
	}

	return &CommandResult{
		DeviceID:  deviceID,
		Action:    action,
		Topic:     topic,
		Timestamp: now,
	}, nil
}

func (s *Service) startSpan(ctx context.Context, name, deviceID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	if deviceID != "" {
		span.SetAttributes(attribute.String("device.id", deviceID))
	}
	return ctx, span
}

// endSpan records the outcome. Only upstream failures mark the span as errored.
func endSpan(span trace.Span, err error) {
	if err != nil {
		kind := KindOf(err)
		span.SetAttributes(attribute.String("device.error_kind", kind.String()))
		if kind == KindUpstream {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// grantedConcurrently reports whether a re-read shows targetID already holding
// access on a device still owned by ownerID.
func (s *Service) grantedConcurrently(ctx context.Context, deviceID, ownerID, targetID string) bool {
	d, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return false
	}
	return d.IsOwner(ownerID) && d.HasAccess(targetID)
}

// load fetches a device, leaving ErrDeviceNotFound unwrapped for the caller to classify.
func (s *Service) load(ctx context.Context, deviceID string) (*Device, error) {
	device, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, upstream("load device", err)
	}
	return device, nil
}

func checkRequest(callerID, deviceID string) error {
	if callerID == "" {
		return newError(KindUnauthenticated, deviceID, ErrUnauthenticated)
	}
	if strings.TrimSpace(deviceID) == "" {
		return newError(KindBadRequest, "", ErrMissingDeviceID)
	}
	return nil
}
