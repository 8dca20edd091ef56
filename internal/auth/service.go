package auth

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/garagelink/garagelink/internal/telemetry"
)

// Service validates caller credentials and resolves users for access sharing.
type Service struct {
	jwtService *JWTService
	userRepo   UserRepository
	emails     *cache.Cache // lower-cased email -> user ID, positive lookups only
	lookups    metric.Int64Counter
	logger     zerolog.Logger
}

// ServiceConfig holds configuration for the auth service.
type ServiceConfig struct {
	JWTService *JWTService
	UserRepo   UserRepository
	Logger     zerolog.Logger

	// DirectoryCacheTTL is how long a resolved email stays cached.
	// Zero disables caching.
	DirectoryCacheTTL time.Duration
}

// NewService creates a new auth service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		jwtService: cfg.JWTService,
		userRepo:   cfg.UserRepo,
		logger:     cfg.Logger,
	}

	lookups, err := telemetry.Meter("github.com/garagelink/garagelink/internal/auth").Int64Counter(
		"garagelink.directory.lookups",
		metric.WithDescription("Email to user ID resolutions by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("directory lookup counter unavailable")
		lookups = noop.Int64Counter{}
	}
	s.lookups = lookups

	if cfg.DirectoryCacheTTL > 0 {
		s.emails = cache.New(cfg.DirectoryCacheTTL, 2*cfg.DirectoryCacheTTL)
	}

	return s
}

// ValidateAccessToken validates a bearer token and returns the caller's user ID.
func (s *Service) ValidateAccessToken(tokenString string) (string, error) {
	claims, err := s.jwtService.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// LookupByEmail returns the ID of the user registered with email, or an empty
// string when no such user exists. Misses are not cached so a freshly created
// account can be shared with immediately.
func (s *Service) LookupByEmail(ctx context.Context, email string) (string, error) {
	key := normalizeEmail(email)

	if s.emails != nil {
		if id, ok := s.emails.Get(key); ok {
			s.recordLookup(ctx, "cache_hit")
			return id.(string), nil
		}
	}

	user, err := s.userRepo.FindByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.recordLookup(ctx, "not_found")
			s.logger.Debug().Msg("directory lookup miss")
			return "", nil
		}
		s.recordLookup(ctx, "error")
		return "", err
	}
	s.recordLookup(ctx, "found")

	if s.emails != nil {
		s.emails.Set(key, user.ID, cache.DefaultExpiration)
	}

	return user.ID, nil
}

func (s *Service) recordLookup(ctx context.Context, result string) {
	s.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
