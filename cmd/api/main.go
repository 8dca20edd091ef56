// Package main provides the entrypoint for the GarageLink API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/garagelink/garagelink/internal/api"
	"github.com/garagelink/garagelink/internal/api/handler"
	"github.com/garagelink/garagelink/internal/api/middleware"
	"github.com/garagelink/garagelink/internal/auth"
	"github.com/garagelink/garagelink/internal/channel"
	"github.com/garagelink/garagelink/internal/config"
	"github.com/garagelink/garagelink/internal/database"
	"github.com/garagelink/garagelink/internal/device"
	"github.com/garagelink/garagelink/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "garagelink-api"

func main() {
	configPath := flag.String("config", os.Getenv("GARAGELINK_CONFIG"), "path to YAML configuration file")
	flag.Parse()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Logging.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	log = log.Level(level)

	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Msg("starting GarageLink API")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()

	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.ConfigFrom(cfg, serviceName, Version))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.Endpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	var checks []handler.Check

	// Record store and user directory
	var (
		devices device.Repository
		users   auth.UserRepository
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		devices = device.NewPostgresRepository(pool)
		users = auth.NewPostgresUserRepository(pool)
		checks = append(checks, handler.Check{Name: "postgres", Probe: pool.Ping})
	default:
		log.Warn().Msg("using in-memory store - data is lost on restart")
		devices = device.NewInMemoryRepository()
		users = auth.NewInMemoryUserRepository()
	}

	if len(cfg.Store.SeedDevices) > 0 {
		created, err := device.Seed(ctx, devices, cfg.Store.SeedDevices)
		if err != nil {
			return err
		}
		log.Info().
			Int("created", created).
			Int("requested", len(cfg.Store.SeedDevices)).
			Msg("seed devices registered")
	}

	if cfg.Auth.JWT.SigningKey == config.DefaultSigningKey {
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	authService := auth.NewService(auth.ServiceConfig{
		JWTService: auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.Auth.JWT.SigningKey,
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
		}),
		UserRepo:          users,
		Logger:            log,
		DirectoryCacheTTL: cfg.Auth.DirectoryCacheTTL,
	})
	log.Info().Msg("auth service initialized")

	// Command channel
	publisher, closePublisher, err := openChannel(ctx, cfg.Channel, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	guarded, err := channel.NewGuarded(publisher, channel.BreakerConfig{
		Name:        cfg.Channel.Driver,
		MaxRequests: cfg.Channel.Breaker.MaxRequests,
		Timeout:     cfg.Channel.Breaker.Timeout,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize channel breaker: %w", err)
	}
	checks = append(checks, handler.Check{Name: "channel:" + cfg.Channel.Driver, Probe: guarded.Ping})
	log.Info().Str("driver", cfg.Channel.Driver).Msg("command channel initialized")

	deviceService := device.NewService(device.ServiceConfig{
		Repository:  devices,
		Directory:   authService,
		Publisher:   guarded,
		TopicPrefix: cfg.Channel.TopicPrefix,
		Logger:      log,
	})

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		TokenValidator:  authService,
		DeviceService:   deviceService,
		CORS:            cfg.Server.CORS,
		RateLimit:       cfg.Server.RateLimit,
		RequireTLS:      cfg.Server.RequireTLS,
		ReadinessChecks: checks,
		Debug:           !cfg.IsProduction(),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	dbConfig := database.ConfigFrom(cfg)

	pool, err := database.Connect(ctx, dbConfig, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	if cfg.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
		log.Info().Msg("database schema ready")
	}

	return pool, nil
}

// openChannel builds the configured publisher. The returned func releases it.
func openChannel(ctx context.Context, cfg config.ChannelConfig, log zerolog.Logger) (channel.Publisher, func(), error) {
	closer := func(c io.Closer) func() {
		return func() {
			if err := c.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close command channel")
			}
		}
	}

	switch cfg.Driver {
	case config.ChannelMQTT:
		p, err := channel.NewMQTTPublisher(cfg.MQTT, cfg.PublishTimeout, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to MQTT broker: %w", err)
		}
		return p, closer(p), nil
	case config.ChannelPubSub:
		p, err := channel.NewPubSubPublisher(ctx, cfg.PubSub, log)
		if err != nil {
			return nil, nil, fmt.Errorf("create Pub/Sub publisher: %w", err)
		}
		return p, closer(p), nil
	default:
		log.Warn().Msg("using in-memory command channel - commands are not delivered")
		return channel.NewInMemoryPublisher(), func() {}, nil
	}
}
