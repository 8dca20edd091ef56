package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/garagelink/garagelink/internal/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	// maxPayloadSize bounds a single command message.
	maxPayloadSize = 1 << 16
)

// MQTTPublisher publishes commands to an MQTT broker.
//
// Commands are sent non-retained so a controller that reconnects later never
// replays a stale open or close.
type MQTTPublisher struct {
	client    pahomqtt.Client
	qos       byte
	timeout   time.Duration
	connected atomic.Bool
	logger    zerolog.Logger
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg config.MQTTConfig, publishTimeout time.Duration, logger zerolog.Logger) (*MQTTPublisher, error) {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}

	p := &MQTTPublisher{
		qos:     byte(cfg.QoS), //nolint:gosec // QoS is bounded by config validation
		timeout: publishTimeout,
		logger:  logger.With().Str("component", "mqtt").Logger(),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		p.connected.Store(true)
		p.logger.Info().Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.connected.Store(false)
		p.logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: connect timeout after %v", ErrNotConnected, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	p.connected.Store(true)

	return p, nil
}

// buildClientOptions creates paho options from the broker configuration.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// Publish sends payload to topic. It returns once the message is handed to the
// network, the publish timeout elapses, or ctx is done.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: after %v", ErrPublishTimeout, p.timeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// IsConnected returns the last known connection state.
func (p *MQTTPublisher) IsConnected() bool {
	return p.connected.Load() && p.client.IsConnected()
}

// Ping reports whether the broker connection is up.
func (p *MQTTPublisher) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects from the broker, letting in-flight publishes finish.
func (p *MQTTPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	p.connected.Store(false)
	return nil
}
