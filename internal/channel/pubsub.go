package channel

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/garagelink/garagelink/internal/config"
)

// TopicAttribute is the Pub/Sub message attribute carrying the device command topic.
const TopicAttribute = "topic"

// PubSubPublisher publishes commands to a single Google Cloud Pub/Sub topic.
// The per-device command topic travels as a message attribute so a bridge or
// subscription filter can route it to the controller.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicID   string
	logger    zerolog.Logger
}

// NewPubSubPublisher creates a publisher for the configured project and topic.
func NewPubSubPublisher(ctx context.Context, cfg config.PubSubConfig, logger zerolog.Logger) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.TopicID)

	// Commands are latency sensitive; send each one as soon as it is queued.
	publisher.PublishSettings.CountThreshold = 1

	return &PubSubPublisher{
		client:    client,
		publisher: publisher,
		topicID:   cfg.TopicID,
		logger:    logger.With().Str("component", "pubsub").Str("pubsub_topic", cfg.TopicID).Logger(),
	}, nil
}

// Publish sends payload and waits until the server accepts it or ctx is done.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{TopicAttribute: topic},
	})

	serverID, err := result.Get(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Debug().
		Str("message_id", serverID).
		Str("topic", topic).
		Msg("command published")

	return nil
}

// Ping reports whether the client can still publish.
func (p *PubSubPublisher) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
