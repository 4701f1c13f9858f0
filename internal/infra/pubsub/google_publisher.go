package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orpheus/internal/domain/entity"
	"orpheus/internal/domain/service"

	"cloud.google.com/go/pubsub/v2"
	pubsubpb "cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/pkg/errors"
)

// ackTimeout bounds how long a detached publish waits for the server ack.
const ackTimeout = 30 * time.Second

// ackResult is the part of *pubsub.PublishResult the publisher waits on.
type ackResult interface {
	Get(ctx context.Context) (serverID string, err error)
}

// googlePubSubPublisher implements EventPublisher using Google Cloud Pub/Sub.
// Publishing never blocks the caller on the server ack; the outcome is logged.
type googlePubSubPublisher struct {
	client  *pubsub.Client
	publish func(ctx context.Context, msg *pubsub.Message) ackResult
	stop    func()
	logger  *slog.Logger

	inflight sync.WaitGroup
}

// NewGooglePubSubPublisher creates a new Google Pub/Sub publisher
func NewGooglePubSubPublisher(ctx context.Context, projectID, topicID string, logger *slog.Logger) (service.EventPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Check if topic exists using TopicAdminClient
	topicPath := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err = client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: topicPath,
	})
	if err != nil {
		client.Close()

		return nil, errors.Wrapf(err, "failed to get topic %s", topicID)
	}

	publisher := client.Publisher(topicID)

	logger.Info("Google Pub/Sub publisher initialized",
		slog.String("project_id", projectID),
		slog.String("topic_id", topicID),
	)

	p := newGooglePublisher(func(ctx context.Context, msg *pubsub.Message) ackResult {
		return publisher.Publish(ctx, msg)
	}, publisher.Stop, logger)
	p.client = client

	return p, nil
}

func newGooglePublisher(publish func(context.Context, *pubsub.Message) ackResult, stop func(), logger *slog.Logger) *googlePubSubPublisher {
	return &googlePubSubPublisher{
		publish: publish,
		stop:    stop,
		logger:  logger,
	}
}

// PublishSecurityEvent hands the event to the batching publisher and returns.
// The ack is awaited in the background under a context detached from the request.
func (p *googlePubSubPublisher) PublishSecurityEvent(ctx context.Context, event *entity.SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WithStack(err)
	}

	detached := context.WithoutCancel(ctx)
	result := p.publish(detached, &pubsub.Message{
		Data:       data,
		Attributes: eventAttributes(event),
	})

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		ackCtx, cancel := context.WithTimeout(detached, ackTimeout)
		defer cancel()

		serverID, err := result.Get(ackCtx)
		if err != nil {
			p.logger.WarnContext(ackCtx, "[GooglePubSub] Event publish failed",
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", string(event.Type)),
				slog.Any("error", err),
			)

			return
		}

		p.logger.DebugContext(ackCtx, "[GooglePubSub] Event published",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", string(event.Type)),
			slog.String("server_id", serverID),
		)
	}()

	return nil
}

// Close flushes pending messages, waits for their acks and releases client resources
func (p *googlePubSubPublisher) Close() error {
	if p.stop != nil {
		p.stop()
	}
	p.inflight.Wait()

	if p.client != nil {
		return errors.WithStack(p.client.Close())
	}

	return nil
}
