package service

import (
	"context"

	"orpheus/internal/domain/entity"
)

// EventPublisher defines the interface for publishing events to a message queue
type EventPublisher interface {
	// PublishSecurityEvent publishes an account or session event for audit consumers
	PublishSecurityEvent(ctx context.Context, event *entity.SecurityEvent) error

	// Close releases any resources held by the publisher
	Close() error
}
