package domain

import (
	"context"
	"time"
)

// ProcessedMessage records that a consumer group applied a message.
// The (MessageID, ConsumerGroup) pair is unique in storage.
type ProcessedMessage struct {
	MessageID     string
	ConsumerGroup string
	Topic         string
	ProcessedAt   time.Time
}

type ProcessedMessageRepository interface {
	// Insert returns a StoreConflict error when the pair was already recorded.
	Insert(ctx context.Context, m ProcessedMessage) error
	// Delete removes the entry; used to compensate a failed remote effect.
	Delete(ctx context.Context, messageID, consumerGroup string) error
	Exists(ctx context.Context, messageID, consumerGroup string) (bool, error)
}
