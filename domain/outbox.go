package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// Topics carried by outbox events. The event type doubles as the broker topic.
const (
	TopicUserRegistered     = "user.registered"
	TopicVideoUploaded      = "video.uploaded"
	TopicVideoStatusChanged = "video.status_changed"
	TopicCommentLikeChanged = "comment.like_changed"
)

// OutboxEvent is written in the same transaction as the change it announces.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	Status        OutboxStatus
	AttemptCount  int
	PublishedAt   *time.Time
	LastError     string
	LockedBy      string
	LockedUntil   *time.Time
}

// OutboxDraft is what business code hands to the writer.
type OutboxDraft struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       any
}

type OutboxRepository interface {
	// Insert must run inside a transaction started by Transactor.
	Insert(ctx context.Context, ev *OutboxEvent) error

	// ClaimPending leases up to limit PENDING rows, oldest first, skipping rows
	// another relay holds.
	ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]OutboxEvent, error)

	MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error

	// MarkFailed stores the attempt; status becomes FAILED when attempts reach maxAttempts.
	MarkFailed(ctx context.Context, ev OutboxEvent, owner string, cause error, maxAttempts int) (OutboxStatus, error)

	// Release drops the lease without charging an attempt.
	Release(ctx context.Context, id uuid.UUID, owner string) error

	RequeueFailed(ctx context.Context, limit int) (int64, error)

	GetByID(ctx context.Context, id uuid.UUID) (OutboxEvent, error)
}

// OutboxWriter appends events from inside business transactions.
type OutboxWriter interface {
	Append(ctx context.Context, draft OutboxDraft) (OutboxEvent, error)
}

// UserRegisteredEvent is the payload of TopicUserRegistered.
type UserRegisteredEvent struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

// VideoUploadedEvent is the payload of TopicVideoUploaded.
type VideoUploadedEvent struct {
	VideoID   int64  `json:"videoId"`
	UserID    int64  `json:"userId"`
	SourceURL string `json:"sourceUrl"`
}

// VideoStatusChangedEvent is the payload of TopicVideoStatusChanged.
type VideoStatusChangedEvent struct {
	VideoID      int64       `json:"videoId"`
	Status       VideoStatus `json:"status"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// CommentLikeChangedEvent is the payload of TopicCommentLikeChanged.
type CommentLikeChangedEvent struct {
	CommentID int64 `json:"commentId"`
	UserID    int64 `json:"userId"`
	Liked     bool  `json:"liked"`
}
