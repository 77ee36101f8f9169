package model

import (
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/google/uuid"
)

type OutboxEvent struct {
	ID            uuid.UUID  `gorm:"type:char(36);primaryKey"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(64);not null"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(64);not null"`
	EventType     string     `gorm:"column:event_type;type:varchar(128);not null"`
	Payload       []byte     `gorm:"type:json;not null"`
	Status        string     `gorm:"type:varchar(16);not null;index:idx_outbox_status_created,priority:1"`
	AttemptCount  int        `gorm:"column:attempt_count;not null;default:0"`
	LastError     string     `gorm:"column:last_error;type:text"`
	LockedBy      string     `gorm:"column:locked_by;type:varchar(64);not null;default:''"`
	LockedUntil   *time.Time `gorm:"column:locked_until;precision:6"`
	PublishedAt   *time.Time `gorm:"column:published_at;precision:6"`
	CreatedAt     time.Time  `gorm:"precision:6;index:idx_outbox_status_created,priority:2"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

func (m *OutboxEvent) ToDomain() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       m.Payload,
		CreatedAt:     m.CreatedAt,
		Status:        domain.OutboxStatus(m.Status),
		AttemptCount:  m.AttemptCount,
		PublishedAt:   m.PublishedAt,
		LastError:     m.LastError,
		LockedBy:      m.LockedBy,
		LockedUntil:   m.LockedUntil,
	}
}

func NewOutboxEventFromDomain(e *domain.OutboxEvent) *OutboxEvent {
	return &OutboxEvent{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       e.Payload,
		Status:        string(e.Status),
		AttemptCount:  e.AttemptCount,
		LastError:     e.LastError,
		LockedBy:      e.LockedBy,
		LockedUntil:   e.LockedUntil,
		PublishedAt:   e.PublishedAt,
		CreatedAt:     e.CreatedAt,
	}
}
