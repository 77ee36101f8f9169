package model

import (
	"time"

	"github.com/Guyuepp/videohub/domain"
)

type ProcessedMessage struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	MessageID     string    `gorm:"column:message_id;type:varchar(64);not null;uniqueIndex:uk_message_group"`
	ConsumerGroup string    `gorm:"column:consumer_group;type:varchar(64);not null;uniqueIndex:uk_message_group"`
	Topic         string    `gorm:"type:varchar(128)"`
	ProcessedAt   time.Time `gorm:"column:processed_at;precision:6"`
}

func (ProcessedMessage) TableName() string {
	return "processed_messages"
}

func NewProcessedMessageFromDomain(m domain.ProcessedMessage) *ProcessedMessage {
	return &ProcessedMessage{
		MessageID:     m.MessageID,
		ConsumerGroup: m.ConsumerGroup,
		Topic:         m.Topic,
		ProcessedAt:   m.ProcessedAt,
	}
}
