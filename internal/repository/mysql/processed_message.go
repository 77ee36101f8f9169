package mysql

import (
	"context"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"gorm.io/gorm"
)

type processedMessageRepository struct {
	DB *gorm.DB
}

var _ domain.ProcessedMessageRepository = (*processedMessageRepository)(nil)

func NewProcessedMessageRepository(db *gorm.DB) *processedMessageRepository {
	return &processedMessageRepository{DB: db}
}

// Insert leans on uk_message_group to reject a second delivery.
func (r *processedMessageRepository) Insert(ctx context.Context, m domain.ProcessedMessage) error {
	if err := conn(ctx, r.DB).Create(model.NewProcessedMessageFromDomain(m)).Error; err != nil {
		return translate("processed_message.insert", err)
	}
	return nil
}

func (r *processedMessageRepository) Delete(ctx context.Context, messageID, consumerGroup string) error {
	err := conn(ctx, r.DB).
		Where("message_id = ? AND consumer_group = ?", messageID, consumerGroup).
		Delete(&model.ProcessedMessage{}).Error
	return translate("processed_message.delete", err)
}

func (r *processedMessageRepository) Exists(ctx context.Context, messageID, consumerGroup string) (bool, error) {
	var n int64
	err := conn(ctx, r.DB).Model(&model.ProcessedMessage{}).
		Where("message_id = ? AND consumer_group = ?", messageID, consumerGroup).
		Count(&n).Error
	if err != nil {
		return false, translate("processed_message.exists", err)
	}
	return n > 0, nil
}
