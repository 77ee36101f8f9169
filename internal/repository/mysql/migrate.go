package mysql

import (
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Video{},
		&model.VideoStatusLog{},
		&model.Comment{},
		&model.CommentLike{},
		&model.CacheState{},
		&model.OutboxEvent{},
		&model.ProcessedMessage{},
	)
}
