package model

import (
	"time"

	"github.com/Guyuepp/videohub/domain"
)

type Video struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	UserID       int64     `gorm:"column:user_id;not null;index"`
	Title        string    `gorm:"type:varchar(255);not null"`
	SourceURL    string    `gorm:"column:source_url;type:varchar(512)"`
	Status       string    `gorm:"type:varchar(20);not null;default:processing"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time `gorm:"type:datetime"`
	UpdatedAt    time.Time `gorm:"type:datetime"`
}

func (Video) TableName() string {
	return "videos"
}

func (m *Video) ToDomain() domain.Video {
	return domain.Video{
		ID:           m.ID,
		UserID:       m.UserID,
		Title:        m.Title,
		SourceURL:    m.SourceURL,
		Status:       domain.VideoStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func NewVideoFromDomain(v *domain.Video) *Video {
	return &Video{
		ID:           v.ID,
		UserID:       v.UserID,
		Title:        v.Title,
		SourceURL:    v.SourceURL,
		Status:       string(v.Status),
		ErrorMessage: v.ErrorMessage,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

type VideoStatusLog struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	VideoID      int64     `gorm:"column:video_id;not null;index"`
	Status       string    `gorm:"type:varchar(20);not null"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time `gorm:"precision:6"`
}

func (VideoStatusLog) TableName() string {
	return "video_status_logs"
}

func (m *VideoStatusLog) ToDomain() domain.VideoStatusLog {
	return domain.VideoStatusLog{
		ID:           m.ID,
		VideoID:      m.VideoID,
		Status:       domain.VideoStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
}
