package mysql

import (
	"context"
	"errors"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"gorm.io/gorm"
)

type videoRepository struct {
	DB *gorm.DB
}

var _ domain.VideoRepository = (*videoRepository)(nil)

func NewVideoRepository(db *gorm.DB) *videoRepository {
	return &videoRepository{DB: db}
}

func (m *videoRepository) Store(ctx context.Context, v *domain.Video) error {
	videoModel := model.NewVideoFromDomain(v)
	if err := conn(ctx, m.DB).Create(videoModel).Error; err != nil {
		return translate("video.store", err)
	}
	v.ID = videoModel.ID
	v.CreatedAt = videoModel.CreatedAt
	v.UpdatedAt = videoModel.UpdatedAt
	return nil
}

func (m *videoRepository) GetByID(ctx context.Context, id int64) (domain.Video, error) {
	var v model.Video
	if err := conn(ctx, m.DB).First(&v, "id = ?", id).Error; err != nil {
		return domain.Video{}, translate("video.get", err)
	}
	return v.ToDomain(), nil
}

func (m *videoRepository) UpdateStatus(ctx context.Context, id int64, status domain.VideoStatus, errMsg string) error {
	result := conn(ctx, m.DB).Model(&model.Video{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "error_message": errMsg})
	if result.Error != nil {
		return translate("video.update_status", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("video.update_status")
	}
	return nil
}

func (m *videoRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var v model.Video
	err := conn(ctx, m.DB).Select("id").First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, translate("video.exists", err)
	}
	return true, nil
}

func (m *videoRepository) FetchIDs(ctx context.Context, cursor int64, limit int) (ids []int64, err error) {
	err = conn(ctx, m.DB).
		Model(&model.Video{}).
		Where("id > ?", cursor).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, translate("video.fetch_ids", err)
}

type videoStatusLogRepository struct {
	DB *gorm.DB
}

var _ domain.VideoStatusLogRepository = (*videoStatusLogRepository)(nil)

func NewVideoStatusLogRepository(db *gorm.DB) *videoStatusLogRepository {
	return &videoStatusLogRepository{DB: db}
}

func (m *videoStatusLogRepository) Latest(ctx context.Context, videoID int64) (domain.VideoStatusLog, error) {
	var l model.VideoStatusLog
	err := conn(ctx, m.DB).Where("video_id = ?", videoID).Order("id DESC").First(&l).Error
	if err != nil {
		return domain.VideoStatusLog{}, translate("video_status_log.latest", err)
	}
	return l.ToDomain(), nil
}

func (m *videoStatusLogRepository) Append(ctx context.Context, l *domain.VideoStatusLog) error {
	row := &model.VideoStatusLog{
		VideoID:      l.VideoID,
		Status:       string(l.Status),
		ErrorMessage: l.ErrorMessage,
		CreatedAt:    l.CreatedAt,
	}
	if err := conn(ctx, m.DB).Create(row).Error; err != nil {
		return translate("video_status_log.append", err)
	}
	l.ID = row.ID
	l.CreatedAt = row.CreatedAt
	return nil
}

func (m *videoStatusLogRepository) FetchByVideo(ctx context.Context, videoID int64) ([]domain.VideoStatusLog, error) {
	var rows []model.VideoStatusLog
	if err := conn(ctx, m.DB).Where("video_id = ?", videoID).Order("id").Find(&rows).Error; err != nil {
		return nil, translate("video_status_log.fetch", err)
	}
	res := make([]domain.VideoStatusLog, len(rows))
	for i := range rows {
		res[i] = rows[i].ToDomain()
	}
	return res, nil
}
