package mysql

import (
	"context"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"gorm.io/gorm"
)

type likeRepository struct {
	DB *gorm.DB
}

var _ domain.LikeRepository = (*likeRepository)(nil)

func NewLikeRepository(db *gorm.DB) *likeRepository {
	return &likeRepository{DB: db}
}

// Insert relies on uk_like_user_comment; a concurrent duplicate surfaces as StoreConflict.
func (m *likeRepository) Insert(ctx context.Context, like domain.CommentLike) error {
	row := model.NewCommentLikeFromDomain(like)
	if err := conn(ctx, m.DB).Create(row).Error; err != nil {
		return translate("like.insert", err)
	}
	return nil
}

func (m *likeRepository) Delete(ctx context.Context, like domain.CommentLike) (bool, error) {
	result := conn(ctx, m.DB).
		Where("user_id = ? AND comment_id = ?", like.UserID, like.CommentID).
		Delete(&model.CommentLike{})
	if result.Error != nil {
		return false, translate("like.delete", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (m *likeRepository) Exists(ctx context.Context, like domain.CommentLike) (bool, error) {
	var n int64
	err := conn(ctx, m.DB).Model(&model.CommentLike{}).
		Where("user_id = ? AND comment_id = ?", like.UserID, like.CommentID).
		Count(&n).Error
	if err != nil {
		return false, translate("like.exists", err)
	}
	return n > 0, nil
}

func (m *likeRepository) CountByComment(ctx context.Context, commentID int64) (int64, error) {
	var n int64
	err := conn(ctx, m.DB).Model(&model.CommentLike{}).Where("comment_id = ?", commentID).Count(&n).Error
	return n, translate("like.count", err)
}

func (m *likeRepository) FetchRecentlyLiked(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := conn(ctx, m.DB).Model(&model.CommentLike{}).
		Distinct("comment_id").
		Where("created_at >= ?", since).
		Limit(limit).
		Pluck("comment_id", &ids).Error
	return ids, translate("like.fetch_recent", err)
}
