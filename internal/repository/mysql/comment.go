package mysql

import (
	"context"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"gorm.io/gorm"
)

type commentRepository struct {
	DB *gorm.DB
}

func NewCommentRepository(db *gorm.DB) *commentRepository {
	return &commentRepository{
		DB: db,
	}
}

func (c *commentRepository) Delete(ctx context.Context, vid int64, uid int64) error {
	result := conn(ctx, c.DB).Where("video_id = ? AND user_id = ?", vid, uid).Delete(&model.Comment{})
	if result.Error != nil {
		return translate("comment.delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrForbidden
	}
	return nil
}

func (c *commentRepository) FetchReplies(ctx context.Context, rootIDs []int64) ([]*domain.Comment, error) {
	var comments []model.Comment
	err := conn(ctx, c.DB).
		Where("root_id IN ?", rootIDs).
		Order("created_at").
		Find(&comments).Error
	if err != nil {
		return nil, translate("comment.fetch_replies", err)
	}

	res := make([]*domain.Comment, 0, len(comments))
	for _, comment := range comments {
		domainComment := comment.ToDomain()
		res = append(res, &domainComment)
	}
	return res, nil
}

// FetchRoots pages newest first; the cursor is the created_at of the last item seen.
func (c *commentRepository) FetchRoots(ctx context.Context, videoID int64, cursor string, limit int64) ([]*domain.Comment, error) {
	var comments []model.Comment
	repository.PageVerify(&limit)

	q := conn(ctx, c.DB).Where("video_id = ? AND parent_id = 0", videoID)
	if cursor != "" {
		decodedCursor, err := repository.DecodeCursor(cursor)
		if err != nil {
			return nil, domain.ErrBadParamInput
		}
		q = q.Where("created_at < ?", decodedCursor)
	}
	err := q.Limit(int(limit)).
		Order("created_at DESC").
		Find(&comments).Error
	if err != nil {
		return nil, translate("comment.fetch_roots", err)
	}

	res := make([]*domain.Comment, 0, len(comments))
	for _, comment := range comments {
		domainComment := comment.ToDomain()
		res = append(res, &domainComment)
	}
	return res, nil
}

func (c *commentRepository) GetByID(ctx context.Context, id int64) (*domain.Comment, error) {
	var comment model.Comment
	err := conn(ctx, c.DB).First(&comment, "id = ?", id).Error
	if err != nil {
		return nil, translate("comment.get", err)
	}
	domainComment := comment.ToDomain()
	return &domainComment, nil
}

func (c *commentRepository) Store(ctx context.Context, comment *domain.Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	row := model.NewCommentFromDomain(comment)
	if err := conn(ctx, c.DB).Create(row).Error; err != nil {
		return translate("comment.store", err)
	}
	comment.ID = row.ID
	return nil
}

func (c *commentRepository) IncrLikes(ctx context.Context, id int64) error {
	result := conn(ctx, c.DB).Model(&model.Comment{}).Where("id = ?", id).Update("likes", gorm.Expr("likes + ?", 1))
	if result.Error != nil {
		return translate("comment.incr_likes", result.Error)
	}

	if result.RowsAffected == 0 {
		return notFound("comment.incr_likes")
	}
	return nil
}

// DecrLikes never takes the counter below zero.
func (c *commentRepository) DecrLikes(ctx context.Context, id int64) (bool, error) {
	result := conn(ctx, c.DB).Model(&model.Comment{}).
		Where("id = ? AND likes > 0", id).
		Update("likes", gorm.Expr("likes - ?", 1))
	if result.Error != nil {
		return false, translate("comment.decr_likes", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (c *commentRepository) SetLikes(ctx context.Context, id int64, likes int64) error {
	result := conn(ctx, c.DB).Model(&model.Comment{}).Where("id = ?", id).UpdateColumn("likes", likes)
	if result.Error != nil {
		return translate("comment.set_likes", result.Error)
	}
	return nil
}

var _ domain.CommentRepository = (*commentRepository)(nil)
