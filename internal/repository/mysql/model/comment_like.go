package model

import (
	"time"

	"github.com/Guyuepp/videohub/domain"
)

type CommentLike struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;not null;uniqueIndex:uk_like_user_comment"`
	CommentID int64     `gorm:"column:comment_id;not null;uniqueIndex:uk_like_user_comment;index:idx_like_comment"`
	CreatedAt time.Time `gorm:"type:datetime;index:idx_like_created"`
}

func (CommentLike) TableName() string {
	return "comment_likes"
}

func NewCommentLikeFromDomain(l domain.CommentLike) *CommentLike {
	return &CommentLike{
		UserID:    l.UserID,
		CommentID: l.CommentID,
		CreatedAt: l.CreatedAt,
	}
}
