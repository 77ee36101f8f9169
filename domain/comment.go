package domain

import (
	"context"
	"time"
)

// Comment domain model
type Comment struct {
	ID        int64     `json:"id"`
	VideoID   int64     `json:"video_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	ParentID  int64     `json:"parent_id"`
	RootID    int64     `json:"root_id"`
	Likes     int64     `json:"likes"`
	CreatedAt time.Time `json:"created_at"`

	// Replies 子评论列表
	Replies []*Comment `json:"replies,omitempty"`
}

// CommentUsecase 业务逻辑接口
type CommentUsecase interface {
	Create(ctx context.Context, c *Comment) error
	Delete(ctx context.Context, videoID int64, userID int64) error
	FetchByVideo(ctx context.Context, videoID int64, cursor string, limit int64) ([]*Comment, string, error)

	// Like and Unlike are idempotent: repeating them converges without error.
	Like(ctx context.Context, userID, commentID int64) (LikeResult, error)
	Unlike(ctx context.Context, userID, commentID int64) (LikeResult, error)
	// ToggleLike flips the caller's like state.
	ToggleLike(ctx context.Context, userID, commentID int64) (LikeResult, error)

	// ReconcileLikes rewrites each counter from the like records.
	ReconcileLikes(ctx context.Context, commentIDs []int64) (int, error)
}

// CommentRepository 数据存取接口
type CommentRepository interface {
	Store(ctx context.Context, c *Comment) error
	Delete(ctx context.Context, videoID int64, userID int64) error
	GetByID(ctx context.Context, id int64) (*Comment, error)
	// FetchRoots 获取一级评论
	FetchRoots(ctx context.Context, videoID int64, cursor string, limit int64) ([]*Comment, error)
	// FetchReplies 获取指定根评论ID列表的所有子回复
	FetchReplies(ctx context.Context, rootIDs []int64) ([]*Comment, error)

	// IncrLikes runs likes = likes + 1. Returns ErrNotFound when the comment is gone.
	IncrLikes(ctx context.Context, id int64) error
	// DecrLikes runs likes = likes - 1 guarded by likes > 0 and reports whether a row changed.
	DecrLikes(ctx context.Context, id int64) (bool, error)
	// SetLikes overwrites the counter; only the reconcile job calls it.
	SetLikes(ctx context.Context, id int64, likes int64) error
}
