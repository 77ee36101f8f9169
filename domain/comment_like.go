package domain

import (
	"context"
	"time"
)

// CommentLike is a like record, unique per (UserID, CommentID).
type CommentLike struct {
	CommentID int64
	UserID    int64
	CreatedAt time.Time
}

// LikeResult is what every like operation reports to its caller.
type LikeResult struct {
	CommentID int64
	HasLiked  bool
	// Changed is false when the call converged on a state another request produced.
	Changed bool
}

type LikeRepository interface {
	// Insert returns a StoreConflict error if the pair exists.
	Insert(ctx context.Context, like CommentLike) error
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, like CommentLike) (bool, error)
	Exists(ctx context.Context, like CommentLike) (bool, error)
	CountByComment(ctx context.Context, commentID int64) (int64, error)
	// FetchRecentlyLiked returns comment ids liked since the given time.
	FetchRecentlyLiked(ctx context.Context, since time.Time, limit int) ([]int64, error)
}
