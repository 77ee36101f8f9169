package comment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/Guyuepp/videohub/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	actionLike   = "like"
	actionUnlike = "unlike"
)

type service struct {
	tx          domain.Transactor
	commentRepo domain.CommentRepository
	likeRepo    domain.LikeRepository
	videoRepo   domain.VideoRepository
	gate        domain.MembershipGate
	outbox      domain.OutboxWriter
	recorder    *metrics.Recorder
}

var _ domain.CommentUsecase = (*service)(nil)

func NewService(tx domain.Transactor, commentRepo domain.CommentRepository, likeRepo domain.LikeRepository, videoRepo domain.VideoRepository, gate domain.MembershipGate, outbox domain.OutboxWriter, recorder *metrics.Recorder) *service {
	return &service{
		tx:          tx,
		commentRepo: commentRepo,
		likeRepo:    likeRepo,
		videoRepo:   videoRepo,
		gate:        gate,
		outbox:      outbox,
		recorder:    recorder,
	}
}

// mustExist 先问过滤器, "可能存在" 时再查库确认
func (s *service) mustExist(ctx context.Context, videoID int64) error {
	ans, err := s.gate.Check(ctx, domain.MembershipVideoIDs, strconv.FormatInt(videoID, 10))
	if err != nil {
		return err
	}
	switch ans {
	case domain.Absent:
		logrus.Debugf("membership filter says video %d does not exist", videoID)
		return domain.ErrNotFound
	case domain.PossiblyPresent:
		ok, err := s.videoRepo.Exists(ctx, videoID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (s *service) Create(ctx context.Context, c *domain.Comment) error {
	c.Content = strings.TrimSpace(c.Content)
	if c.Content == "" || c.UserID <= 0 {
		return domain.ErrBadParamInput
	}
	if err := s.mustExist(ctx, c.VideoID); err != nil {
		return err
	}

	c.RootID = 0
	if c.ParentID != 0 {
		parent, err := s.commentRepo.GetByID(ctx, c.ParentID)
		if err != nil {
			return err
		}
		if parent.VideoID != c.VideoID {
			return domain.ErrBadParamInput
		}
		// 回复挂在一级评论下
		c.RootID = parent.ID
		if parent.RootID != 0 {
			c.RootID = parent.RootID
		}
	}
	c.Likes = 0
	return s.commentRepo.Store(ctx, c)
}

func (s *service) Delete(ctx context.Context, vid int64, uid int64) error {
	return s.commentRepo.Delete(ctx, vid, uid)
}

func (s *service) FetchByVideo(ctx context.Context, videoID int64, cursor string, limit int64) ([]*domain.Comment, string, error) {
	if err := s.mustExist(ctx, videoID); err != nil {
		return nil, "", err
	}
	res, err := s.commentRepo.FetchRoots(ctx, videoID, cursor, limit)
	if err != nil {
		return []*domain.Comment{}, "", err
	}
	if len(res) == 0 {
		return []*domain.Comment{}, "", nil
	}

	rootIDs := make([]int64, len(res))
	for i, comment := range res {
		rootIDs[i] = comment.ID
	}

	replies, err := s.commentRepo.FetchReplies(ctx, rootIDs)
	if err != nil {
		logrus.WithError(err).Warn("fetch comment replies failed, returning roots only")
		return res, repository.EncodeCursor(res[len(res)-1].CreatedAt), nil
	}

	replyMap := make(map[int64][]*domain.Comment)
	for _, r := range replies {
		replyMap[r.RootID] = append(replyMap[r.RootID], r)
	}

	for _, r := range res {
		if list, ok := replyMap[r.ID]; ok {
			r.Replies = list
		} else {
			r.Replies = []*domain.Comment{}
		}
	}

	return res, repository.EncodeCursor(res[len(res)-1].CreatedAt), nil
}

// Like inserts the like record and bumps the counter in one transaction. A
// duplicate record means another request already liked: no increment.
func (s *service) Like(ctx context.Context, userID, commentID int64) (domain.LikeResult, error) {
	var res domain.LikeResult
	err := s.likeTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.like(ctx, userID, commentID)
		return err
	})
	if err != nil {
		return domain.LikeResult{}, err
	}
	s.recorder.LikeOperation(actionLike, res.Changed)
	return res, nil
}

func (s *service) Unlike(ctx context.Context, userID, commentID int64) (domain.LikeResult, error) {
	var res domain.LikeResult
	err := s.likeTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.unlike(ctx, userID, commentID)
		return err
	})
	if err != nil {
		return domain.LikeResult{}, err
	}
	s.recorder.LikeOperation(actionUnlike, res.Changed)
	return res, nil
}

func (s *service) ToggleLike(ctx context.Context, userID, commentID int64) (domain.LikeResult, error) {
	var (
		res    domain.LikeResult
		action string
	)
	err := s.likeTx(ctx, func(ctx context.Context) error {
		liked, err := s.likeRepo.Exists(ctx, domain.CommentLike{CommentID: commentID, UserID: userID})
		if err != nil {
			return err
		}
		if liked {
			action = actionUnlike
			res, err = s.unlike(ctx, userID, commentID)
		} else {
			action = actionLike
			res, err = s.like(ctx, userID, commentID)
		}
		return err
	})
	if err != nil {
		return domain.LikeResult{}, err
	}
	s.recorder.LikeOperation(action, res.Changed)
	return res, nil
}

// likeTx runs fn in a transaction and runs it once more after a transient
// failure. Racing inserts on the same (user, comment) pair can deadlock on
// the unique index; MySQL rolls the victim back whole, so the rerun sees the
// winner's row and converges.
func (s *service) likeTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.tx.WithinTransaction(ctx, fn)
	if !domain.IsTransient(err) || ctx.Err() != nil {
		return err
	}
	logrus.WithError(err).Warn("like transaction hit a transient error, retrying once")
	return s.tx.WithinTransaction(ctx, fn)
}

func (s *service) like(ctx context.Context, userID, commentID int64) (domain.LikeResult, error) {
	if userID <= 0 || commentID <= 0 {
		return domain.LikeResult{}, domain.ErrBadParamInput
	}
	err := s.likeRepo.Insert(ctx, domain.CommentLike{CommentID: commentID, UserID: userID})
	if domain.IsConflict(err) {
		return domain.LikeResult{CommentID: commentID, HasLiked: true}, nil
	}
	if err != nil {
		return domain.LikeResult{}, err
	}
	if err := s.commentRepo.IncrLikes(ctx, commentID); err != nil {
		return domain.LikeResult{}, err
	}
	if err := s.likeChanged(ctx, userID, commentID, true); err != nil {
		return domain.LikeResult{}, err
	}
	return domain.LikeResult{CommentID: commentID, HasLiked: true, Changed: true}, nil
}

func (s *service) unlike(ctx context.Context, userID, commentID int64) (domain.LikeResult, error) {
	if userID <= 0 || commentID <= 0 {
		return domain.LikeResult{}, domain.ErrBadParamInput
	}
	removed, err := s.likeRepo.Delete(ctx, domain.CommentLike{CommentID: commentID, UserID: userID})
	if err != nil {
		return domain.LikeResult{}, err
	}
	if !removed {
		return domain.LikeResult{CommentID: commentID}, nil
	}
	decremented, err := s.commentRepo.DecrLikes(ctx, commentID)
	if err != nil {
		return domain.LikeResult{}, err
	}
	if !decremented {
		logrus.WithField("comment_id", commentID).Warn("like counter already at zero, left for reconcile")
	}
	if err := s.likeChanged(ctx, userID, commentID, false); err != nil {
		return domain.LikeResult{}, err
	}
	return domain.LikeResult{CommentID: commentID, Changed: true}, nil
}

func (s *service) likeChanged(ctx context.Context, userID, commentID int64, liked bool) error {
	_, err := s.outbox.Append(ctx, domain.OutboxDraft{
		AggregateType: "comment",
		AggregateID:   strconv.FormatInt(commentID, 10),
		EventType:     domain.TopicCommentLikeChanged,
		Payload:       domain.CommentLikeChangedEvent{CommentID: commentID, UserID: userID, Liked: liked},
	})
	return err
}

// ReconcileLikes recounts like records and overwrites each counter. Comments
// deleted since the job was queued are skipped.
func (s *service) ReconcileLikes(ctx context.Context, commentIDs []int64) (int, error) {
	fixed := 0
	for _, id := range commentIDs {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		c, err := s.commentRepo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fixed, fmt.Errorf("reconcile comment %d: %w", id, err)
		}
		count, err := s.likeRepo.CountByComment(ctx, id)
		if err != nil {
			return fixed, fmt.Errorf("reconcile comment %d: %w", id, err)
		}
		if count == c.Likes {
			continue
		}
		if err := s.commentRepo.SetLikes(ctx, id, count); err != nil {
			return fixed, fmt.Errorf("reconcile comment %d: %w", id, err)
		}
		logrus.WithFields(logrus.Fields{
			"comment_id": id,
			"was":        c.Likes,
			"now":        count,
		}).Info("like counter reconciled")
		fixed++
	}
	return fixed, nil
}
