package comment

import (
	"context"
	"errors"
	"testing"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/bloom"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/Guyuepp/videohub/internal/outbox"
	"github.com/Guyuepp/videohub/internal/repository/mysql"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"github.com/Guyuepp/videohub/internal/repository/mysql/mysqltest"
	"github.com/Guyuepp/videohub/internal/usecase/membership"
	"github.com/Guyuepp/videohub/internal/usecase/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	svc      *service
	gate     domain.MembershipUsecase
	videos   *video.Service
	comments domain.CommentRepository
	videoID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := mysqltest.Open(t)
	videos := mysql.NewVideoRepository(db)
	comments := mysql.NewCommentRepository(db)

	gate, err := membership.NewService(mysql.NewCacheStateRepository(db), bloom.NewMemory(), membership.Config{}, nil,
		membership.Instance{Name: domain.MembershipVideoIDs, Capacity: 1000, ErrorRate: 0.01, Source: membership.VideoIDSource(videos)})
	require.NoError(t, err)

	v := &domain.Video{UserID: 1, Title: "intro", SourceURL: "s3://videos/intro.mp4", Status: domain.VideoProcessing}
	require.NoError(t, videos.Store(context.Background(), v))

	svc := NewService(mysql.NewTransactor(db), comments, mysql.NewLikeRepository(db), videos, gate,
		outbox.NewWriter(mysql.NewOutboxRepository(db)), metrics.NewRecorder(nil))
	videoSvc := video.NewService(mysql.NewTransactor(db), videos, mysql.NewVideoStatusLogRepository(db), gate,
		outbox.NewWriter(mysql.NewOutboxRepository(db)))
	return &fixture{db: db, svc: svc, gate: gate, videos: videoSvc, comments: comments, videoID: v.ID}
}

func (f *fixture) comment(t *testing.T) *domain.Comment {
	t.Helper()
	c := &domain.Comment{VideoID: f.videoID, UserID: 1, Content: "first"}
	require.NoError(t, f.svc.Create(context.Background(), c))
	return c
}

func (f *fixture) likes(t *testing.T, id int64) int64 {
	t.Helper()
	c, err := f.comments.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c.Likes
}

func (f *fixture) likeEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.OutboxEvent{}).Where("event_type = ?", domain.TopicCommentLikeChanged).Count(&n).Error)
	return n
}

func TestCreateChecksVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Create(ctx, &domain.Comment{VideoID: f.videoID + 100, UserID: 1, Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.svc.Create(ctx, &domain.Comment{VideoID: f.videoID, UserID: 1, Content: "   "})
	assert.ErrorIs(t, err, domain.ErrBadParamInput)

	root := f.comment(t)
	reply := &domain.Comment{VideoID: f.videoID, UserID: 2, Content: "reply", ParentID: root.ID}
	require.NoError(t, f.svc.Create(ctx, reply))
	nested := &domain.Comment{VideoID: f.videoID, UserID: 3, Content: "nested", ParentID: reply.ID}
	require.NoError(t, f.svc.Create(ctx, nested))
	assert.Equal(t, root.ID, nested.RootID)

	list, cursor, err := f.svc.FetchByVideo(ctx, f.videoID, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Replies, 2)
	assert.NotEmpty(t, cursor)
}

func TestCommentOnFreshVideoWhileFilterReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.Populate(ctx, domain.MembershipVideoIDs, false)
	require.NoError(t, err)

	// warm the cached READY state before the upload
	_, _, err = f.svc.FetchByVideo(ctx, f.videoID, "", 10)
	require.NoError(t, err)

	v := &domain.Video{UserID: 2, Title: "fresh", SourceURL: "s3://videos/fresh.mp4"}
	require.NoError(t, f.videos.Create(ctx, v))

	c := &domain.Comment{VideoID: v.ID, UserID: 3, Content: "first!"}
	require.NoError(t, f.svc.Create(ctx, c))

	err = f.svc.Create(ctx, &domain.Comment{VideoID: v.ID + 1000, UserID: 3, Content: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLikeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.comment(t)
	ctx := context.Background()

	res, err := f.svc.Like(ctx, 7, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LikeResult{CommentID: c.ID, HasLiked: true, Changed: true}, res)

	res, err = f.svc.Like(ctx, 7, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LikeResult{CommentID: c.ID, HasLiked: true, Changed: false}, res)
	assert.Equal(t, int64(1), f.likes(t, c.ID))

	res, err = f.svc.Unlike(ctx, 7, c.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	res, err = f.svc.Unlike(ctx, 7, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LikeResult{CommentID: c.ID}, res)

	assert.Equal(t, int64(0), f.likes(t, c.ID))
	assert.Equal(t, int64(2), f.likeEvents(t), "only state changes are announced")
}

func TestLikeMissingCommentRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Like(ctx, 7, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var n int64
	require.NoError(t, f.db.Model(&model.CommentLike{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Zero(t, f.likeEvents(t))
}

func TestParallelLikesFromOneUserCountOnce(t *testing.T) {
	f := newFixture(t)
	c := f.comment(t)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			res, err := f.svc.Like(context.Background(), 42, c.ID)
			if err == nil && !res.HasLiked {
				t.Errorf("like reported hasLiked=false")
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), f.likes(t, c.ID))
	assert.Equal(t, int64(1), f.likeEvents(t))
}

func TestParallelLikesFromManyUsers(t *testing.T) {
	f := newFixture(t)
	c := f.comment(t)

	var g errgroup.Group
	for uid := int64(1); uid <= 25; uid++ {
		g.Go(func() error {
			_, err := f.svc.Like(context.Background(), uid, c.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(25), f.likes(t, c.ID))
}

func TestToggleLikeConverges(t *testing.T) {
	f := newFixture(t)
	c := f.comment(t)
	ctx := context.Background()

	res, err := f.svc.ToggleLike(ctx, 5, c.ID)
	require.NoError(t, err)
	assert.True(t, res.HasLiked)
	res, err = f.svc.ToggleLike(ctx, 5, c.ID)
	require.NoError(t, err)
	assert.False(t, res.HasLiked)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.svc.ToggleLike(context.Background(), 5, c.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	// an even number of toggles from the unliked state lands back on unliked
	assert.Equal(t, int64(0), f.likes(t, c.ID))
	var n int64
	require.NoError(t, f.db.Model(&model.CommentLike{}).Where("comment_id = ?", c.ID).Count(&n).Error)
	assert.Equal(t, f.likes(t, c.ID), n)
}

func TestReconcileLikesRestoresCount(t *testing.T) {
	f := newFixture(t)
	c := f.comment(t)
	ctx := context.Background()

	for uid := int64(1); uid <= 3; uid++ {
		_, err := f.svc.Like(ctx, uid, c.ID)
		require.NoError(t, err)
	}
	require.NoError(t, f.comments.SetLikes(ctx, c.ID, 11))

	fixed, err := f.svc.ReconcileLikes(ctx, []int64{c.ID, 424242})
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	assert.Equal(t, int64(3), f.likes(t, c.ID))

	fixed, err = f.svc.ReconcileLikes(ctx, []int64{c.ID})
	require.NoError(t, err)
	assert.Zero(t, fixed)
}

// deadlockingTx rolls back the first n transactions the way InnoDB rolls back
// a deadlock victim: the work ran, then the whole transaction is undone.
type deadlockingTx struct {
	domain.Transactor
	n     int
	calls int
}

func (d *deadlockingTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	d.calls++
	return d.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		if d.n > 0 {
			d.n--
			return &domain.StoreError{Kind: domain.StoreTransient, Op: "comment_like.insert", Err: errors.New("Error 1213 (40001): Deadlock found when trying to get lock")}
		}
		return nil
	})
}

func TestLikeRetriesOnceAfterDeadlock(t *testing.T) {
	f := newFixture(t)
	c := f.comment(t)
	ctx := context.Background()

	tx := &deadlockingTx{Transactor: f.svc.tx, n: 1}
	f.svc.tx = tx
	res, err := f.svc.ToggleLike(ctx, 4, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LikeResult{CommentID: c.ID, HasLiked: true, Changed: true}, res)
	assert.Equal(t, 2, tx.calls)
	assert.Equal(t, int64(1), f.likes(t, c.ID))
	assert.Equal(t, int64(1), f.likeEvents(t))

	// a second failure is surfaced, nothing is left behind
	tx.n, tx.calls = 2, 0
	_, err = f.svc.Like(ctx, 5, c.ID)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 2, tx.calls)
	assert.Equal(t, int64(1), f.likes(t, c.ID))
	assert.Equal(t, int64(1), f.likeEvents(t))
}
