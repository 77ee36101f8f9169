package mysql_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository/mysql"
	"github.com/Guyuepp/videohub/internal/repository/mysql/mysqltest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewUserRepository(db)
	ctx := context.Background()

	for i := 3; i >= 1; i-- {
		require.NoError(t, repo.Insert(ctx, &domain.User{Name: "u", Email: fmt.Sprintf("u%d@example.com", i)}))
	}

	err := repo.Insert(ctx, &domain.User{Name: "dup", Email: "u2@example.com"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	ok, err := repo.ExistsByEmail(ctx, "u1@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ExistsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	page, err := repo.FetchEmails(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1@example.com", "u2@example.com"}, page)
	page, err = repo.FetchEmails(ctx, page[len(page)-1], 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u3@example.com"}, page)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransactionRollsBackOutboxWithBusinessRow(t *testing.T) {
	db := mysqltest.Open(t)
	tx := mysql.NewTransactor(db)
	users := mysql.NewUserRepository(db)
	outbox := mysql.NewOutboxRepository(db)
	ctx := context.Background()

	ev := &domain.OutboxEvent{ID: uuid.New(), AggregateType: "user", AggregateID: "1", EventType: domain.TopicUserRegistered, Payload: []byte(`{}`), Status: domain.OutboxPending}
	boom := errors.New("boom")
	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := users.Insert(ctx, &domain.User{Name: "a", Email: "a@example.com"}); err != nil {
			return err
		}
		if err := outbox.Insert(ctx, ev); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = outbox.GetByID(ctx, ev.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	ok, err := users.ExistsByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutboxInsertRequiresTransaction(t *testing.T) {
	db := mysqltest.Open(t)
	err := mysql.NewOutboxRepository(db).Insert(context.Background(), &domain.OutboxEvent{ID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNoTransaction)
}

func seedOutbox(t *testing.T, tx domain.Transactor, repo domain.OutboxRepository, n int, base time.Time) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		for i := 0; i < n; i++ {
			ev := &domain.OutboxEvent{
				ID:            uuid.New(),
				AggregateType: "video",
				AggregateID:   fmt.Sprint(i),
				EventType:     domain.TopicVideoUploaded,
				Payload:       []byte(`{"videoId":1}`),
				Status:        domain.OutboxPending,
				CreatedAt:     base.Add(time.Duration(i) * time.Second),
			}
			if err := repo.Insert(ctx, ev); err != nil {
				return err
			}
			ids[i] = ev.ID
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func TestOutboxClaimLeaseAndMarks(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewOutboxRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := seedOutbox(t, mysql.NewTransactor(db), repo, 3, now.Add(-time.Hour))

	claimed, err := repo.ClaimPending(ctx, "relay-a", 2, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, ids[0], claimed[0].ID, "oldest first")
	assert.Equal(t, ids[1], claimed[1].ID)

	// relay-b only sees the unleased row until the lease runs out
	other, err := repo.ClaimPending(ctx, "relay-b", 10, now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, ids[2], other[0].ID)

	assert.ErrorIs(t, repo.MarkPublished(ctx, claimed[0].ID, "relay-b", now), domain.ErrLeaseLost)
	require.NoError(t, repo.MarkPublished(ctx, claimed[0].ID, "relay-a", now))

	got, err := repo.GetByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
	assert.Empty(t, got.LockedBy)

	status, err := repo.MarkFailed(ctx, claimed[1], "relay-a", errors.New("nats: timeout"), 3)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, status)

	got, err = repo.GetByID(ctx, claimed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "nats: timeout", got.LastError)

	// released rows are claimable again at once
	again, err := repo.ClaimPending(ctx, "relay-b", 10, now.Add(2*time.Second), time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, ids[1], again[0].ID)

	// published rows never come back
	late, err := repo.ClaimPending(ctx, "relay-c", 10, now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	for _, ev := range late {
		assert.NotEqual(t, ids[0], ev.ID)
	}
}

func TestOutboxFailsAtMaxAttemptsAndRequeues(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewOutboxRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := seedOutbox(t, mysql.NewTransactor(db), repo, 1, now.Add(-time.Minute))

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := repo.ClaimPending(ctx, "relay", 10, now, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)
		status, err := repo.MarkFailed(ctx, claimed[0], "relay", errors.New("broker down"), 3)
		require.NoError(t, err)
		if attempt < 3 {
			assert.Equal(t, domain.OutboxPending, status)
		} else {
			assert.Equal(t, domain.OutboxFailed, status)
		}
	}

	claimed, err := repo.ClaimPending(ctx, "relay", 10, now, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	n, err := repo.RequeueFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, got.Status)
	assert.Zero(t, got.AttemptCount)
}

func TestOutboxReleaseDoesNotChargeAttempt(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewOutboxRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	seedOutbox(t, mysql.NewTransactor(db), repo, 1, now.Add(-time.Minute))

	claimed, err := repo.ClaimPending(ctx, "relay", 1, now, time.Hour)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.Release(ctx, claimed[0].ID, "relay"))

	got, err := repo.GetByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, got.Status)
	assert.Zero(t, got.AttemptCount)
	assert.Empty(t, got.LockedBy)
}

func TestLikeRepositoryUniquePair(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewLikeRepository(db)
	ctx := context.Background()
	like := domain.CommentLike{CommentID: 10, UserID: 1}

	require.NoError(t, repo.Insert(ctx, like))
	err := repo.Insert(ctx, like)
	assert.True(t, domain.IsConflict(err))
	require.NoError(t, repo.Insert(ctx, domain.CommentLike{CommentID: 10, UserID: 2}))

	n, err := repo.CountByComment(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	removed, err := repo.Delete(ctx, like)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Delete(ctx, like)
	require.NoError(t, err)
	assert.False(t, removed)

	ok, err := repo.Exists(ctx, like)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommentLikeCounter(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewCommentRepository(db)
	ctx := context.Background()

	c := &domain.Comment{VideoID: 1, UserID: 1, Content: "first"}
	require.NoError(t, repo.Store(ctx, c))

	assert.ErrorIs(t, repo.IncrLikes(ctx, c.ID+100), domain.ErrNotFound)
	require.NoError(t, repo.IncrLikes(ctx, c.ID))

	changed, err := repo.DecrLikes(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.DecrLikes(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, changed, "counter never goes below zero")

	require.NoError(t, repo.SetLikes(ctx, c.ID, 42))
	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Likes)
}

func TestCacheStateMutate(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewCacheStateRepository(db)
	ctx := context.Background()
	init := domain.NewCacheState("user.emails", 1000, 0.01)

	_, err := repo.Get(ctx, "user.emails")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	now := time.Date(2026, 1, 1, 0, 0, 0, 123456000, time.UTC)
	st, err := repo.Mutate(ctx, "user.emails", init, func(cur domain.CacheState) (domain.CacheState, error) {
		assert.Equal(t, domain.CacheNotInitialized, cur.Status)
		next, res := cur.Claim("a", now, time.Minute, false)
		assert.Equal(t, domain.ClaimGranted, res)
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CachePopulating, st.Status)
	assert.Equal(t, int64(1), st.BuildingGeneration)

	// the lease deadline keeps its microseconds
	claimed, err := repo.Get(ctx, "user.emails")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Minute), claimed.ClaimedUntil, time.Microsecond)
	assert.Equal(t, "a", claimed.ClaimedBy)

	st, err = repo.Mutate(ctx, "user.emails", init, func(cur domain.CacheState) (domain.CacheState, error) {
		return cur.Complete("a")
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, st.Status)

	got, err := repo.Get(ctx, "user.emails")
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, got.Status)
	assert.Equal(t, int64(1), got.Generation)
	assert.Empty(t, got.ClaimedBy)

	_, err = repo.Mutate(ctx, "user.emails", init, func(cur domain.CacheState) (domain.CacheState, error) {
		cur.Status = domain.CachePopulating
		return cur, nil
	})
	assert.ErrorIs(t, err, domain.ErrStateRegression)

	got, err = repo.Get(ctx, "user.emails")
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, got.Status)
}

func TestProcessedMessageLedger(t *testing.T) {
	db := mysqltest.Open(t)
	repo := mysql.NewProcessedMessageRepository(db)
	ctx := context.Background()
	m := domain.ProcessedMessage{MessageID: uuid.NewString(), ConsumerGroup: "video-pipeline", Topic: domain.TopicVideoUploaded, ProcessedAt: time.Now()}

	require.NoError(t, repo.Insert(ctx, m))
	assert.True(t, domain.IsConflict(repo.Insert(ctx, m)))

	// another group applies the same message independently
	other := m
	other.ConsumerGroup = "video-status-log"
	require.NoError(t, repo.Insert(ctx, other))

	require.NoError(t, repo.Delete(ctx, m.MessageID, m.ConsumerGroup))
	ok, err := repo.Exists(ctx, m.MessageID, m.ConsumerGroup)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVideoStatusLog(t *testing.T) {
	db := mysqltest.Open(t)
	videos := mysql.NewVideoRepository(db)
	logs := mysql.NewVideoStatusLogRepository(db)
	ctx := context.Background()

	v := &domain.Video{UserID: 1, Title: "intro", Status: domain.VideoProcessing}
	require.NoError(t, videos.Store(ctx, v))
	assert.ErrorIs(t, videos.UpdateStatus(ctx, v.ID+1, domain.VideoFailed, "x"), domain.ErrNotFound)

	_, err := logs.Latest(ctx, v.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, logs.Append(ctx, &domain.VideoStatusLog{VideoID: v.ID, Status: domain.VideoProcessing}))
	require.NoError(t, logs.Append(ctx, &domain.VideoStatusLog{VideoID: v.ID, Status: domain.VideoTranscoding}))

	latest, err := logs.Latest(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTranscoding, latest.Status)

	ids, err := videos.FetchIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{v.ID}, ids)
}
