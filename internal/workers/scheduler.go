package workers

import (
	"context"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/sirupsen/logrus"
)

const reconcileBatch = 500

// ReconcileScheduler periodically enqueues likes.reconcile for comments that
// received likes since the previous tick.
type ReconcileScheduler struct {
	Likes    domain.LikeRepository
	Enqueuer domain.JobEnqueuer
	Interval time.Duration

	now func() time.Time
}

func NewReconcileScheduler(likes domain.LikeRepository, enq domain.JobEnqueuer, interval time.Duration) *ReconcileScheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ReconcileScheduler{
		Likes:    likes,
		Enqueuer: enq,
		Interval: interval,
		now:      time.Now,
	}
}

// Serve implements suture.Service.
func (s *ReconcileScheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	since := s.now().Add(-s.Interval)
	for {
		select {
		case <-ticker.C:
			next := s.now()
			if err := s.Tick(ctx, since); err != nil {
				logrus.WithError(err).Warn("like reconcile scheduling failed, will retry next tick")
				continue
			}
			since = next
		case <-ctx.Done():
			logrus.Info("shutting down like reconcile scheduler")
			return ctx.Err()
		}
	}
}

func (s *ReconcileScheduler) String() string {
	return "like-reconcile-scheduler"
}

// Tick enqueues one job per batch of recently liked comments.
func (s *ReconcileScheduler) Tick(ctx context.Context, since time.Time) error {
	ids, err := s.Likes.FetchRecentlyLiked(ctx, since, reconcileBatch)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	id, err := s.Enqueuer.Enqueue(ctx, domain.ReconcileLikesJob{CommentIDs: ids})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"job_id": id, "comments": len(ids)}).Info("like reconcile enqueued")
	return nil
}
