package outbox

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 100
	DefaultMaxAttempts  = 5
	DefaultLease        = time.Minute
)

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// Lease must outlast publishing one full batch.
	Lease time.Duration
}

// RelayStats summarises one poll.
type RelayStats struct {
	Claimed   int
	Published int
	Failed    int
	Dead      int
	Released  int
}

// Relay drains PENDING outbox rows to the broker. It runs as a supervised
// service; several replicas may run it at once.
type Relay struct {
	repo     domain.OutboxRepository
	pub      Publisher
	cfg      RelayConfig
	recorder *metrics.Recorder
	owner    string
	now      func() time.Time
}

func NewRelay(repo domain.OutboxRepository, pub Publisher, cfg RelayConfig, recorder *metrics.Recorder) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	host, _ := os.Hostname()
	return &Relay{
		repo:     repo,
		pub:      pub,
		cfg:      cfg,
		recorder: recorder,
		owner:    "relay/" + host + "/" + uuid.NewString()[:8],
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Serve implements suture.Service.
func (r *Relay) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	logrus.WithField("owner", r.owner).Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Relay) String() string {
	return "outbox-relay"
}

// drain keeps polling while batches come back full.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		stats, err := r.RunOnce(ctx)
		if err != nil {
			logrus.WithError(err).Error("outbox relay poll failed")
			return
		}
		if stats.Claimed < r.cfg.BatchSize || stats.Released > 0 {
			return
		}
	}
}

// RunOnce claims one batch and publishes it in order.
func (r *Relay) RunOnce(ctx context.Context) (RelayStats, error) {
	var stats RelayStats
	events, err := r.repo.ClaimPending(ctx, r.owner, r.cfg.BatchSize, r.now(), r.cfg.Lease)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(events)

	for i, ev := range events {
		log := logrus.WithFields(logrus.Fields{"event_id": ev.ID, "topic": ev.EventType})

		err := r.pub.Publish(ctx, ev)
		if err == nil {
			if err := r.repo.MarkPublished(ctx, ev.ID, r.owner, r.now()); err != nil {
				// the broker has it; the lease runs out and the redelivery is deduplicated downstream
				log.WithError(err).Warn("published but could not mark outbox event")
				continue
			}
			stats.Published++
			r.recorder.OutboxEvent(ev.EventType, "published")
			continue
		}

		if errors.Is(err, ErrBreakerOpen) || ctx.Err() != nil {
			stats.Released += r.release(ctx, events[i:])
			log.WithError(err).Warn("broker unavailable, released remaining outbox events")
			return stats, nil
		}

		status, markErr := r.repo.MarkFailed(ctx, ev, r.owner, err, r.cfg.MaxAttempts)
		if markErr != nil {
			log.WithError(markErr).Warn("could not record outbox publish failure")
			continue
		}
		if status == domain.OutboxFailed {
			stats.Dead++
			r.recorder.OutboxEvent(ev.EventType, "failed")
			log.WithError(err).WithField("attempts", ev.AttemptCount+1).Error("outbox event exhausted its attempts")
			continue
		}
		stats.Failed++
		r.recorder.OutboxEvent(ev.EventType, "retry")
		log.WithError(err).Warn("outbox publish failed, will retry")
	}
	return stats, nil
}

func (r *Relay) release(ctx context.Context, events []domain.OutboxEvent) int {
	ctx = context.WithoutCancel(ctx)
	n := 0
	for _, ev := range events {
		if err := r.repo.Release(ctx, ev.ID, r.owner); err != nil {
			logrus.WithError(err).WithField("event_id", ev.ID).Warn("failed to release outbox lease")
			continue
		}
		n++
	}
	return n
}

// RequeueFailed moves FAILED events back to PENDING with a fresh attempt budget.
func (r *Relay) RequeueFailed(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = r.cfg.BatchSize
	}
	n, err := r.repo.RequeueFailed(ctx, limit)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logrus.WithField("count", n).Info("requeued failed outbox events")
	}
	return n, nil
}
