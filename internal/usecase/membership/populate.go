package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guyuepp/videohub/domain"
	"github.com/sirupsen/logrus"
)

var errClaimDenied = errors.New("population claim denied")

// Populate scans the instance's source into the next filter generation and
// flips it READY. Concurrent calls in this process share one run; other
// replicas are kept out by the lease on the CacheState row.
func (s *service) Populate(ctx context.Context, name string, rebuild bool) (domain.PopulateStats, error) {
	in, err := s.instance(name)
	if err != nil {
		return domain.PopulateStats{Instance: name}, err
	}
	v, err, shared := s.populateGroup.Do(name, func() (any, error) {
		return s.populate(ctx, in, rebuild)
	})
	if shared {
		logrus.WithField("instance", name).Debug("joined in-flight population")
	}
	stats, _ := v.(domain.PopulateStats)
	return stats, err
}

func (s *service) populate(ctx context.Context, in instance, rebuild bool) (domain.PopulateStats, error) {
	stats := domain.PopulateStats{Instance: in.Name}
	log := logrus.WithFields(logrus.Fields{"instance": in.Name, "owner": s.owner})
	init := domain.NewCacheState(in.Name, in.Capacity, in.ErrorRate)

	var result domain.ClaimResult
	claimed, err := s.states.Mutate(ctx, in.Name, init, func(cur domain.CacheState) (domain.CacheState, error) {
		next, res := cur.Claim(s.owner, s.now(), s.cfg.Lease, rebuild)
		result = res
		if res != domain.ClaimGranted {
			return cur, errClaimDenied
		}
		return next, nil
	})
	if errors.Is(err, errClaimDenied) {
		stats.Skipped = true
		switch result {
		case domain.ClaimHeld:
			log.Info("population already running elsewhere, skipping")
		case domain.ClaimReady:
			log.Debug("membership already ready")
		}
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("claim %s: %w", in.Name, err)
	}
	s.Invalidate(in.Name)

	target := in.params.Ref(in.Name, claimed.BuildingGeneration)
	stats.Generation = target.Generation
	log = log.WithField("generation", target.Generation)
	log.Info("membership population started")

	// cancellation is honoured between batches, never inside one
	batchCtx := context.WithoutCancel(ctx)
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			s.release(ctx, in)
			log.WithField("batches", stats.Batches).Info("membership population cancelled")
			return stats, err
		}

		keys, err := in.Source.FetchKeys(batchCtx, after, s.cfg.BatchSize)
		if err != nil {
			s.release(ctx, in)
			return stats, fmt.Errorf("scan %s after %q: %w", in.Name, after, err)
		}
		if len(keys) > 0 {
			if err := s.filter.BulkAdd(batchCtx, target, keys); err != nil {
				s.release(ctx, in)
				return stats, fmt.Errorf("seed %s: %w", in.Name, err)
			}
			after = keys[len(keys)-1]
			stats.Batches++
			stats.Keys += int64(len(keys))
			s.recorder.PopulationBatch(in.Name)

			if _, err := s.states.Mutate(batchCtx, in.Name, init, func(cur domain.CacheState) (domain.CacheState, error) {
				return cur.Extend(s.owner, s.now().Add(s.cfg.Lease))
			}); err != nil {
				if !errors.Is(err, domain.ErrLeaseLost) {
					s.release(ctx, in)
				}
				return stats, fmt.Errorf("extend lease on %s: %w", in.Name, err)
			}
		}
		if len(keys) < s.cfg.BatchSize {
			break
		}
	}

	done, err := s.states.Mutate(ctx, in.Name, init, func(cur domain.CacheState) (domain.CacheState, error) {
		next, err := cur.Complete(s.owner)
		if err != nil {
			return cur, err
		}
		next.Capacity = in.Capacity
		next.ErrorRate = in.ErrorRate
		return next, nil
	})
	s.Invalidate(in.Name)
	if err != nil {
		return stats, fmt.Errorf("mark %s ready: %w", in.Name, err)
	}

	if claimed.Generation > 0 && claimed.Generation != done.Generation {
		if old, err := activeRef(claimed); err == nil {
			if err := s.filter.Retire(ctx, old, s.cfg.RetireGrace); err != nil {
				log.WithError(err).Warn("failed to retire previous generation")
			}
		}
	}

	log.WithFields(logrus.Fields{"batches": stats.Batches, "keys": stats.Keys}).Info("membership ready")
	return stats, nil
}

// release hands the lease back so a retry can start over at once. Best effort:
// if it fails the lease simply expires.
func (s *service) release(ctx context.Context, in instance) {
	ctx = context.WithoutCancel(ctx)
	init := domain.NewCacheState(in.Name, in.Capacity, in.ErrorRate)
	_, err := s.states.Mutate(ctx, in.Name, init, func(cur domain.CacheState) (domain.CacheState, error) {
		return cur.Release(s.owner)
	})
	if err != nil {
		logrus.WithError(err).WithField("instance", in.Name).Warn("failed to release population lease")
	}
	s.Invalidate(in.Name)
}
