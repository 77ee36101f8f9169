package membership

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/bloom"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/Guyuepp/videohub/internal/repository/cache"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBatchSize   = 500
	DefaultStateTTL    = 5 * time.Second
	DefaultLease       = 2 * time.Minute
	DefaultRetireGrace = 10 * time.Minute
)

// Instance is one named membership set and where its truth lives.
type Instance struct {
	Name      string
	Capacity  uint64
	ErrorRate float64
	Source    domain.MembershipSource
}

type Config struct {
	BatchSize   int
	StateTTL    time.Duration
	Lease       time.Duration
	RetireGrace time.Duration
}

type instance struct {
	Instance
	params bloom.Params
}

type service struct {
	states   domain.CacheStateRepository
	filter   domain.BloomRepository
	recorder *metrics.Recorder
	cfg      Config
	owner    string
	now      func() time.Time

	instances map[string]instance

	mu            sync.RWMutex
	cached        map[string]*cache.Entry[domain.CacheState]
	stateGroup    singleflight.Group
	populateGroup singleflight.Group
}

var _ domain.MembershipUsecase = (*service)(nil)

// NewService validates every instance up front; bad sizing is a configuration
// error and the process should not start.
func NewService(states domain.CacheStateRepository, filter domain.BloomRepository, cfg Config, recorder *metrics.Recorder, instances ...Instance) (*service, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.RetireGrace <= 0 {
		cfg.RetireGrace = DefaultRetireGrace
	}

	s := &service{
		states:    states,
		filter:    filter,
		recorder:  recorder,
		cfg:       cfg,
		owner:     newOwnerID(),
		now:       func() time.Time { return time.Now().UTC() },
		instances: make(map[string]instance, len(instances)),
		cached:    make(map[string]*cache.Entry[domain.CacheState]),
	}
	for _, in := range instances {
		if in.Name == "" || in.Source == nil {
			return nil, fmt.Errorf("membership instance %q needs a name and a source: %w", in.Name, domain.ErrConfiguration)
		}
		p, err := bloom.Estimate(in.Capacity, in.ErrorRate)
		if err != nil {
			return nil, fmt.Errorf("membership instance %s: %w", in.Name, err)
		}
		s.instances[in.Name] = instance{Instance: in, params: p}
	}
	return s, nil
}

func newOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "/" + uuid.NewString()[:8]
}

func (s *service) Instances() []string {
	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *service) instance(name string) (instance, error) {
	in, ok := s.instances[name]
	if !ok {
		return instance{}, fmt.Errorf("unknown membership instance %q: %w", name, domain.ErrConfiguration)
	}
	return in, nil
}

// activeRef addresses the generation readers use, sized as it was built.
func activeRef(st domain.CacheState) (domain.FilterRef, error) {
	p, err := bloom.Estimate(st.Capacity, st.ErrorRate)
	if err != nil {
		return domain.FilterRef{}, err
	}
	return p.Ref(st.Key, st.Generation), nil
}

func (s *service) State(ctx context.Context, name string) (domain.CacheState, error) {
	if _, err := s.instance(name); err != nil {
		return domain.CacheState{}, err
	}
	return s.state(ctx, name)
}

// state reads CacheState through a short-lived in-process entry. An expired
// entry is still served when the refresh fails: status only moves forward, so a
// stale READY is still READY.
func (s *service) state(ctx context.Context, name string) (domain.CacheState, error) {
	now := s.now()
	s.mu.RLock()
	e := s.cached[name]
	s.mu.RUnlock()
	if e != nil && !e.IsLogicalExpired(now) {
		return e.Data, nil
	}

	v, err, _ := s.stateGroup.Do(name, func() (any, error) {
		st, err := s.states.Get(ctx, name)
		if errors.Is(err, domain.ErrNotFound) {
			in := s.instances[name]
			st, err = domain.NewCacheState(name, in.Capacity, in.ErrorRate), nil
		}
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached[name] = cache.NewEntry(st, s.now(), s.cfg.StateTTL)
		s.mu.Unlock()
		return st, nil
	})
	if err != nil {
		if e != nil {
			return e.Data, nil
		}
		return domain.CacheState{}, err
	}
	return v.(domain.CacheState), nil
}

// Invalidate drops the in-process copy so the next read hits storage.
func (s *service) Invalidate(name string) {
	s.mu.Lock()
	delete(s.cached, name)
	s.mu.Unlock()
}

// Check answers from the filter only when the instance is READY and the
// filter answers; anything else goes to the authoritative source.
func (s *service) Check(ctx context.Context, name, member string) (domain.Membership, error) {
	in, err := s.instance(name)
	if err != nil {
		return domain.Absent, err
	}

	st, err := s.state(ctx, name)
	switch {
	case err != nil:
		logrus.WithError(err).WithField("instance", name).Warn("membership state unavailable, using authoritative store")
	case st.Ready():
		if ans, ok := s.checkFilter(ctx, st, member); ok {
			s.recorder.GateCheck(name, "cache", ans.String())
			return ans, nil
		}
	}

	found, err := in.Source.Contains(ctx, member)
	if err != nil {
		return domain.Absent, fmt.Errorf("membership %s authoritative lookup: %w", name, err)
	}
	ans := domain.Absent
	if found {
		ans = domain.Present
	}
	s.recorder.GateCheck(name, "authoritative", ans.String())
	return ans, nil
}

func (s *service) checkFilter(ctx context.Context, st domain.CacheState, member string) (domain.Membership, bool) {
	ref, err := activeRef(st)
	if err != nil {
		logrus.WithError(err).WithField("instance", st.Key).Error("membership state carries invalid sizing")
		return domain.Absent, false
	}
	exists, err := s.filter.Exists(ctx, ref, member)
	if err != nil {
		logrus.WithError(err).WithField("instance", st.Key).Warn("bloom filter unavailable, using authoritative store")
		return domain.Absent, false
	}
	if !exists {
		return domain.Absent, true
	}
	return domain.PossiblyPresent, true
}

// Add writes the active generation and the next one. A rebuild always builds
// generation+1, so a member added while it scans is never lost in the swap.
// The state is read from storage, not the in-process copy: a scan that started
// before the member was stored builds generation or generation+1 of that row.
// Failing to read it is an error; callers retry rather than skip a generation.
func (s *service) Add(ctx context.Context, name, member string) error {
	in, err := s.instance(name)
	if err != nil {
		return err
	}
	st, err := s.states.Get(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		st, err = domain.NewCacheState(name, in.Capacity, in.ErrorRate), nil
	}
	if err != nil {
		return fmt.Errorf("membership %s add: read state: %w", name, err)
	}

	if st.Generation > 0 {
		ref, err := activeRef(st)
		if err == nil {
			err = s.filter.Add(ctx, ref, member)
		}
		if err != nil {
			return fmt.Errorf("membership %s add to generation %d: %w", name, st.Generation, err)
		}
	}
	next := in.params.Ref(name, st.Generation+1)
	if err := s.filter.Add(ctx, next, member); err != nil {
		return fmt.Errorf("membership %s add to generation %d: %w", name, next.Generation, err)
	}
	return nil
}
