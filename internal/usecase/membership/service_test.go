package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/bloom"
	"github.com/Guyuepp/videohub/internal/repository/mysql"
	"github.com/Guyuepp/videohub/internal/repository/mysql/mysqltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testInstance = domain.MembershipUserEmails

type sliceSource struct {
	mu     sync.Mutex
	keys   []string
	calls  atomic.Int64
	failAt int64 // FetchKeys call number that fails, 0 disables
	// onFetch runs after every successful FetchKeys
	onFetch func()
}

func newSliceSource(n int) *sliceSource {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("user-%05d@example.com", i)
	}
	sort.Strings(keys)
	return &sliceSource{keys: keys}
}

func (s *sliceSource) FetchKeys(_ context.Context, after string, limit int) ([]string, error) {
	call := s.calls.Add(1)
	if s.failAt > 0 && call == s.failAt {
		return nil, errors.New("connection reset by peer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.SearchStrings(s.keys, after)
	if i < len(s.keys) && s.keys[i] == after {
		i++
	}
	end := i + limit
	if end > len(s.keys) {
		end = len(s.keys)
	}
	page := append([]string(nil), s.keys[i:end]...)
	if s.onFetch != nil {
		s.onFetch()
	}
	return page, nil
}

func (s *sliceSource) Contains(_ context.Context, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.SearchStrings(s.keys, member)
	return i < len(s.keys) && s.keys[i] == member, nil
}

type brokenFilter struct{ domain.BloomRepository }

func (brokenFilter) Exists(context.Context, domain.FilterRef, string) (bool, error) {
	return false, errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")
}

type fixture struct {
	svc    *service
	states domain.CacheStateRepository
	filter *bloom.Memory
	source *sliceSource
	clock  *time.Time
}

func newFixture(t *testing.T, rows int) *fixture {
	t.Helper()
	db := mysqltest.Open(t)
	states := mysql.NewCacheStateRepository(db)
	filter := bloom.NewMemory()
	src := newSliceSource(rows)

	svc, err := NewService(states, filter, Config{BatchSize: 500, StateTTL: time.Minute, Lease: time.Minute}, nil, Instance{
		Name:      testInstance,
		Capacity:  10000,
		ErrorRate: 0.001,
		Source:    src,
	})
	require.NoError(t, err)

	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{svc: svc, states: states, filter: filter, source: src, clock: &clock}
	svc.now = func() time.Time { return *f.clock }
	return f
}

func (f *fixture) activeRef(t *testing.T) domain.FilterRef {
	t.Helper()
	st, err := f.states.Get(context.Background(), testInstance)
	require.NoError(t, err)
	ref, err := activeRef(st)
	require.NoError(t, err)
	return ref
}

func TestNewServiceRejectsBadSizing(t *testing.T) {
	_, err := NewService(nil, nil, Config{}, nil, Instance{Name: "x", Capacity: 0, ErrorRate: 0.01, Source: newSliceSource(0)})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewService(nil, nil, Config{}, nil, Instance{Name: "x", Capacity: 10, ErrorRate: 1.5, Source: newSliceSource(0)})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCheckFallsBackUntilReady(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	st, err := f.svc.State(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheNotInitialized, st.Status)

	// nothing was added to any filter yet, so a trusted filter would say absent
	ans, err := f.svc.Check(ctx, testInstance, "user-00003@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.Present, ans)

	ans, err = f.svc.Check(ctx, testInstance, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, domain.Absent, ans)
}

func TestCheckFallsBackWhilePopulating(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.states.Mutate(ctx, testInstance, domain.NewCacheState(testInstance, 10000, 0.001), func(cur domain.CacheState) (domain.CacheState, error) {
		next, _ := cur.Claim("other-replica", *f.clock, time.Hour, false)
		return next, nil
	})
	require.NoError(t, err)

	ans, err := f.svc.Check(ctx, testInstance, "user-00007@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.Present, ans)
}

func TestPopulateThenCheckUsesFilter(t *testing.T) {
	f := newFixture(t, 2500)
	ctx := context.Background()

	stats, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Batches)
	assert.Equal(t, int64(2500), stats.Keys)
	assert.Equal(t, int64(6), f.source.calls.Load(), "five full batches and one empty read")

	st, err := f.svc.State(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, st.Status)
	assert.Equal(t, int64(1), st.Generation)
	assert.Empty(t, st.ClaimedBy)

	ref := f.activeRef(t)
	for _, k := range f.source.keys {
		ok, err := f.filter.Exists(ctx, ref, k)
		require.NoError(t, err)
		require.True(t, ok, k)
	}

	ans, err := f.svc.Check(ctx, testInstance, "user-01234@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.PossiblyPresent, ans)

	ans, err = f.svc.Check(ctx, testInstance, "nobody@example.org")
	require.NoError(t, err)
	assert.Equal(t, domain.Absent, ans)
}

func TestCheckFailsOpenWhenFilterBackendIsDown(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()
	_, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)

	f.svc.filter = brokenFilter{f.filter}
	ans, err := f.svc.Check(ctx, testInstance, "user-00011@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.Present, ans)

	ans, err = f.svc.Check(ctx, testInstance, "missing@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.Absent, ans)
}

func TestPopulateRecoversAfterFailureMidScan(t *testing.T) {
	f := newFixture(t, 2500)
	f.source.failAt = 4
	ctx := context.Background()

	_, err := f.svc.Populate(ctx, testInstance, false)
	require.Error(t, err)

	st, err := f.states.Get(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CachePopulating, st.Status)
	assert.Empty(t, st.ClaimedBy, "lease released for the retry")

	f.source.calls.Store(0)
	f.source.failAt = 0
	stats, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Batches)

	st, err = f.states.Get(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, st.Status)

	ref := f.activeRef(t)
	for _, k := range f.source.keys {
		ok, err := f.filter.Exists(ctx, ref, k)
		require.NoError(t, err)
		require.True(t, ok, k)
	}
}

func TestPopulateWaitsForCrashedOwnerLease(t *testing.T) {
	f := newFixture(t, 1200)
	ctx := context.Background()

	// a replica died mid-scan holding the lease
	_, err := f.states.Mutate(ctx, testInstance, domain.NewCacheState(testInstance, 10000, 0.001), func(cur domain.CacheState) (domain.CacheState, error) {
		next, _ := cur.Claim("dead-replica", *f.clock, time.Minute, false)
		return next, nil
	})
	require.NoError(t, err)

	stats, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
	assert.Zero(t, f.source.calls.Load())

	*f.clock = f.clock.Add(2 * time.Minute)
	stats, err = f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.Equal(t, 3, stats.Batches)

	st, err := f.states.Get(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, st.Status)
}

func TestPopulateStopsBetweenBatchesOnCancel(t *testing.T) {
	f := newFixture(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.onFetch = cancel

	stats, err := f.svc.Populate(ctx, testInstance, false)
	require.ErrorIs(t, err, context.Canceled)

	// the batch in hand is finished, the next one never starts
	assert.Equal(t, int64(1), f.source.calls.Load())
	assert.Equal(t, 1, stats.Batches)

	st, err := f.states.Get(context.Background(), testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CachePopulating, st.Status)
	assert.Empty(t, st.ClaimedBy, "lease released for the next run")

	f.source.onFetch = nil
	stats, err = f.svc.Populate(context.Background(), testInstance, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	st, err = f.states.Get(context.Background(), testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, st.Status)
}

func TestConcurrentPopulateScansOnce(t *testing.T) {
	f := newFixture(t, 1500)
	other, err := NewService(f.states, f.filter, f.svc.cfg, nil, Instance{
		Name: testInstance, Capacity: 10000, ErrorRate: 0.001, Source: f.source,
	})
	require.NoError(t, err)
	other.now = f.svc.now

	ctx := context.Background()
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		svc := f.svc
		if i%2 == 1 {
			svc = other
		}
		g.Go(func() error {
			_, err := svc.Populate(ctx, testInstance, false)
			return err
		})
	}
	require.NoError(t, g.Wait())

	// 1500 rows = 3 full batches plus the closing empty read, exactly once
	assert.Equal(t, int64(4), f.source.calls.Load())
	st, err := f.states.Get(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, st.Status)
}

func TestRebuildKeepsReadyAndSwapsGeneration(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()
	_, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)

	stats, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)
	assert.True(t, stats.Skipped, "ready instances are not rescanned without a rebuild")

	// a member registered before the rebuild must survive the swap
	f.source.mu.Lock()
	f.source.keys = append(f.source.keys, "zz-late@example.com")
	f.source.mu.Unlock()
	require.NoError(t, f.svc.Add(ctx, testInstance, "zz-late@example.com"))

	stats, err = f.svc.Populate(ctx, testInstance, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Generation)

	st, err := f.states.Get(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheReady, st.Status)
	assert.Equal(t, int64(2), st.Generation)

	ans, err := f.svc.Check(ctx, testInstance, "zz-late@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.PossiblyPresent, ans)
}

func TestAddReachesNextGenerationBeforeFirstPopulation(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	require.NoError(t, f.svc.Add(ctx, testInstance, "early@example.com"))

	p, err := bloom.Estimate(10000, 0.001)
	require.NoError(t, err)
	ok, err := f.filter.Exists(ctx, p.Ref(testInstance, 1), "early@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnknownInstanceIsConfigurationError(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Check(context.Background(), "nope", "x")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = f.svc.Populate(context.Background(), "nope", false)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

type flakyStates struct {
	domain.CacheStateRepository
	fail error
}

func (s *flakyStates) Get(ctx context.Context, key string) (domain.CacheState, error) {
	if s.fail != nil {
		return domain.CacheState{}, s.fail
	}
	return s.CacheStateRepository.Get(ctx, key)
}

func TestAddReportsStateOutage(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()
	_, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)
	_, err = f.svc.Populate(ctx, testInstance, true)
	require.NoError(t, err)

	states := &flakyStates{
		CacheStateRepository: f.states,
		fail:                 &domain.StoreError{Kind: domain.StoreTransient, Op: "cache_state.get", Err: errors.New("driver: bad connection")},
	}
	replica, err := NewService(states, f.filter, f.svc.cfg, nil, Instance{
		Name: testInstance, Capacity: 10000, ErrorRate: 0.001, Source: f.source,
	})
	require.NoError(t, err)

	f.source.mu.Lock()
	f.source.keys = append(f.source.keys, "zzz-new@example.com")
	f.source.mu.Unlock()

	err = replica.Add(ctx, testInstance, "zzz-new@example.com")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	states.fail = nil
	require.NoError(t, replica.Add(ctx, testInstance, "zzz-new@example.com"))
	ans, err := replica.Check(ctx, testInstance, "zzz-new@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, domain.Absent, ans)
}

func TestAddWhileReadyIsVisible(t *testing.T) {
	f := newFixture(t, 30)
	ctx := context.Background()
	_, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)

	// the cached READY state is warm before the member arrives
	ans, err := f.svc.Check(ctx, testInstance, "fresh@example.com")
	require.NoError(t, err)
	require.Equal(t, domain.Absent, ans)

	require.NoError(t, f.svc.Add(ctx, testInstance, "fresh@example.com"))
	ans, err = f.svc.Check(ctx, testInstance, "fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.PossiblyPresent, ans)
}

func TestAddDuringRebuildSurvivesSwap(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	_, err := f.svc.Populate(ctx, testInstance, false)
	require.NoError(t, err)

	// after the first page the scan cursor is already past "aaa-mid"
	var addErr error
	first := true
	f.source.onFetch = func() {
		if !first {
			return
		}
		first = false
		f.source.keys = append([]string{"aaa-mid@example.com"}, f.source.keys...)
		addErr = f.svc.Add(ctx, testInstance, "aaa-mid@example.com")
	}

	stats, err := f.svc.Populate(ctx, testInstance, true)
	require.NoError(t, err)
	require.NoError(t, addErr)
	assert.Equal(t, int64(2), stats.Generation)
	assert.Equal(t, int64(1000), stats.Keys, "the scan itself never saw the new member")

	ans, err := f.svc.Check(ctx, testInstance, "aaa-mid@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.PossiblyPresent, ans)
}
