package bloom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Guyuepp/videohub/domain"
)

type bitset struct {
	words    []uint64
	retireAt time.Time
}

// Memory is an in-process domain.BloomRepository for single-replica
// deployments and tests. Each generation is its own bitset.
type Memory struct {
	mu   sync.RWMutex
	sets map[string]*bitset
	now  func() time.Time
}

var _ domain.BloomRepository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		sets: make(map[string]*bitset),
		now:  time.Now,
	}
}

func memoryKey(f domain.FilterRef) string {
	return fmt.Sprintf("%s:g%d", f.Name, f.Generation)
}

// set returns the live bitset for f, creating it when create is true.
// Callers hold the write lock when create is true.
func (m *Memory) set(f domain.FilterRef, create bool) *bitset {
	key := memoryKey(f)
	bs, ok := m.sets[key]
	if ok && !bs.retireAt.IsZero() && !m.now().Before(bs.retireAt) {
		if !create {
			return nil
		}
		delete(m.sets, key)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		bs = &bitset{words: make([]uint64, (f.Bits+63)/64)}
		m.sets[key] = bs
	}
	return bs
}

func (m *Memory) Add(ctx context.Context, f domain.FilterRef, member string) error {
	return m.BulkAdd(ctx, f, []string{member})
}

func (m *Memory) BulkAdd(_ context.Context, f domain.FilterRef, members []string) error {
	if len(members) == 0 {
		return nil
	}
	p := FromRef(f)
	m.mu.Lock()
	defer m.mu.Unlock()
	bs := m.set(f, true)
	for _, member := range members {
		for _, loc := range p.Locations(member) {
			bs.words[loc/64] |= 1 << (loc % 64)
		}
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, f domain.FilterRef, member string) (bool, error) {
	p := FromRef(f)
	m.mu.RLock()
	defer m.mu.RUnlock()
	bs := m.set(f, false)
	if bs == nil {
		return false, nil
	}
	for _, loc := range p.Locations(member) {
		if bs.words[loc/64]&(1<<(loc%64)) == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (m *Memory) Retire(_ context.Context, f domain.FilterRef, grace time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(f)
	if bs, ok := m.sets[key]; ok {
		if grace <= 0 {
			delete(m.sets, key)
			return nil
		}
		bs.retireAt = m.now().Add(grace)
	}
	return nil
}
