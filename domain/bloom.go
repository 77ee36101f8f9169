package domain

import (
	"context"
	"time"
)

// FilterRef addresses one generation of a named bloom filter together with its
// sizing, so backends stay stateless.
type FilterRef struct {
	Name       string
	Generation int64
	Bits       uint64
	Hashes     uint32
}

// Next is the generation a rebuild writes into.
func (f FilterRef) Next() FilterRef {
	f.Generation++
	return f
}

type BloomRepository interface {
	// Add 将 member 加入过滤器, 幂等
	Add(ctx context.Context, f FilterRef, member string) error

	// BulkAdd 用于批量添加
	BulkAdd(ctx context.Context, f FilterRef, members []string) error

	// Exists 检查 member 是否可能存在
	// 返回 true: 可能存在 (需要进一步查 DB)
	// 返回 false: 绝对不存在
	Exists(ctx context.Context, f FilterRef, member string) (bool, error)

	// Retire drops a generation after grace, once no reader can still point at it.
	Retire(ctx context.Context, f FilterRef, grace time.Duration) error
}

// Membership is the answer of a gated existence check.
type Membership int8

const (
	// Absent is a definite no and safe to trust outright.
	Absent Membership = iota
	// PossiblyPresent came from the filter; callers still run their own check.
	PossiblyPresent
	// Present came from the authoritative store.
	Present
)

func (m Membership) String() string {
	switch m {
	case Absent:
		return "absent"
	case PossiblyPresent:
		return "possibly_present"
	case Present:
		return "present"
	default:
		return "unknown"
	}
}

// MembershipSource is the authoritative store behind one membership instance.
type MembershipSource interface {
	// FetchKeys returns up to limit members strictly after the given key, ordered by key.
	FetchKeys(ctx context.Context, after string, limit int) ([]string, error)
	// Contains is the authoritative existence check.
	Contains(ctx context.Context, member string) (bool, error)
}

// MembershipGate is the only way callers ask "might this key exist".
type MembershipGate interface {
	Check(ctx context.Context, instance, member string) (Membership, error)
	Add(ctx context.Context, instance, member string) error
	State(ctx context.Context, instance string) (CacheState, error)
	Invalidate(instance string)
}

// PopulateStats summarises one population run.
type PopulateStats struct {
	Instance   string
	Generation int64
	Batches    int
	Keys       int64
	Skipped    bool
}

// MembershipUsecase drives population and rebuilds on top of the gate.
type MembershipUsecase interface {
	MembershipGate
	Populate(ctx context.Context, instance string, rebuild bool) (PopulateStats, error)
	Instances() []string
}
