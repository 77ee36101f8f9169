// Package bloom sizes bloom filters and maps members to bit positions.
// Backends (Redis bitmaps, the in-process Memory filter) share this math so a
// member lands on the same bits wherever it is stored.
package bloom

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/Guyuepp/videohub/domain"
	"github.com/cespare/xxhash/v2"
)

// MaxRedisBits is the largest bitmap a single Redis string can hold (512MB).
const MaxRedisBits = uint64(1) << 32

// Params is a sized filter: m bits probed by k hash functions.
type Params struct {
	Bits   uint64
	Hashes uint32
}

// Estimate sizes a filter for n members at false positive rate p:
// m = ceil(-(n·ln p)/(ln2)²), k = round((m/n)·ln2).
func Estimate(n uint64, p float64) (Params, error) {
	if n == 0 {
		return Params{}, fmt.Errorf("bloom capacity must be positive: %w", domain.ErrConfiguration)
	}
	if !(p > 0 && p < 1) {
		return Params{}, fmt.Errorf("bloom error rate %v outside (0,1): %w", p, domain.ErrConfiguration)
	}

	m := math.Ceil(-(float64(n) * math.Log(p)) / (math.Ln2 * math.Ln2))
	k := math.Round((m / float64(n)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return Params{Bits: uint64(m), Hashes: uint32(k)}, nil
}

// Ref binds the params to one generation of a named filter.
func (p Params) Ref(name string, generation int64) domain.FilterRef {
	return domain.FilterRef{Name: name, Generation: generation, Bits: p.Bits, Hashes: p.Hashes}
}

// FromRef recovers the params a FilterRef was built with.
func FromRef(f domain.FilterRef) Params {
	return Params{Bits: f.Bits, Hashes: f.Hashes}
}

// Locations returns the k bit offsets for member using double hashing
// (g_i = h1 + i·h2 mod m). h2 is forced odd so the probe never stalls.
func (p Params) Locations(member string) []uint64 {
	if p.Bits == 0 || p.Hashes == 0 {
		return nil
	}
	data := []byte(member)
	h1 := xxhash.Sum64(data)

	f := fnv.New64a()
	_, _ = f.Write(data)
	h2 := f.Sum64() | 1

	offsets := make([]uint64, p.Hashes)
	for i := range offsets {
		offsets[i] = (h1 + uint64(i)*h2) % p.Bits
	}
	return offsets
}

// FalsePositiveRate is the expected rate after inserting n members.
func (p Params) FalsePositiveRate(n uint64) float64 {
	if p.Bits == 0 {
		return 1
	}
	k := float64(p.Hashes)
	return math.Pow(1-math.Exp(-k*float64(n)/float64(p.Bits)), k)
}
