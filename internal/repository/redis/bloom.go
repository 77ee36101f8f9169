package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/bloom"
	"github.com/redis/go-redis/v9"
)

const (
	keyBloomPrefix = "bloom"
)

type redisBloomRepo struct {
	client redis.UniversalClient
}

var _ domain.BloomRepository = (*redisBloomRepo)(nil)

func NewRedisBloomRepo(client redis.UniversalClient) *redisBloomRepo {
	return &redisBloomRepo{
		client: client,
	}
}

// BloomKey is bloom:<name>:g<generation>; every generation is its own bitmap.
func BloomKey(f domain.FilterRef) string {
	return fmt.Sprintf("%s:%s:g%d", keyBloomPrefix, f.Name, f.Generation)
}

func (r *redisBloomRepo) Add(ctx context.Context, f domain.FilterRef, member string) error {
	return r.BulkAdd(ctx, f, []string{member})
}

func (r *redisBloomRepo) BulkAdd(ctx context.Context, f domain.FilterRef, members []string) error {
	if len(members) == 0 {
		return nil
	}
	if f.Bits > bloom.MaxRedisBits {
		return fmt.Errorf("bloom %s needs %d bits, redis caps at %d: %w", f.Name, f.Bits, bloom.MaxRedisBits, domain.ErrConfiguration)
	}
	p := bloom.FromRef(f)
	key := BloomKey(f)

	pipe := r.client.Pipeline()
	for _, member := range members {
		for _, offset := range p.Locations(member) {
			pipe.SetBit(ctx, key, int64(offset), 1)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *redisBloomRepo) Exists(ctx context.Context, f domain.FilterRef, member string) (bool, error) {
	offsets := bloom.FromRef(f).Locations(member)
	key := BloomKey(f)

	pipe := r.client.Pipeline()
	for _, offset := range offsets {
		pipe.GetBit(ctx, key, int64(offset))
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	for _, cmd := range cmds {
		val, err := cmd.(*redis.IntCmd).Result()
		if err != nil {
			return false, err
		}
		if val == 0 {
			return false, nil
		}
	}

	return true, nil
}

func (r *redisBloomRepo) Retire(ctx context.Context, f domain.FilterRef, grace time.Duration) error {
	key := BloomKey(f)
	if grace <= 0 {
		return r.client.Del(ctx, key).Err()
	}
	return r.client.Expire(ctx, key, grace).Err()
}
