package cache

import "time"

// Entry 支持逻辑过期的数据结构, 过期后仍可读取, 由调用方决定是否刷新
type Entry[T any] struct {
	Data      T         `json:"data"`
	ExpireAt  time.Time `json:"expire_at"`  // 逻辑过期时间
	CreatedAt time.Time `json:"created_at"` // 创建时间，用于调试
}

// IsLogicalExpired 检查是否逻辑过期
func (d *Entry[T]) IsLogicalExpired(now time.Time) bool {
	return !now.Before(d.ExpireAt)
}

// NewEntry 创建带逻辑过期的数据
func NewEntry[T any](data T, now time.Time, ttl time.Duration) *Entry[T] {
	return &Entry[T]{
		Data:      data,
		ExpireAt:  now.Add(ttl),
		CreatedAt: now,
	}
}
