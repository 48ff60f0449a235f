package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStoreConfig 内存存储配置
type MemoryStoreConfig struct {
	// CleanupInterval 过期桶清理间隔（默认 10 分钟）
	CleanupInterval time.Duration
	// BucketExpiry 桶过期时间（默认 30 分钟无访问则清理）
	BucketExpiry time.Duration
}

// setDefaults 设置默认值
func (c *MemoryStoreConfig) setDefaults() {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
	if c.BucketExpiry <= 0 {
		c.BucketExpiry = 30 * time.Minute
	}
}

// bucket 固定窗口计数桶
type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int64
	lastAccess  time.Time
}

// incr 递增窗口计数，窗口过期时重置
func (b *bucket) incr(now time.Time, window time.Duration) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.windowStart) >= window {
		b.windowStart = now
		b.count = 0
	}
	b.count++
	b.lastAccess = now
	return b.count
}

// MemoryStore 内存窗口计数存储
type MemoryStore struct {
	buckets map[string]*bucket
	mu      sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore 创建内存存储并启动后台清理
func NewMemoryStore(config MemoryStoreConfig) *MemoryStore {
	config.setDefaults()

	s := &MemoryStore{
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}

	// 后台清理 goroutine，约束空闲桶的内存占用
	go func() {
		ticker := time.NewTicker(config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanup(config.BucketExpiry)
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Incr 递增 key 在当前窗口内的计数
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	return s.getBucket(key).incr(time.Now(), window), nil
}

// Close 停止后台清理
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// getBucket 获取或创建计数桶
func (s *MemoryStore) getBucket(key string) *bucket {
	s.mu.RLock()
	b, exists := s.buckets[key]
	s.mu.RUnlock()

	if exists {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 双重检查
	if b, exists = s.buckets[key]; exists {
		return b
	}

	b = &bucket{}
	s.buckets[key] = b
	return b
}

// cleanup 清理过期的计数桶
func (s *MemoryStore) cleanup(expiry time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, b := range s.buckets {
		b.mu.Lock()
		expired := now.Sub(b.lastAccess) > expiry
		b.mu.Unlock()
		if expired {
			delete(s.buckets, key)
		}
	}
}

// size 返回当前桶数量（测试用）
func (s *MemoryStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}
