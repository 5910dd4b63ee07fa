package storage

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultShardCount is the number of shards used by NewMemory
	DefaultShardCount = 64

	// DefaultSweepInterval is the longest the sweeper sleeps between passes
	DefaultSweepInterval = 50 * time.Millisecond

	// minSweepDelay keeps a burst of near-identical deadlines from spinning
	// the sweeper
	minSweepDelay = time.Millisecond
)

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string]*Value
}

var _ CleanupConfigurableStorage = (*MemoryStorage)(nil)

// MemoryStorage implements an in-memory storage engine.
//
// Lock order is shard lock, then the expiration index lock. The index is
// only changed while the shard lock of the key is held, so a key present in
// the index always has a stored value carrying the same deadline.
type MemoryStorage struct {
	// Guards the cleanup settings
	mu sync.RWMutex

	data      []shard
	shards    int
	shardMask uint64

	expires *ExpirationIndex

	// Background cleanup
	cleanupConfig CleanupConfig
	sweepInterval time.Duration
	wake          chan struct{}
	cleanupStop   chan struct{}
	cleanupDone   chan struct{}
	closeOnce     sync.Once

	// Stats
	expiredKeys    atomic.Int64
	keyspaceHits   atomic.Int64
	keyspaceMisses atomic.Int64
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards for the storage
// The number is automatically rounded up to the next power of 2 for optimal performance
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			s.shards = nextPowerOf2(count)
			s.shardMask = uint64(s.shards - 1)
		}
	}
}

// WithSweepInterval sets the longest pause between two expiration sweeps.
// The sweeper wakes earlier when the next deadline is closer.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStorage) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithCleanupConfig sets the sampling parameters of the sweeper
func WithCleanupConfig(config CleanupConfig) MemoryOption {
	return func(s *MemoryStorage) {
		s.cleanupConfig = config
	}
}

// NewMemory creates a new in-memory storage instance with default number of shards (64)
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards:        DefaultShardCount,
		shardMask:     DefaultShardCount - 1,
		expires:       NewExpirationIndex(),
		cleanupConfig: CleanupConfigDefault,
		sweepInterval: DefaultSweepInterval,
		wake:          make(chan struct{}, 1),
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	s.data = newShards(s.shards)

	// Start background cleanup goroutine
	go s.cleanupExpiredKeys()

	return s
}

func newShards(n int) []shard {
	shards := make([]shard, n)
	for i := range shards {
		shards[i].data = make(map[string]*Value)
	}
	return shards
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// keyHash computes the hash for a key and returns the shard index
func (s *MemoryStorage) keyHash(key string) uint64 {
	return xxhash.Sum64String(key) & s.shardMask
}

func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.data[s.keyHash(key)]
}

// Get retrieves a value by key. An expired key is removed on access and
// reported as missing.
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	value, exists := sh.data[key]
	if !exists {
		sh.mu.RUnlock()
		s.keyspaceMisses.Add(1)
		return nil, false
	}

	if value.IsExpired() {
		sh.mu.RUnlock()
		s.deleteExpiredKey(key)
		s.keyspaceMisses.Add(1)
		return nil, false
	}

	// Copy the data while holding the read lock
	result := make([]byte, len(value.Data))
	copy(result, value.Data)
	sh.mu.RUnlock()

	s.keyspaceHits.Add(1)
	return result, true
}

// Set stores a value with optional expiration. A nil expiry makes the key
// persistent and cancels any deadline it had.
func (s *MemoryStorage) Set(key string, value []byte, expiry *time.Time) error {
	newValue := &Value{
		Data:    append([]byte(nil), value...),
		Version: time.Now().UnixNano(),
	}
	if expiry != nil {
		deadline := *expiry
		newValue.Expiry = &deadline
	}

	sh := s.shardFor(key)

	sh.mu.Lock()
	old, existed := sh.data[key]
	sh.data[key] = newValue

	earliest := false
	if newValue.Expiry != nil {
		earliest = s.expires.Schedule(key, *newValue.Expiry)
	} else if existed && old.Expiry != nil {
		s.expires.Clear(key)
	}
	sh.mu.Unlock()

	if earliest {
		s.wakeSweeper()
	}

	return nil
}

// Del deletes one or more keys and returns how many live keys were removed
func (s *MemoryStorage) Del(keys ...string) int64 {
	now := time.Now()
	deleted := int64(0)

	// Group keys by shard to minimize lock contention
	keysByShard := make(map[uint64][]string)
	for _, key := range keys {
		shardIdx := s.keyHash(key)
		keysByShard[shardIdx] = append(keysByShard[shardIdx], key)
	}

	// Delete keys shard by shard
	for shardIdx, shardKeys := range keysByShard {
		sh := &s.data[shardIdx]
		sh.mu.Lock()
		for _, key := range shardKeys {
			value, exists := sh.data[key]
			if !exists {
				continue
			}

			delete(sh.data, key)
			if value.Expiry != nil {
				s.expires.Clear(key)
			}

			if value.expiredAt(now) {
				s.expiredKeys.Add(1)
				continue
			}
			deleted++
		}
		sh.mu.Unlock()
	}

	return deleted
}

// Exists counts how many of keys are present. A key named twice counts twice.
func (s *MemoryStorage) Exists(keys ...string) int64 {
	now := time.Now()
	count := int64(0)

	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.RLock()
		if value, exists := sh.data[key]; exists && !value.expiredAt(now) {
			count++
		}
		sh.mu.RUnlock()
	}

	return count
}

// TTL returns the time to live for a key.
// It returns -2s for a missing key and -1s for a key without expiry.
func (s *MemoryStorage) TTL(key string) time.Duration {
	ttl := s.PTTL(key)
	if ttl < 0 {
		return ttl / time.Millisecond * time.Second
	}
	return ttl
}

// PTTL returns the time to live for a key.
// It returns -2ms for a missing key and -1ms for a key without expiry.
func (s *MemoryStorage) PTTL(key string) time.Duration {
	now := time.Now()
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	value, exists := sh.data[key]
	if !exists || value.expiredAt(now) {
		return -2 * time.Millisecond
	}

	if value.Expiry == nil {
		return -1 * time.Millisecond
	}

	return value.remaining(now)
}

// Keys returns all live keys matching a glob pattern. See MatchPattern.
func (s *MemoryStorage) Keys(pattern string) []string {
	now := time.Now()
	keys := make([]string, 0)

	for i := range s.data {
		sh := &s.data[i]
		sh.mu.RLock()
		for key, value := range sh.data {
			if value.expiredAt(now) {
				continue
			}
			if MatchPattern(key, pattern) {
				keys = append(keys, key)
			}
		}
		sh.mu.RUnlock()
	}

	return keys
}

// KeyCount returns the number of stored keys, including expired keys the
// sweeper has not reached yet
func (s *MemoryStorage) KeyCount() int64 {
	count := int64(0)

	for i := range s.data {
		sh := &s.data[i]
		sh.mu.RLock()
		count += int64(len(sh.data))
		sh.mu.RUnlock()
	}

	return count
}

// ExpiresCount returns the number of keys with a deadline
func (s *MemoryStorage) ExpiresCount() int64 {
	return int64(s.expires.Len())
}

// FlushAll removes every key
func (s *MemoryStorage) FlushAll() error {
	for i := range s.data {
		s.data[i].mu.Lock()
	}

	for i := range s.data {
		s.data[i].data = make(map[string]*Value)
	}
	s.expires.Reset()

	for i := range s.data {
		s.data[i].mu.Unlock()
	}

	return nil
}

// MemoryUsage returns an estimate of the bytes held by keys and values
func (s *MemoryStorage) MemoryUsage() int64 {
	total := int64(0)

	for i := range s.data {
		sh := &s.data[i]
		sh.mu.RLock()
		for key, value := range sh.data {
			total += value.size(key)
		}
		sh.mu.RUnlock()
	}

	return total
}

// Info returns storage information
func (s *MemoryStorage) Info() map[string]interface{} {
	return map[string]interface{}{
		"keys":            s.KeyCount(),
		"expires":         s.ExpiresCount(),
		"expired_keys":    s.expiredKeys.Load(),
		"keyspace_hits":   s.keyspaceHits.Load(),
		"keyspace_misses": s.keyspaceMisses.Load(),
		"used_memory":     s.MemoryUsage(),
		"shards":          s.shards,
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupDone
	})
	return nil
}

// SetCleanupConfig updates the cleanup configuration
func (s *MemoryStorage) SetCleanupConfig(config CleanupConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupConfig = config
}

// GetCleanupConfig returns the current cleanup configuration
func (s *MemoryStorage) GetCleanupConfig() CleanupConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleanupConfig
}

// Sweep removes every key whose deadline is at or before now and returns
// how many were removed. After the first pass it samples the index and,
// while the sample shows enough keys falling due, runs further rounds.
func (s *MemoryStorage) Sweep(now time.Time) int {
	config := s.GetCleanupConfig()
	rounds := config.MaxRounds
	if rounds < 1 {
		rounds = 1
	}

	removed := 0
	for round := 0; round < rounds; round++ {
		removed += s.expireDue(now, config.BatchSize)

		if config.SampleSize <= 0 {
			break
		}

		now = time.Now()
		sampled, due := s.expires.Sample(config.SampleSize, now)
		if sampled == 0 || float64(due)/float64(sampled) <= config.ExpiredThreshold {
			break
		}

		// Yield CPU briefly between rounds to allow other operations
		runtime.Gosched()
	}

	return removed
}

// expireDue drains the head of the index up to now
func (s *MemoryStorage) expireDue(now time.Time, batchSize int) int {
	removed := 0
	for {
		key, deadline, ok := s.expires.Next()
		if !ok || deadline.After(now) {
			return removed
		}

		if s.expireKey(key, now) {
			removed++
			if batchSize > 0 && removed%batchSize == 0 {
				runtime.Gosched()
			}
		}
	}
}

// expireKey removes key from both the shard and the index in one critical
// section, if its deadline is still due
func (s *MemoryStorage) expireKey(key string, now time.Time) bool {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Double-check under write lock: the key may have been rewritten since
	// it was read from the head of the index
	if !s.expires.IsExpired(key, now) {
		return false
	}

	s.expires.Clear(key)
	value, exists := sh.data[key]
	if !exists || !value.expiredAt(now) {
		return false
	}

	delete(sh.data, key)
	s.expiredKeys.Add(1)
	return true
}

// deleteExpiredKey safely deletes an expired key without race conditions
func (s *MemoryStorage) deleteExpiredKey(key string) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	value, exists := sh.data[key]
	if !exists {
		return
	}

	// Double-check expiration under write lock
	if value.IsExpired() {
		delete(sh.data, key)
		s.expires.Clear(key)
		s.expiredKeys.Add(1)
	}
}

// cleanupExpiredKeys runs in background to clean up expired keys. It sleeps
// until the earliest deadline or the sweep interval, whichever comes first.
func (s *MemoryStorage) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	timer := time.NewTimer(s.nextSweepDelay(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.Sweep(time.Now())
		}

		timer.Reset(s.nextSweepDelay(time.Now()))
	}
}

// nextSweepDelay returns how long the sweeper may sleep
func (s *MemoryStorage) nextSweepDelay(now time.Time) time.Duration {
	delay := s.sweepInterval

	if _, deadline, ok := s.expires.Next(); ok {
		if until := deadline.Sub(now); until < delay {
			delay = until
		}
	}

	if delay < minSweepDelay {
		delay = minSweepDelay
	}
	return delay
}

// wakeSweeper tells the sweeper a new earliest deadline exists
func (s *MemoryStorage) wakeSweeper() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
