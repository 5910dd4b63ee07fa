package storage

import "time"

// Storage defines the interface for data storage operations
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, expiry *time.Time) error
	Del(keys ...string) int64
	Exists(keys ...string) int64

	// Expiration operations
	TTL(key string) time.Duration
	PTTL(key string) time.Duration

	// Key operations
	Keys(pattern string) []string
	KeyCount() int64
	ExpiresCount() int64
	FlushAll() error

	// Memory operations
	MemoryUsage() int64

	// Info and stats
	Info() map[string]interface{}

	// Shutdown
	Close() error
}

// CleanupConfigurableStorage extends Storage with cleanup configuration
type CleanupConfigurableStorage interface {
	Storage

	// Cleanup configuration
	SetCleanupConfig(config CleanupConfig)
	GetCleanupConfig() CleanupConfig
}

// CleanupConfig holds configuration for the active expiration sweep.
//
// Every sweep first removes all keys whose deadline has passed. It then
// samples SampleSize keys from the expiration index and, when more than
// ExpiredThreshold of them turned out to be due in the meantime, runs
// another round, up to MaxRounds rounds.
type CleanupConfig struct {
	// SampleSize is the number of keys to sample per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per cleanup cycle
	MaxRounds int
	// BatchSize is the number of keys removed between yields
	BatchSize int
	// ExpiredThreshold continues cleanup if this percentage of sampled keys are expired
	ExpiredThreshold float64
}

// Predefined CleanupConfig constants for different use cases

// CleanupConfigDefault provides balanced performance for most use cases
// Similar to Redis native behavior with good performance/resource balance
var CleanupConfigDefault = CleanupConfig{
	SampleSize:       20,   // Sample 20 keys per round
	MaxRounds:        4,    // Maximum 4 rounds per cleanup cycle
	BatchSize:        10,   // Yield every 10 removals
	ExpiredThreshold: 0.25, // Continue if >25% of sampled keys are expired
}

// CleanupConfigSmallDataset optimized for datasets with < 10,000 keys
var CleanupConfigSmallDataset = CleanupConfig{
	SampleSize:       10,
	MaxRounds:        2,
	BatchSize:        5,
	ExpiredThreshold: 0.5,
}

// CleanupConfigLargeDataset optimized for datasets with > 100,000 keys
var CleanupConfigLargeDataset = CleanupConfig{
	SampleSize:       50,
	MaxRounds:        8,
	BatchSize:        25,
	ExpiredThreshold: 0.15,
}

// CleanupConfigLowLatency optimized for latency-sensitive applications
// Minimizes cleanup impact on application response times
var CleanupConfigLowLatency = CleanupConfig{
	SampleSize:       15,  // Small sample to minimize lock time
	MaxRounds:        3,   // Few rounds to minimize impact
	BatchSize:        8,   // Yield often
	ExpiredThreshold: 0.4, // Higher threshold to avoid excessive cleanup
}
