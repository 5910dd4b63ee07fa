package redislite

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-lite/replication"
	"github.com/raniellyferreira/redis-lite/server"
	"github.com/raniellyferreira/redis-lite/storage"
)

// DefaultPort is the port a node listens on when none is configured
const DefaultPort = 6379

// config holds the configuration for a Node
type config struct {
	// Listener settings
	addr        string
	maxClients  int
	idleTimeout time.Duration

	// Leader to follow; empty makes the node a leader
	leaderAddr     string
	retryDelay     time.Duration
	connectTimeout time.Duration
	syncTimeout    time.Duration

	// Leader side
	followerQueueSize    int
	followerWriteTimeout time.Duration

	// Storage
	shardCount    int
	sweepInterval time.Duration
	cleanupConfig storage.CleanupConfig

	// Observability
	logger  Logger
	metrics MetricsCollector

	// Behavioral options
	readOnly bool
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:                 ":" + strconv.Itoa(DefaultPort),
		maxClients:           server.DefaultMaxClients,
		retryDelay:           replication.DefaultRetryDelay,
		connectTimeout:       5 * time.Second,
		syncTimeout:          30 * time.Second,
		followerQueueSize:    replication.DefaultQueueSize,
		followerWriteTimeout: replication.DefaultWriteTimeout,
		shardCount:           storage.DefaultShardCount,
		sweepInterval:        storage.DefaultSweepInterval,
		cleanupConfig:        storage.CleanupConfigDefault,
		logger:               &defaultLogger{},
		readOnly:             true,
	}
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithPort listens on every interface at port
//
// Example:
//
//	WithPort(6380)
func WithPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
		}
		c.addr = ":" + strconv.Itoa(port)
		return nil
	}
}

// WithAddr sets the listen address. Port 0 picks a free port, which
// Node.Addr reports after Start.
//
// Example:
//
//	WithAddr("127.0.0.1:6380")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: listen address %q: %v", ErrInvalidConfig, addr, err)
		}
		c.addr = addr
		return nil
	}
}

// WithReplicaOf makes the node a follower of the leader at host:port. The
// role is fixed for the lifetime of the node.
//
// Example:
//
//	WithReplicaOf("localhost", 6379)
func WithReplicaOf(host string, port int) Option {
	return func(c *config) error {
		if host == "" || port <= 0 || port > 65535 {
			return fmt.Errorf("%w: replicaof %q %d", ErrInvalidConfig, host, port)
		}
		c.leaderAddr = net.JoinHostPort(host, strconv.Itoa(port))
		return nil
	}
}

// WithMaxClients bounds the number of concurrent client connections
//
// Example:
//
//	WithMaxClients(1000)
func WithMaxClients(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max clients must be positive", ErrInvalidConfig)
		}
		c.maxClients = n
		return nil
	}
}

// WithIdleTimeout closes client connections idle for longer than timeout.
// Zero, the default, keeps idle connections open.
//
// Example:
//
//	WithIdleTimeout(5 * time.Minute)
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.idleTimeout = timeout
		return nil
	}
}

// WithRetryDelay sets the fixed delay between attempts to reach the leader
//
// Example:
//
//	WithRetryDelay(500 * time.Millisecond)
func WithRetryDelay(delay time.Duration) Option {
	return func(c *config) error {
		if delay <= 0 {
			return ErrInvalidConfig
		}
		c.retryDelay = delay
		return nil
	}
}

// WithConnectTimeout sets the dial timeout for the leader connection
//
// Example:
//
//	WithConnectTimeout(10 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithSyncTimeout bounds the handshake and snapshot transfer
//
// Example:
//
//	WithSyncTimeout(60 * time.Second)
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.syncTimeout = timeout
		return nil
	}
}

// WithFollowerQueueSize sets how many commands a leader buffers for each
// follower before dropping it
func WithFollowerQueueSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return ErrInvalidConfig
		}
		c.followerQueueSize = size
		return nil
	}
}

// WithFollowerWriteTimeout bounds a single write to a follower; a follower
// that cannot keep up within it is dropped. Zero disables the bound.
func WithFollowerWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.followerWriteTimeout = timeout
		return nil
	}
}

// WithShardCount sets the number of storage shards, rounded up to a power of two
//
// Example:
//
//	WithShardCount(256)
func WithShardCount(count int) Option {
	return func(c *config) error {
		if count <= 0 {
			return ErrInvalidConfig
		}
		c.shardCount = count
		return nil
	}
}

// WithSweepInterval sets the longest pause between two active expiration sweeps
//
// Example:
//
//	WithSweepInterval(100 * time.Millisecond)
func WithSweepInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			return ErrInvalidConfig
		}
		c.sweepInterval = interval
		return nil
	}
}

// WithCleanupConfig sets the sampling parameters of the expiration sweep
//
// Example:
//
//	WithCleanupConfig(storage.CleanupConfigLowLatency)
func WithCleanupConfig(cleanup storage.CleanupConfig) Option {
	return func(c *config) error {
		if cleanup.SampleSize <= 0 || cleanup.MaxRounds <= 0 || cleanup.ExpiredThreshold <= 0 || cleanup.ExpiredThreshold > 1 {
			return fmt.Errorf("%w: cleanup config %+v", ErrInvalidConfig, cleanup)
		}
		c.cleanupConfig = cleanup
		return nil
	}
}

// WithLogger sets a custom logger for the node
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(myMetricsCollector)
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithReadOnly sets whether a follower rejects client writes (default: true).
// It has no effect on a leader.
//
// Example:
//
//	WithReadOnly(false) // Let clients write to a follower (diverges from the leader)
func WithReadOnly(readOnly bool) Option {
	return func(c *config) error {
		c.readOnly = readOnly
		return nil
	}
}
