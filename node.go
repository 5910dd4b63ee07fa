package redislite

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-lite/command"
	"github.com/raniellyferreira/redis-lite/replication"
	"github.com/raniellyferreira/redis-lite/server"
	"github.com/raniellyferreira/redis-lite/storage"
)

// Role is the replication role of a node, fixed at construction
type Role = replication.Role

// Replication roles
const (
	RoleLeader   = replication.RoleLeader
	RoleFollower = replication.RoleFollower
)

// SyncStatus represents the current synchronization status
type SyncStatus struct {
	Role                 Role
	InitialSyncCompleted bool
	Connected            bool
	MasterAddr           string
	ReplicationID        string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
	ConnectedFollowers   int
}

// Node is a single redis-lite process: a store, a command dispatcher, a
// RESP server and either a follower registry (leader) or a replication
// client (follower).
type Node struct {
	// Configuration
	config *config

	// Components
	storage    *storage.MemoryStorage
	manager    *replication.Manager
	dispatcher *command.Dispatcher
	server     *server.Server
	client     *replication.Client

	// State
	mu        sync.RWMutex
	started   bool
	closed    bool
	startedAt atomic.Int64 // unix nanoseconds
}

// New creates a new Node with the given options
//
// The node is created but not started. Use Start() to bind the listener
// and, on a follower, begin replication.
//
// Example:
//
//	node, err := redislite.New(
//		redislite.WithPort(6380),
//		redislite.WithReplicaOf("localhost", 6379),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := &loggerAdapter{logger: cfg.logger}
	var metrics *metricsAdapter
	if cfg.metrics != nil {
		metrics = &metricsAdapter{metrics: cfg.metrics}
	}

	stor := storage.NewMemory(
		storage.WithShardCount(cfg.shardCount),
		storage.WithSweepInterval(cfg.sweepInterval),
		storage.WithCleanupConfig(cfg.cleanupConfig),
	)

	role := RoleLeader
	if cfg.leaderAddr != "" {
		role = RoleFollower
	}
	manager := replication.NewManager(role)

	var registry *replication.Registry
	if role == RoleLeader {
		registry = replication.NewRegistry()
		registry.SetQueueSize(cfg.followerQueueSize)
		registry.SetWriteTimeout(cfg.followerWriteTimeout)
		registry.SetLogger(logger)
		if metrics != nil {
			registry.SetMetrics(metrics)
		}
		manager.SetRegistry(registry)
	}

	dispatcherOpts := []command.Option{
		command.WithLogger(logger),
		command.WithReadOnly(role == RoleFollower && cfg.readOnly),
	}
	if registry != nil {
		dispatcherOpts = append(dispatcherOpts, command.WithPublisher(registry))
	}
	if metrics != nil {
		dispatcherOpts = append(dispatcherOpts, command.WithMetrics(metrics))
	}
	dispatcher := command.New(stor, manager, dispatcherOpts...)

	node := &Node{
		config:     cfg,
		storage:    stor,
		manager:    manager,
		dispatcher: dispatcher,
	}

	if role == RoleFollower {
		client := replication.NewClient(cfg.leaderAddr, dispatcher)
		client.SetLogger(logger)
		client.SetRetryDelay(cfg.retryDelay)
		client.SetConnectTimeout(cfg.connectTimeout)
		client.SetSyncTimeout(cfg.syncTimeout)
		if metrics != nil {
			client.SetMetrics(metrics)
		}
		manager.SetClient(client)
		node.client = client
	}

	node.server = server.NewServer(cfg.addr, dispatcher, registry)
	node.server.SetMaxClients(cfg.maxClients)
	node.server.SetIdleTimeout(cfg.idleTimeout)
	node.server.SetLogger(logger)

	dispatcher.AddInfoSection("server", node.serverInfo)

	return node, nil
}

// Start binds the listener and, on a follower, starts replicating.
//
// Failing to bind is the only fatal error; an unreachable leader is
// retried in the background for as long as the node runs. Use
// WaitForSync() to wait for the first synchronization.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil // Already started
	}

	if err := n.server.Start(); err != nil {
		n.config.logger.Error("Failed to start server", Field{Key: "error", Value: err}, Field{Key: "addr", Value: n.config.addr})
		return err
	}
	n.startedAt.Store(time.Now().UnixNano())

	if n.client != nil {
		// The leader learns where this node serves clients
		if port, err := n.port(); err == nil {
			n.client.SetListeningPort(port)
		}
	}

	// Replication outlives ctx; it stops with Close
	if err := n.manager.Start(context.WithoutCancel(ctx)); err != nil {
		n.server.Stop()
		return err
	}

	n.started = true
	n.config.logger.Info("Node started",
		Field{Key: "addr", Value: n.server.Addr()},
		Field{Key: "role", Value: n.manager.Role().String()},
		Field{Key: "replid", Value: n.manager.ReplicationID()},
	)
	return nil
}

// WaitForSync blocks until the first synchronization with the leader
// completes or ctx is done. It returns immediately on a leader.
func (n *Node) WaitForSync(ctx context.Context) error {
	if !n.isStarted() {
		return ErrNotStarted
	}
	return n.manager.WaitForSync(ctx)
}

// OnSyncComplete registers a callback run once when the first
// synchronization completes. On a leader it runs right away.
func (n *Node) OnSyncComplete(fn func()) {
	n.manager.OnSyncComplete(fn)
}

// SyncStatus returns the current synchronization status
func (n *Node) SyncStatus() SyncStatus {
	status := n.manager.SyncStatus()

	return SyncStatus{
		Role:                 status.Role,
		InitialSyncCompleted: status.InitialSyncCompleted,
		Connected:            status.State == replication.StateStreaming,
		MasterAddr:           status.MasterAddr,
		ReplicationID:        status.ReplicationID,
		ReplicationOffset:    n.manager.Offset(),
		LastSyncTime:         status.LastSyncTime,
		BytesReceived:        status.BytesReceived,
		CommandsProcessed:    status.CommandsProcessed,
		ConnectedFollowers:   status.ConnectedFollowers,
	}
}

// Close stops the server, replication and the expiration sweeper
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	// Stop server first
	if err := n.server.Stop(); err != nil {
		n.config.logger.Error("Error stopping server", Field{Key: "error", Value: err})
	}

	if err := n.manager.Stop(); err != nil {
		n.config.logger.Error("Error stopping replication", Field{Key: "error", Value: err})
	}

	return n.storage.Close()
}

// Addr returns the address the node listens on
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Role returns the replication role
func (n *Node) Role() Role {
	return n.manager.Role()
}

// ReplicationID returns the node's replication id. A follower reports the
// id of its leader once it has synchronized.
func (n *Node) ReplicationID() string {
	return n.manager.ReplicationID()
}

// Storage returns the underlying storage for direct access
//
// Writes made here bypass the dispatcher and are not propagated to
// followers.
func (n *Node) Storage() storage.Storage {
	return n.storage
}

// GetInfo returns storage, server and replication statistics
func (n *Node) GetInfo() map[string]interface{} {
	info := n.storage.Info()

	status := n.SyncStatus()
	info["replication"] = map[string]interface{}{
		"role":                   status.Role.String(),
		"replication_id":         status.ReplicationID,
		"connected":              status.Connected,
		"master_addr":            status.MasterAddr,
		"initial_sync_completed": status.InitialSyncCompleted,
		"connected_followers":    status.ConnectedFollowers,
		"commands_processed":     status.CommandsProcessed,
	}
	info["server"] = n.server.Stats()
	info["version"] = VersionInfo()

	return info
}

// serverInfo is the "server" section of INFO
func (n *Node) serverInfo() []command.InfoField {
	port, _ := n.port()

	uptime := int64(0)
	if startedAt := n.startedAt.Load(); startedAt != 0 {
		uptime = int64(time.Since(time.Unix(0, startedAt)).Seconds())
	}

	return []command.InfoField{
		{Key: "redis_version", Value: Version},
		{Key: "redis_mode", Value: "standalone"},
		{Key: "process_id", Value: os.Getpid()},
		{Key: "tcp_port", Value: port},
		{Key: "uptime_in_seconds", Value: uptime},
	}
}

// port returns the port the server is bound to
func (n *Node) port() (int, error) {
	_, port, err := net.SplitHostPort(n.server.Addr())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

// isStarted returns true if the node is started (thread-safe)
func (n *Node) isStarted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started && !n.closed
}
