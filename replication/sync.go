package replication

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-lite/command"
)

// Role is the fixed replication role of a node
type Role int

const (
	// RoleLeader accepts writes and streams them to followers
	RoleLeader Role = iota
	// RoleFollower mirrors a leader and rejects client writes
	RoleFollower
)

// String returns the role name INFO reports
func (r Role) String() string {
	if r == RoleLeader {
		return "master"
	}
	return "slave"
}

const replicationIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ReplicationIDLength is the length of a replication id
const ReplicationIDLength = 40

// NewReplicationID returns 40 random alphanumeric characters
func NewReplicationID() string {
	// Bytes at or above limit are dropped so every character is equally likely
	limit := 256 - 256%len(replicationIDAlphabet)

	id := make([]byte, 0, ReplicationIDLength)
	buf := make([]byte, ReplicationIDLength)
	for len(id) < ReplicationIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("replication: read random bytes: %v", err))
		}
		for _, b := range buf {
			if int(b) < limit && len(id) < ReplicationIDLength {
				id = append(id, replicationIDAlphabet[int(b)%len(replicationIDAlphabet)])
			}
		}
	}
	return string(id)
}

// Manager holds the replication role and identity of a node. A leader
// owns a Registry of followers; a follower owns the Client that mirrors
// its leader.
type Manager struct {
	role     Role
	replID   string
	client   *Client
	registry *Registry

	mu              sync.RWMutex
	initialSyncDone bool
	syncCallbacks   []func()
}

// SyncStatus represents the current synchronization status
type SyncStatus struct {
	Role                 Role
	InitialSyncCompleted bool
	State                State
	MasterAddr           string
	ReplicationID        string
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
	ConnectedFollowers   int
}

// NewManager creates a manager with a fresh replication id
func NewManager(role Role) *Manager {
	return &Manager{
		role:   role,
		replID: NewReplicationID(),
	}
}

// SetClient attaches the follower's replication client
func (m *Manager) SetClient(client *Client) {
	m.client = client
	client.OnSyncComplete(m.syncComplete)
}

// SetRegistry attaches the leader's follower registry
func (m *Manager) SetRegistry(registry *Registry) {
	m.registry = registry
}

// Role returns the replication role
func (m *Manager) Role() Role {
	return m.role
}

// IsLeader reports whether the node is a leader
func (m *Manager) IsLeader() bool {
	return m.role == RoleLeader
}

// ReplicationID returns the node's own id, or on a follower that has
// synchronized, the id learned from its leader
func (m *Manager) ReplicationID() string {
	if m.client != nil {
		if id := m.client.ReplicationID(); id != "" {
			return id
		}
	}
	return m.replID
}

// Offset returns the replication offset. Offsets are not tracked, so it
// is always zero.
func (m *Manager) Offset() int64 {
	return 0
}

// InfoFields returns the replication section of INFO
func (m *Manager) InfoFields() []command.InfoField {
	fields := []command.InfoField{{Key: "role", Value: m.role.String()}}

	if m.role == RoleFollower && m.client != nil {
		host, port, err := net.SplitHostPort(m.client.MasterAddr())
		if err != nil {
			host, port = m.client.MasterAddr(), ""
		}
		status := "down"
		if m.client.State() == StateStreaming {
			status = "up"
		}
		fields = append(fields,
			command.InfoField{Key: "master_host", Value: host},
			command.InfoField{Key: "master_port", Value: port},
			command.InfoField{Key: "master_link_status", Value: status},
		)
	}

	followers := 0
	if m.registry != nil {
		followers = m.registry.Len()
	}
	fields = append(fields, command.InfoField{Key: "connected_slaves", Value: followers})
	if m.registry != nil {
		for i, addr := range m.registry.Addrs() {
			host, port, _ := net.SplitHostPort(addr)
			fields = append(fields, command.InfoField{
				Key:   fmt.Sprintf("slave%d", i),
				Value: fmt.Sprintf("ip=%s,port=%s,state=online,offset=0,lag=0", host, port),
			})
		}
	}

	return append(fields,
		command.InfoField{Key: "master_replid", Value: m.ReplicationID()},
		command.InfoField{Key: "master_repl_offset", Value: m.Offset()},
	)
}

// Start begins mirroring the leader. It is a no-op on a leader.
func (m *Manager) Start(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Start(ctx)
}

// Stop stops the follower client and drops every follower of a leader
func (m *Manager) Stop() error {
	if m.registry != nil {
		m.registry.Close()
	}
	if m.client != nil {
		return m.client.Stop()
	}
	return nil
}

// WaitForSync blocks until the first synchronization with the leader
// completes. A leader returns immediately.
func (m *Manager) WaitForSync(ctx context.Context) error {
	if m.role == RoleLeader {
		return nil
	}

	syncDone := make(chan struct{})

	m.mu.Lock()
	if m.initialSyncDone {
		m.mu.Unlock()
		return nil
	}
	m.syncCallbacks = append(m.syncCallbacks, func() {
		close(syncDone)
	})
	m.mu.Unlock()

	select {
	case <-syncDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSyncComplete registers a callback for when initial sync completes
func (m *Manager) OnSyncComplete(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialSyncDone || m.role == RoleLeader {
		go fn()
		return
	}

	m.syncCallbacks = append(m.syncCallbacks, fn)
}

// syncComplete runs the pending callbacks once, on the first sync
func (m *Manager) syncComplete() {
	m.mu.Lock()
	if m.initialSyncDone {
		m.mu.Unlock()
		return
	}
	m.initialSyncDone = true
	callbacks := m.syncCallbacks
	m.syncCallbacks = nil
	m.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}

// SyncStatus returns the current synchronization status
func (m *Manager) SyncStatus() SyncStatus {
	m.mu.RLock()
	status := SyncStatus{
		Role:                 m.role,
		InitialSyncCompleted: m.initialSyncDone || m.role == RoleLeader,
		ReplicationID:        m.ReplicationID(),
	}
	m.mu.RUnlock()

	if m.registry != nil {
		status.ConnectedFollowers = m.registry.Len()
	}
	if m.client != nil {
		stats := m.client.Stats()
		status.State = stats.State
		status.MasterAddr = stats.MasterAddr
		status.LastSyncTime = stats.LastSyncTime
		status.BytesReceived = stats.BytesReceived
		status.CommandsProcessed = stats.CommandsProcessed
	}
	return status
}
