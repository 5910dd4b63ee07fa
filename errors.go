package redislite

import (
	"errors"

	"github.com/raniellyferreira/redis-lite/command"
	"github.com/raniellyferreira/redis-lite/protocol"
	"github.com/raniellyferreira/redis-lite/replication"
)

// Error types for specific failure scenarios
var (
	// ErrNotStarted indicates the node has not been started
	ErrNotStarted = errors.New("node not started")

	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates the node has been closed
	ErrClosed = errors.New("node is closed")
)

// Errors raised by the components of a node, re-exported so callers can
// match them with errors.As without importing the subpackages.
type (
	// ProtocolError is a malformed RESP frame
	ProtocolError = protocol.ProtocolError

	// UnknownCommandError carries a verb with no handler
	UnknownCommandError = command.UnknownCommandError

	// ConnectError is a failed connection attempt to the leader
	ConnectError = replication.ConnectError

	// SyncError is a failed handshake or a lost replication stream
	SyncError = replication.SyncError

	// PropagationError is the reason a follower was dropped by its leader
	PropagationError = replication.PropagationError
)
