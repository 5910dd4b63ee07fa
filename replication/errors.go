package replication

import "fmt"

// ConnectError reports a failed attempt to reach the leader
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to leader %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Sync phases reported by SyncError
const (
	PhasePing      = "ping"
	PhaseReplconf  = "replconf"
	PhasePSync     = "psync"
	PhaseSnapshot  = "snapshot"
	PhaseStreaming = "streaming"
)

// SyncError reports a failure during the handshake or the command stream
type SyncError struct {
	Phase string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("replication %s failed: %v", e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// PropagationError reports a follower dropped by the leader
type PropagationError struct {
	Follower string
	Err      error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("propagate to follower %s: %v", e.Follower, e.Err)
}

func (e *PropagationError) Unwrap() error {
	return e.Err
}
