package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-lite/protocol"
)

const (
	// DefaultRetryDelay is the fixed delay between connection attempts
	DefaultRetryDelay = time.Second

	// maxSnapshotHead is how much of the snapshot is kept for inspection
	maxSnapshotHead = 64 * 1024
)

// Applier executes commands received from the leader
type Applier interface {
	Apply(cmd *protocol.Command) error
}

// State is the connection state of a follower
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Client mirrors a leader: it connects, performs the handshake, discards
// the snapshot and applies every command that follows on the same
// connection. A lost connection starts over with a full handshake.
type Client struct {
	// Configuration
	masterAddr    string
	applier       Applier
	listeningPort int

	// Connection state
	mu     sync.RWMutex
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	state  State
	replID string

	// Control
	ctx      context.Context
	cancel   context.CancelFunc
	doneChan chan struct{}
	started  int32
	stopped  int32

	// Statistics
	statsMu       sync.RWMutex
	stats         ReplicationStats
	bytesReceived atomic.Int64

	// Callbacks
	onSyncComplete []func()

	logger         Logger
	metrics        MetricsCollector
	connectTimeout time.Duration
	syncTimeout    time.Duration
	retryDelay     time.Duration
}

// ReplicationStats is a snapshot of replication statistics
type ReplicationStats struct {
	State                State
	MasterAddr           string
	ReplicationID        string
	LastSyncTime         time.Time
	SnapshotBytes        int64
	BytesReceived        int64
	CommandsProcessed    int64
	CommandErrors        int64
	ReconnectCount       int64
	InitialSyncCompleted bool
}

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordReconnection()
	RecordError(errorType string)
}

// NewClient creates a replication client for the leader at masterAddr
func NewClient(masterAddr string, applier Applier) *Client {
	return &Client{
		masterAddr:     masterAddr,
		applier:        applier,
		doneChan:       make(chan struct{}),
		stats:          ReplicationStats{MasterAddr: masterAddr},
		connectTimeout: 5 * time.Second,
		syncTimeout:    30 * time.Second,
		retryDelay:     DefaultRetryDelay,
		logger:         &defaultLogger{},
	}
}

// SetListeningPort sets the port announced with REPLCONF listening-port
func (c *Client) SetListeningPort(port int) {
	c.listeningPort = port
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (c *Client) SetMetrics(metrics MetricsCollector) {
	c.metrics = metrics
}

// SetRetryDelay sets the delay between connection attempts
func (c *Client) SetRetryDelay(delay time.Duration) {
	c.retryDelay = delay
}

// SetConnectTimeout sets the connection timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// SetSyncTimeout bounds the handshake and snapshot transfer
func (c *Client) SetSyncTimeout(timeout time.Duration) {
	c.syncTimeout = timeout
}

// Start launches the replication loop. It returns immediately; the loop
// runs until Stop is called or ctx is done.
func (c *Client) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("replication client already started")
	}

	c.logger.Info("Starting replication client", "master", c.masterAddr)

	c.ctx, c.cancel = context.WithCancel(ctx)
	// Closing the connection unblocks a pending read
	context.AfterFunc(c.ctx, c.disconnect)

	go c.run()
	return nil
}

// Stop stops replication and waits for the loop to exit
func (c *Client) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&c.started) == 0 {
		return nil
	}

	c.logger.Info("Stopping replication client")
	c.cancel()

	select {
	case <-c.doneChan:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// Stats returns current replication statistics
func (c *Client) Stats() ReplicationStats {
	state := c.State()

	c.statsMu.RLock()
	stats := c.stats
	c.statsMu.RUnlock()

	stats.State = state
	stats.BytesReceived = c.bytesReceived.Load()
	return stats
}

// OnSyncComplete registers a callback run after every completed handshake
func (c *Client) OnSyncComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSyncComplete = append(c.onSyncComplete, fn)
}

// MasterAddr returns the leader address
func (c *Client) MasterAddr() string {
	return c.masterAddr
}

// State returns the connection state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ReplicationID returns the id learned from the leader's FULLRESYNC, or ""
// before the first handshake
func (c *Client) ReplicationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.replID
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// run is the main replication loop
func (c *Client) run() {
	defer close(c.doneChan)
	defer c.setState(StateDisconnected)

	for c.ctx.Err() == nil {
		c.setState(StateConnecting)
		if err := c.connect(); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error("Connection failed", "error", err)
			c.recordMetricError("connection")
			if !c.wait(c.retryDelay) {
				return
			}
			continue
		}

		if err := c.performSync(); err != nil {
			c.disconnect()
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error("Sync failed", "error", err)
			c.recordMetricError("sync")
			if !c.wait(c.retryDelay) {
				return
			}
			continue
		}

		if err := c.streamCommands(); err != nil {
			c.disconnect()
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error("Streaming failed", "error", err)
			c.recordMetricError("streaming")
		}
	}
}

// wait sleeps for d and reports whether the client is still running
func (c *Client) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// connect establishes connection to the leader
func (c *Client) connect() error {
	c.logger.Debug("Connecting to leader", "addr", c.masterAddr)

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(c.ctx, "tcp", c.masterAddr)
	if err != nil {
		return &ConnectError{Addr: c.masterAddr, Err: err}
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return c.ctx.Err()
	}
	c.conn = conn
	c.reader = protocol.NewReader(&countingReader{r: conn, c: c})
	c.writer = protocol.NewWriter(conn)
	c.mu.Unlock()

	c.updateStats(func(s *ReplicationStats) {
		s.ReconnectCount++
	})
	if c.metrics != nil {
		c.metrics.RecordReconnection()
	}

	c.logger.Info("Connected to leader", "addr", c.masterAddr)
	return nil
}

// disconnect closes the connection
func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// performSync runs the handshake and consumes the snapshot
func (c *Client) performSync() error {
	c.setState(StateHandshaking)
	c.logger.Info("Starting handshake")
	startTime := time.Now()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return &SyncError{Phase: PhasePing, Err: net.ErrClosed}
	}

	if c.syncTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.syncTimeout)); err != nil {
			return &SyncError{Phase: PhasePing, Err: err}
		}
	}

	if _, err := c.roundTrip(PhasePing, "PING"); err != nil {
		return err
	}
	if _, err := c.roundTrip(PhaseReplconf, "REPLCONF", "listening-port", strconv.Itoa(c.listeningPort)); err != nil {
		return err
	}
	if _, err := c.roundTrip(PhaseReplconf, "REPLCONF", "capa", "psync2"); err != nil {
		return err
	}

	response, err := c.roundTrip(PhasePSync, "PSYNC", "?", "-1")
	if err != nil {
		return err
	}

	parts := strings.Fields(response.String())
	if len(parts) < 3 || parts[0] != "FULLRESYNC" {
		return &SyncError{Phase: PhasePSync, Err: fmt.Errorf("unsupported PSYNC response: %s", response.String())}
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return &SyncError{Phase: PhasePSync, Err: fmt.Errorf("invalid offset: %s", parts[2])}
	}
	replID := parts[1]

	if err := c.readSnapshot(); err != nil {
		return &SyncError{Phase: PhaseSnapshot, Err: err}
	}

	// Commands may be arbitrarily far apart once streaming
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return &SyncError{Phase: PhaseSnapshot, Err: err}
	}

	c.mu.Lock()
	c.replID = replID
	c.state = StateStreaming
	callbacks := make([]func(), len(c.onSyncComplete))
	copy(callbacks, c.onSyncComplete)
	c.mu.Unlock()

	syncDuration := time.Since(startTime)
	if c.metrics != nil {
		c.metrics.RecordSyncDuration(syncDuration)
	}

	c.updateStats(func(s *ReplicationStats) {
		s.ReplicationID = replID
		s.LastSyncTime = time.Now()
		s.InitialSyncCompleted = true
	})

	for _, callback := range callbacks {
		callback()
	}

	c.logger.Info("Synchronization completed", "replid", replID, "duration", syncDuration)
	return nil
}

// roundTrip sends one handshake command and reads its reply
func (c *Client) roundTrip(phase string, name string, args ...string) (protocol.Value, error) {
	if err := c.writer.WriteCommand(name, args...); err != nil {
		return protocol.Value{}, &SyncError{Phase: phase, Err: err}
	}
	if err := c.writer.Flush(); err != nil {
		return protocol.Value{}, &SyncError{Phase: phase, Err: err}
	}

	response, err := c.reader.ReadNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("connection closed by leader")
		}
		return protocol.Value{}, &SyncError{Phase: phase, Err: err}
	}
	if response.IsError() {
		return protocol.Value{}, &SyncError{Phase: phase, Err: errors.New(response.Error())}
	}

	c.logger.Debug("Handshake reply", "command", name, "reply", response.String())
	return response, nil
}

// readSnapshot reads and discards the snapshot, inspecting its header
func (c *Client) readSnapshot() error {
	var head bytes.Buffer
	var size int64

	err := c.reader.ReadSnapshot(func(chunk []byte) error {
		size += int64(len(chunk))
		if room := maxSnapshotHead - head.Len(); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			head.Write(chunk)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.updateStats(func(s *ReplicationStats) {
		s.SnapshotBytes = size
	})

	info, err := InspectSnapshot(&head)
	if err != nil {
		c.logger.Error("Snapshot header unreadable, discarding it", "bytes", size, "error", err)
		return nil
	}

	c.logger.Debug("Snapshot received", "bytes", size, "version", info.Version, "aux", info.Aux)
	if info.HasData {
		c.logger.Info("Snapshot holds keys that are not loaded", "bytes", size)
	}
	return nil
}

// streamCommands applies replication commands until the stream breaks
func (c *Client) streamCommands() error {
	c.logger.Debug("Starting command streaming")

	for {
		cmd, err := c.reader.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("connection closed by leader")
			}
			return &SyncError{Phase: PhaseStreaming, Err: err}
		}

		if err := c.applier.Apply(cmd); err != nil {
			c.logger.Error("Command apply failed", "command", cmd.Name, "error", err)
			c.recordMetricError("apply")
			c.updateStats(func(s *ReplicationStats) {
				s.CommandErrors++
			})
			continue
		}

		c.updateStats(func(s *ReplicationStats) {
			s.CommandsProcessed++
		})
	}
}

// updateStats atomically updates statistics
func (c *Client) updateStats(fn func(*ReplicationStats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	fn(&c.stats)
}

// recordMetricError records an error metric
func (c *Client) recordMetricError(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordError(errorType)
	}
}

// countingReader counts the bytes read from the leader
type countingReader struct {
	r io.Reader
	c *Client
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.c.bytesReceived.Add(int64(n))
		if cr.c.metrics != nil {
			cr.c.metrics.RecordNetworkBytes(int64(n))
		}
	}
	return n, err
}

// defaultLogger discards everything
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, fields ...interface{}) {}
func (l *defaultLogger) Info(msg string, fields ...interface{})  {}
func (l *defaultLogger) Error(msg string, fields ...interface{}) {}
