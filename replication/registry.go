package replication

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-lite/protocol"
)

const (
	// DefaultQueueSize is the number of commands buffered per follower
	DefaultQueueSize = 1024

	// DefaultWriteTimeout bounds a single write to a follower
	DefaultWriteTimeout = 10 * time.Second
)

var (
	// ErrQueueFull is the reason a follower is dropped when it falls behind
	ErrQueueFull = errors.New("outbound queue full")

	// ErrRegistryClosed is returned by Add after Close
	ErrRegistryClosed = errors.New("registry closed")
)

// Follower is a connection registered with a leader
type Follower struct {
	id    int64
	conn  net.Conn
	addr  string
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// Addr returns the follower's remote address
func (f *Follower) Addr() string {
	return f.addr
}

// Registry tracks the followers of a leader. Every follower has a bounded
// queue drained by its own sender goroutine, so a slow follower never
// blocks the connection that accepted the write.
type Registry struct {
	mu        sync.Mutex
	followers []*Follower
	nextID    int64
	closed    bool
	wg        sync.WaitGroup

	queueSize    int
	writeTimeout time.Duration
	logger       Logger
	metrics      MetricsCollector
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		logger:       &defaultLogger{},
	}
}

// SetQueueSize sets the queue size of followers added afterwards
func (r *Registry) SetQueueSize(size int) {
	if size > 0 {
		r.queueSize = size
	}
}

// SetWriteTimeout sets the write timeout, 0 for none
func (r *Registry) SetWriteTimeout(timeout time.Duration) {
	r.writeTimeout = timeout
}

// SetLogger sets the logger
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (r *Registry) SetMetrics(metrics MetricsCollector) {
	r.metrics = metrics
}

// Add registers conn as a follower. The sender writes preamble before any
// propagated command; it carries the snapshot.
func (r *Registry) Add(conn net.Conn, preamble []byte) (*Follower, error) {
	f := &Follower{
		conn:  conn,
		addr:  conn.RemoteAddr().String(),
		queue: make(chan []byte, r.queueSize),
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.nextID++
	f.id = r.nextID
	r.followers = append(r.followers, f)
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("Follower registered", "addr", f.addr, "id", f.id)
	go r.send(f, preamble)
	return f, nil
}

// Publish queues cmd for every follower in registration order. A follower
// whose queue is full is dropped. It returns the number of followers the
// command was queued for.
func (r *Registry) Publish(cmd *protocol.Command) int {
	payload := protocol.Encode(cmd.Value())

	var lagging []*Follower
	queued := 0

	r.mu.Lock()
	for _, f := range r.followers {
		select {
		case f.queue <- payload:
			queued++
		default:
			lagging = append(lagging, f)
		}
	}
	r.mu.Unlock()

	for _, f := range lagging {
		r.Remove(f, &PropagationError{Follower: f.addr, Err: ErrQueueFull})
	}
	return queued
}

// Remove drops a follower and closes its connection. reason is nil for a
// follower that went away on its own.
func (r *Registry) Remove(f *Follower, reason error) {
	f.once.Do(func() {
		r.mu.Lock()
		for i, other := range r.followers {
			if other == f {
				r.followers = append(r.followers[:i], r.followers[i+1:]...)
				break
			}
		}
		r.mu.Unlock()

		close(f.done)
		f.conn.Close()

		if reason != nil {
			r.logger.Error("Follower dropped", "addr", f.addr, "error", reason)
			if r.metrics != nil {
				r.metrics.RecordError("propagation")
			}
			return
		}
		r.logger.Info("Follower disconnected", "addr", f.addr)
	})
}

// Len returns the number of registered followers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.followers)
}

// Addrs returns the followers' addresses in registration order
func (r *Registry) Addrs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	addrs := make([]string, len(r.followers))
	for i, f := range r.followers {
		addrs[i] = f.addr
	}
	return addrs
}

// Close drops every follower and waits for the senders to exit
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	followers := append([]*Follower(nil), r.followers...)
	r.mu.Unlock()

	for _, f := range followers {
		r.Remove(f, nil)
	}
	r.wg.Wait()
}

// send drains a follower's queue onto its connection
func (r *Registry) send(f *Follower, preamble []byte) {
	defer r.wg.Done()

	w := bufio.NewWriter(f.conn)
	write := func(payload []byte, flush bool) error {
		if r.writeTimeout > 0 {
			if err := f.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
				return err
			}
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.RecordNetworkBytes(int64(len(payload)))
		}
		if flush {
			return w.Flush()
		}
		return nil
	}

	if len(preamble) > 0 {
		if err := write(preamble, true); err != nil {
			r.Remove(f, &PropagationError{Follower: f.addr, Err: err})
			return
		}
	}

	for {
		select {
		case payload := <-f.queue:
			// Flush once the queue is drained so bursts share a write
			if err := write(payload, len(f.queue) == 0); err != nil {
				r.Remove(f, &PropagationError{Follower: f.addr, Err: err})
				return
			}
		case <-f.done:
			return
		}
	}
}
