package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-lite/command"
	"github.com/raniellyferreira/redis-lite/protocol"
	"github.com/raniellyferreira/redis-lite/replication"
)

// DefaultMaxClients is the connection limit when none is configured
const DefaultMaxClients = 100

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Server accepts client connections and runs each through the dispatcher
type Server struct {
	dispatcher *command.Dispatcher
	registry   *replication.Registry // nil on a follower

	// Server configuration
	addr        string
	maxClients  int
	idleTimeout time.Duration
	logger      Logger

	// Connection management
	listener net.Listener
	clients  sync.Map // map[net.Conn]*Client
	slots    chan struct{}

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	connCount    int64
	commandCount int64
	errorCount   int64
	mu           sync.RWMutex
}

// Client represents a connected client
type Client struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	follower *replication.Follower
	lastCmd  time.Time
	once     sync.Once
}

// NewServer creates a server that executes commands with dispatcher.
// registry receives followers handed over by PSYNC and may be nil when the
// node is not a leader. The server registers the "clients" INFO section.
func NewServer(addr string, dispatcher *command.Dispatcher, registry *replication.Registry) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		dispatcher: dispatcher,
		registry:   registry,
		addr:       addr,
		maxClients: DefaultMaxClients,
		logger:     &nopLogger{},
		ctx:        ctx,
		cancel:     cancel,
	}
	dispatcher.AddInfoSection("clients", s.clientsInfo)
	return s
}

// SetMaxClients bounds the number of concurrent connections. It must be
// called before Start.
func (s *Server) SetMaxClients(n int) {
	if n > 0 {
		s.maxClients = n
	}
}

// SetIdleTimeout closes client connections that send nothing for d.
// Zero disables the timeout.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.idleTimeout = d
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start binds the listener and starts accepting connections
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.slots = make(chan struct{}, s.maxClients)
	s.logger.Info("Server listening", "addr", s.listener.Addr().String(), "max_clients", s.maxClients)

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop closes the listener and every client connection and waits for
// their goroutines to finish
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close()
		}
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"connected_clients": s.clientCount(),
		"total_commands":    s.commandCount,
		"total_errors":      s.errorCount,
		"total_connections": s.connCount,
	}
}

func (s *Server) clientCount() int {
	count := 0
	s.clients.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

func (s *Server) clientsInfo() []command.InfoField {
	s.mu.RLock()
	total := s.connCount
	s.mu.RUnlock()

	return []command.InfoField{
		{Key: "connected_clients", Value: s.clientCount()},
		{Key: "maxclients", Value: s.maxClients},
		{Key: "total_connections_received", Value: total},
	}
}

// acceptConnections accepts new client connections. A slot is taken before
// each Accept and given back when the connection closes, so at most
// maxClients connections are served at once.
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		select {
		case s.slots <- struct{}{}:
		case <-s.ctx.Done():
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			<-s.slots
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			s.logger.Error("Accept failed", "error", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient registers conn and starts its loop
func (s *Server) handleNewClient(conn net.Conn) {
	s.mu.Lock()
	s.connCount++
	s.mu.Unlock()

	client := &Client{
		conn:    conn,
		reader:  protocol.NewReader(conn),
		writer:  protocol.NewWriter(conn),
		server:  s,
		lastCmd: time.Now(),
	}

	s.clients.Store(conn, client)
	s.logger.Debug("Client connected", "remote", conn.RemoteAddr().String())

	s.wg.Add(1)
	go client.handle()
}

// Close closes the client connection and releases its slot
func (c *Client) Close() {
	c.once.Do(func() {
		c.conn.Close()
		c.server.clients.Delete(c.conn)
		<-c.server.slots
	})
}

// handle runs the read, dispatch, reply loop until the connection ends
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		if c.server.idleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.server.idleTimeout))
		}

		cmd, err := c.reader.ReadCommand()
		if err != nil {
			c.logDisconnect(err)
			return
		}

		c.lastCmd = time.Now()
		result, err := c.executeCommand(cmd)
		if err != nil {
			c.server.logger.Error("Reply write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			return
		}

		if result.FullResync {
			c.serveFollower()
			return
		}
		if result.Close {
			return
		}
	}
}

// executeCommand dispatches cmd and writes the reply. Writes reach the
// followers through the dispatcher's publisher before the reply is sent.
func (c *Client) executeCommand(cmd *protocol.Command) (command.Result, error) {
	c.server.mu.Lock()
	c.server.commandCount++
	c.server.mu.Unlock()

	result, err := c.server.dispatcher.Dispatch(cmd)
	if err != nil {
		c.server.logger.Debug("Command rejected", "command", cmd.Name, "error", err)
	}
	if result.Reply.IsError() {
		c.server.mu.Lock()
		c.server.errorCount++
		c.server.mu.Unlock()
	}

	if err := c.writer.WriteValue(result.Reply); err != nil {
		return result, err
	}
	if err := c.writer.Flush(); err != nil {
		return result, err
	}
	return result, nil
}

// serveFollower hands the connection to the registry after a PSYNC. The
// registry's sender owns all writes from here on; this goroutine only
// reads, so a half-closed socket removes the follower.
func (c *Client) serveFollower() {
	registry := c.server.registry
	if registry == nil {
		return
	}

	c.conn.SetReadDeadline(time.Time{})

	follower, err := registry.Add(c.conn, replication.SnapshotFrame())
	if err != nil {
		c.server.logger.Error("Follower registration failed", "remote", c.conn.RemoteAddr().String(), "error", err)
		return
	}
	c.follower = follower
	c.server.logger.Info("Follower attached", "follower", follower.Addr())

	var reason error
	for {
		if _, err := c.reader.ReadNext(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				reason = err
			}
			break
		}
	}
	registry.Remove(follower, reason)
}

func (c *Client) logDisconnect(err error) {
	remote := c.conn.RemoteAddr().String()

	var protoErr *protocol.ProtocolError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.server.logger.Debug("Client disconnected", "remote", remote)
	case errors.As(err, &protoErr):
		c.server.mu.Lock()
		c.server.errorCount++
		c.server.mu.Unlock()
		c.server.logger.Error("Closing connection on malformed frame", "remote", remote, "error", err)
	default:
		c.server.logger.Debug("Client connection ended", "remote", remote, "error", err)
	}
}

type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{}) {}
func (l *nopLogger) Info(msg string, fields ...interface{})  {}
func (l *nopLogger) Error(msg string, fields ...interface{}) {}
