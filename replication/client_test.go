package replication

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-lite/protocol"
)

// recordingApplier collects applied commands
type recordingApplier struct {
	mu      sync.Mutex
	applied []string
	signal  chan struct{}
	fail    string
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{signal: make(chan struct{}, 100)}
}

func (a *recordingApplier) Apply(cmd *protocol.Command) error {
	a.mu.Lock()
	a.applied = append(a.applied, cmd.String())
	a.mu.Unlock()
	a.signal <- struct{}{}

	if cmd.Name == a.fail {
		return errors.New("rejected")
	}
	return nil
}

func (a *recordingApplier) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.applied...)
}

func (a *recordingApplier) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-a.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d commands", i, n)
		}
	}
}

// fakeLeader accepts followers and records their handshakes
type fakeLeader struct {
	t          *testing.T
	ln         net.Listener
	psyncReply string
	handshakes chan []string
	conns      chan net.Conn
}

const testPSyncReply = "FULLRESYNC 0123456789abcdefghij0123456789abcdefghij 0"

func newFakeLeader(t *testing.T, psyncReply string) *fakeLeader {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	l := &fakeLeader{
		t:          t,
		ln:         ln,
		psyncReply: psyncReply,
		handshakes: make(chan []string, 10),
		conns:      make(chan net.Conn, 10),
	}
	go l.serve()
	t.Cleanup(func() { ln.Close() })
	return l
}

func (l *fakeLeader) addr() string {
	return l.ln.Addr().String()
}

func (l *fakeLeader) serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		go l.handshake(conn)
	}
}

func (l *fakeLeader) handshake(conn net.Conn) {
	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	var received []string
	replies := []string{"PONG", "OK", "OK"}
	for i := 0; i < 4; i++ {
		cmd, err := reader.ReadCommand()
		if err != nil {
			conn.Close()
			return
		}
		received = append(received, cmd.String())

		if i < len(replies) {
			writer.WriteSimpleString(replies[i])
		} else if l.psyncReply[0] == '-' {
			writer.WriteError(l.psyncReply[1:])
		} else {
			writer.WriteSimpleString(l.psyncReply)
			writer.WriteSnapshot(EmptySnapshot())
		}
		writer.Flush()
	}

	l.handshakes <- received
	l.conns <- conn
}

func (l *fakeLeader) nextFollower(t *testing.T) ([]string, net.Conn) {
	t.Helper()
	select {
	case received := <-l.handshakes:
		return received, <-l.conns
	case <-time.After(3 * time.Second):
		t.Fatal("no follower completed the handshake")
		return nil, nil
	}
}

func send(t *testing.T, conn net.Conn, cmds ...*protocol.Command) {
	t.Helper()
	for _, cmd := range cmds {
		if _, err := conn.Write(protocol.Encode(cmd.Value())); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func startClient(t *testing.T, addr string, applier Applier) (*Client, *testLogger) {
	t.Helper()
	logger := &testLogger{t: t}
	client := NewClient(addr, applier)
	client.SetListeningPort(6380)
	client.SetRetryDelay(20 * time.Millisecond)
	client.SetLogger(logger)

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return client, logger
}

// waitForStats polls until cond holds; the stats are updated after Apply returns
func waitForStats(t *testing.T, client *Client, cond func(ReplicationStats) bool) ReplicationStats {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	stats := client.Stats()
	for !cond(stats) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		stats = client.Stats()
	}
	return stats
}

func TestClientHandshakeAndStream(t *testing.T) {
	leader := newFakeLeader(t, testPSyncReply)
	applier := newRecordingApplier()
	client, _ := startClient(t, leader.addr(), applier)

	received, conn := leader.nextFollower(t)
	want := []string{
		"PING",
		"REPLCONF listening-port 6380",
		"REPLCONF capa psync2",
		"PSYNC ? -1",
	}
	if len(received) != len(want) {
		t.Fatalf("handshake = %q, want %q", received, want)
	}
	for i := range want {
		if received[i] != want[i] {
			t.Errorf("handshake[%d] = %q, want %q", i, received[i], want[i])
		}
	}

	// Commands can follow the snapshot in the same segment
	send(t, conn,
		protocol.NewCommand("SET", "a", "1"),
		protocol.NewCommand("SET", "b", "2", "PX", "500"),
		protocol.NewCommand("DEL", "a"),
	)
	applier.waitFor(t, 3)

	got := applier.commands()
	wantCmds := []string{"SET a 1", "SET b 2 PX 500", "DEL a"}
	for i := range wantCmds {
		if got[i] != wantCmds[i] {
			t.Errorf("applied[%d] = %q, want %q", i, got[i], wantCmds[i])
		}
	}

	if client.State() != StateStreaming {
		t.Errorf("State() = %v, want streaming", client.State())
	}
	if id := client.ReplicationID(); id != "0123456789abcdefghij0123456789abcdefghij" {
		t.Errorf("ReplicationID() = %q", id)
	}

	// Nothing is written back on the replication connection
	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if n, err := conn.Read(make([]byte, 16)); n != 0 || err == nil {
		t.Errorf("follower wrote %d bytes (err %v)", n, err)
	}

	stats := waitForStats(t, client, func(s ReplicationStats) bool { return s.CommandsProcessed == 3 })
	if stats.CommandsProcessed != 3 {
		t.Errorf("CommandsProcessed = %d, want 3", stats.CommandsProcessed)
	}
	if stats.SnapshotBytes != int64(len(EmptySnapshot())) {
		t.Errorf("SnapshotBytes = %d, want %d", stats.SnapshotBytes, len(EmptySnapshot()))
	}
	if !stats.InitialSyncCompleted {
		t.Error("InitialSyncCompleted = false")
	}
}

func TestClientApplyErrorKeepsStreaming(t *testing.T) {
	leader := newFakeLeader(t, testPSyncReply)
	applier := newRecordingApplier()
	applier.fail = "BOGUS"
	client, _ := startClient(t, leader.addr(), applier)

	_, conn := leader.nextFollower(t)
	send(t, conn,
		protocol.NewCommand("BOGUS"),
		protocol.NewCommand("SET", "k", "v"),
	)
	applier.waitFor(t, 2)

	stats := waitForStats(t, client, func(s ReplicationStats) bool {
		return s.CommandErrors == 1 && s.CommandsProcessed == 1
	})
	if stats.CommandErrors != 1 || stats.CommandsProcessed != 1 {
		t.Errorf("CommandErrors = %d, CommandsProcessed = %d, want 1 and 1", stats.CommandErrors, stats.CommandsProcessed)
	}
}

func TestClientReconnectsAfterStreamLoss(t *testing.T) {
	leader := newFakeLeader(t, testPSyncReply)
	applier := newRecordingApplier()
	startClient(t, leader.addr(), applier)

	_, conn := leader.nextFollower(t)
	send(t, conn, protocol.NewCommand("SET", "a", "1"))
	applier.waitFor(t, 1)
	conn.Close()

	// A full handshake runs again on the new connection
	received, conn := leader.nextFollower(t)
	if received[0] != "PING" || received[3] != "PSYNC ? -1" {
		t.Errorf("second handshake = %q", received)
	}
	send(t, conn, protocol.NewCommand("SET", "b", "2"))
	applier.waitFor(t, 1)
}

func TestClientRetriesConnection(t *testing.T) {
	// Reserve a port with nothing listening on it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client, logger := startClient(t, addr, newRecordingApplier())

	deadline := time.Now().Add(2 * time.Second)
	for len(logger.loggedErrors()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	errs := logger.loggedErrors()
	if len(errs) < 2 {
		t.Fatalf("logged %d connection errors, want at least 2", len(errs))
	}
	var connectErr *ConnectError
	if err, ok := errs[0].(error); !ok || !errors.As(err, &connectErr) {
		t.Fatalf("logged error = %v, want *ConnectError", errs[0])
	}
	if connectErr.Addr != addr {
		t.Errorf("ConnectError.Addr = %q, want %q", connectErr.Addr, addr)
	}
	if client.State() == StateStreaming {
		t.Error("client should not be streaming")
	}
}

func TestClientRejectedPSync(t *testing.T) {
	leader := newFakeLeader(t, "-ERR PSYNC is only supported by a leader")
	_, logger := startClient(t, leader.addr(), newRecordingApplier())

	deadline := time.Now().Add(2 * time.Second)
	for len(logger.loggedErrors()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	errs := logger.loggedErrors()
	if len(errs) == 0 {
		t.Fatal("no sync error logged")
	}
	var syncErr *SyncError
	if err, ok := errs[0].(error); !ok || !errors.As(err, &syncErr) {
		t.Fatalf("logged error = %v, want *SyncError", errs[0])
	}
	if syncErr.Phase != PhasePSync {
		t.Errorf("Phase = %q, want %q", syncErr.Phase, PhasePSync)
	}
}

func TestClientStopWhileStreaming(t *testing.T) {
	leader := newFakeLeader(t, testPSyncReply)
	client := NewClient(leader.addr(), newRecordingApplier())
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	leader.nextFollower(t)

	done := make(chan error, 1)
	go func() { done <- client.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked on a streaming connection")
	}

	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", client.State())
	}
	if err := client.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestClientStatsSnapshot(t *testing.T) {
	client := NewClient("127.0.0.1:6379", newRecordingApplier())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				client.updateStats(func(s *ReplicationStats) { s.CommandsProcessed++ })
				_ = client.Stats()
			}
		}()
	}
	wg.Wait()

	stats := client.Stats()
	if stats.CommandsProcessed != 400 {
		t.Errorf("CommandsProcessed = %d, want 400", stats.CommandsProcessed)
	}
	if stats.State != StateDisconnected {
		t.Errorf("State = %v, want disconnected", stats.State)
	}

	// The snapshot is a copy
	stats.MasterAddr = "elsewhere:1"
	stats.CommandsProcessed = 0
	if again := client.Stats(); again.MasterAddr != "127.0.0.1:6379" || again.CommandsProcessed != 400 {
		t.Errorf("Stats() after changing a snapshot = %+v", again)
	}
}
