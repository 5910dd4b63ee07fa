package command

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-lite/lua"
	"github.com/raniellyferreira/redis-lite/protocol"
	"github.com/raniellyferreira/redis-lite/storage"
)

// Result is the outcome of dispatching one client command
type Result struct {
	Reply protocol.Value

	// Propagate is set on a leader when the command changed the keyspace.
	// Forward is the command to send to followers; it differs from the
	// request when an EVALSHA is rewritten to EVAL.
	Propagate bool
	Forward   *protocol.Command

	// FullResync is set when the connection asked to become a follower
	FullResync bool

	// Close is set by QUIT; the connection closes after the reply is written
	Close bool
}

// ReplicationState is the view of the replication role the dispatcher needs
type ReplicationState interface {
	IsLeader() bool
	ReplicationID() string
	Offset() int64
	InfoFields() []InfoField
}

// Publisher receives the writes a leader streams to its followers
type Publisher interface {
	Publish(cmd *protocol.Command) int
}

// Logger interface for command logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for command metrics
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordError(errorType string)
}

// Dispatcher executes commands against a store. It is shared by every
// connection and by the replication stream.
type Dispatcher struct {
	store    storage.Storage
	repl     ReplicationState
	scripts  *lua.Engine
	readOnly bool
	logger   Logger
	metrics  MetricsCollector
	info     *infoSections

	// Held across a write and its publication so followers receive
	// writes in the order the store applied them
	writeMu   sync.Mutex
	publisher Publisher

	commandsProcessed atomic.Int64
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithReadOnly rejects client writes with a READONLY error. Commands
// applied from the replication stream are not affected.
func WithReadOnly(readOnly bool) Option {
	return func(d *Dispatcher) {
		d.readOnly = readOnly
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithPublisher streams the writes of a leader to publisher
func WithPublisher(publisher Publisher) Option {
	return func(d *Dispatcher) {
		d.publisher = publisher
	}
}

// WithScriptEngine shares a Lua engine, and its script cache, between dispatchers
func WithScriptEngine(engine *lua.Engine) Option {
	return func(d *Dispatcher) {
		if engine != nil {
			d.scripts = engine
		}
	}
}

// WithInfoSection adds an INFO section
func WithInfoSection(name string, fn func() []InfoField) Option {
	return func(d *Dispatcher) {
		d.info.add(name, fn)
	}
}

// New creates a dispatcher over store
func New(store storage.Storage, repl ReplicationState, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		repl:    repl,
		scripts: lua.NewEngine(),
		logger:  &nopLogger{},
		info:    newInfoSections(),
	}

	d.info.add("replication", d.replicationInfo)
	d.info.add("stats", d.statsInfo)
	d.info.add("keyspace", d.keyspaceInfo)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddInfoSection registers an INFO section after construction, for
// components built after the dispatcher
func (d *Dispatcher) AddInfoSection(name string, fn func() []InfoField) {
	d.info.add(name, fn)
}

// call carries the context of one execution
type call struct {
	replica bool // from the leader stream
	script  bool // issued by redis.call inside a script
	wrote   bool
	forward *protocol.Command
	resync  bool
	close   bool
}

// Dispatch executes a command sent by a client. Error replies are returned
// in Result.Reply; the error is non-nil only for an unknown verb. On a
// leader with a publisher, a write is published before Dispatch returns.
func (d *Dispatcher) Dispatch(cmd *protocol.Command) (Result, error) {
	if d.publisher != nil && mayWrite(cmd.Name) {
		d.writeMu.Lock()
		defer d.writeMu.Unlock()
	}

	start := time.Now()
	c := &call{}
	reply, err := d.execute(c, cmd)
	d.record(cmd, start, reply, err)

	result := Result{
		Reply:      reply,
		FullResync: c.resync,
		Close:      c.close,
	}
	if c.wrote && d.repl.IsLeader() {
		result.Propagate = true
		result.Forward = cmd
		if c.forward != nil {
			result.Forward = c.forward
		}
		if d.publisher != nil {
			d.publisher.Publish(result.Forward)
		}
	}
	return result, err
}

// Apply executes a command received from the leader. Nothing is replied
// and nothing propagates.
func (d *Dispatcher) Apply(cmd *protocol.Command) error {
	start := time.Now()
	c := &call{replica: true}
	reply, err := d.execute(c, cmd)
	d.record(cmd, start, reply, err)
	if err != nil {
		return err
	}
	if reply.IsError() {
		return &ReplyError{Command: cmd.Name, Message: reply.Error()}
	}
	return nil
}

func (d *Dispatcher) record(cmd *protocol.Command, start time.Time, reply protocol.Value, err error) {
	d.commandsProcessed.Add(1)
	if d.metrics == nil {
		return
	}
	d.metrics.RecordCommandProcessed(cmd.Name, time.Since(start))
	switch {
	case err != nil:
		d.metrics.RecordError("unknown_command")
	case reply.IsError():
		d.metrics.RecordError("command_error")
	}
}

func isWrite(name string) bool {
	switch name {
	case "SET", "DEL":
		return true
	}
	return false
}

// mayWrite reports whether a client command can change the keyspace
func mayWrite(name string) bool {
	switch name {
	case "SET", "DEL", "EVAL", "EVALSHA":
		return true
	}
	return false
}

// execute runs one command
func (d *Dispatcher) execute(c *call, cmd *protocol.Command) (protocol.Value, error) {
	if c.script {
		switch cmd.Name {
		case "EVAL", "EVALSHA", "SCRIPT", "PSYNC", "REPLCONF", "QUIT":
			return protocol.ErrorValue(errNotFromScript), nil
		}
	}

	if isWrite(cmd.Name) && d.readOnly && !c.replica {
		return protocol.ErrorValue(errReadOnly), nil
	}

	switch cmd.Name {
	case "PING":
		return d.handlePing(cmd), nil
	case "ECHO":
		return d.handleEcho(cmd), nil
	case "SET":
		return d.handleSet(c, cmd), nil
	case "GET":
		return d.handleGet(cmd), nil
	case "DEL":
		return d.handleDel(c, cmd), nil
	case "EXISTS":
		return d.handleExists(cmd), nil
	case "TTL":
		return d.handleTTL(cmd, false), nil
	case "PTTL":
		return d.handleTTL(cmd, true), nil
	case "KEYS":
		return d.handleKeys(cmd), nil
	case "DBSIZE":
		return d.handleDBSize(cmd), nil
	case "INFO":
		return d.handleInfo(cmd), nil
	case "REPLCONF":
		return protocol.SimpleString("OK"), nil
	case "PSYNC":
		return d.handlePSync(c, cmd), nil
	case "EVAL":
		return d.handleEval(c, cmd), nil
	case "EVALSHA":
		return d.handleEvalSHA(c, cmd), nil
	case "SCRIPT":
		return d.handleScript(cmd), nil
	case "QUIT":
		c.close = true
		return protocol.SimpleString("OK"), nil
	default:
		d.logger.Debug("Unknown command", "command", cmd.Name)
		return protocol.ErrorValue("ERR unknown command '" + cmd.Name + "'"), &UnknownCommandError{Name: cmd.Name}
	}
}

// handlePing handles PING command
func (d *Dispatcher) handlePing(cmd *protocol.Command) protocol.Value {
	switch len(cmd.Args) {
	case 0:
		return protocol.SimpleString("PONG")
	case 1:
		return protocol.BulkString(cmd.Args[0])
	default:
		return protocol.ErrorValue(wrongArity("ping"))
	}
}

// handleEcho handles ECHO command
func (d *Dispatcher) handleEcho(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return protocol.ErrorValue(wrongArity("echo"))
	}
	// A simple string cannot carry line breaks
	if strings.ContainsAny(cmd.Arg(0), "\r\n") {
		return protocol.BulkString(cmd.Args[0])
	}
	return protocol.SimpleString(cmd.Arg(0))
}

// handleSet handles SET key value [PX milliseconds | EX seconds]
func (d *Dispatcher) handleSet(c *call, cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) < 2 {
		return protocol.ErrorValue(wrongArity("set"))
	}

	var expiry *time.Time
	for i := 2; i < len(cmd.Args); i++ {
		option := strings.ToUpper(cmd.Arg(i))
		if (option != "PX" && option != "EX") || expiry != nil || i+1 >= len(cmd.Args) {
			return protocol.ErrorValue(errSyntax)
		}
		i++

		n, err := strconv.ParseInt(cmd.Arg(i), 10, 64)
		if err != nil {
			return protocol.ErrorValue(errNotInteger)
		}
		if n <= 0 {
			return protocol.ErrorValue("ERR invalid expire time in 'set' command")
		}

		unit := time.Millisecond
		if option == "EX" {
			unit = time.Second
		}
		if n > math.MaxInt64/int64(unit) {
			return protocol.ErrorValue("ERR invalid expire time in 'set' command")
		}
		deadline := time.Now().Add(time.Duration(n) * unit)
		expiry = &deadline
	}

	if err := d.store.Set(cmd.Arg(0), cmd.Args[1], expiry); err != nil {
		return protocol.ErrorValue("ERR " + err.Error())
	}
	c.wrote = true
	return protocol.SimpleString("OK")
}

// handleGet handles GET command
func (d *Dispatcher) handleGet(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return protocol.ErrorValue(wrongArity("get"))
	}

	value, exists := d.store.Get(cmd.Arg(0))
	if !exists {
		return protocol.NullBulkString()
	}
	return protocol.BulkString(value)
}

// handleDel handles DEL command
func (d *Dispatcher) handleDel(c *call, cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) == 0 {
		return protocol.ErrorValue(wrongArity("del"))
	}

	deleted := d.store.Del(argStrings(cmd.Args)...)
	if deleted > 0 {
		c.wrote = true
	}
	return protocol.Integer(deleted)
}

// handleExists handles EXISTS command
func (d *Dispatcher) handleExists(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) == 0 {
		return protocol.ErrorValue(wrongArity("exists"))
	}
	return protocol.Integer(d.store.Exists(argStrings(cmd.Args)...))
}

// handleTTL handles TTL and PTTL. Missing keys answer -2 and keys without
// an expiry -1 in both units.
func (d *Dispatcher) handleTTL(cmd *protocol.Command, millis bool) protocol.Value {
	if len(cmd.Args) != 1 {
		return protocol.ErrorValue(wrongArity(strings.ToLower(cmd.Name)))
	}

	if millis {
		return protocol.Integer(int64(d.store.PTTL(cmd.Arg(0)) / time.Millisecond))
	}

	ttl := d.store.TTL(cmd.Arg(0))
	if ttl < 0 {
		return protocol.Integer(int64(ttl / time.Second))
	}
	return protocol.Integer(int64((ttl + 500*time.Millisecond) / time.Second))
}

// handleKeys handles KEYS command
func (d *Dispatcher) handleKeys(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return protocol.ErrorValue(wrongArity("keys"))
	}

	keys := d.store.Keys(cmd.Arg(0))
	values := make([]protocol.Value, len(keys))
	for i, key := range keys {
		values[i] = protocol.BulkString([]byte(key))
	}
	return protocol.ArrayValue(values...)
}

// handleDBSize handles DBSIZE command
func (d *Dispatcher) handleDBSize(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) != 0 {
		return protocol.ErrorValue(wrongArity("dbsize"))
	}
	return protocol.Integer(d.store.KeyCount())
}

// handlePSync answers a follower's PSYNC with a full resynchronization.
// Only a leader accepts followers.
func (d *Dispatcher) handlePSync(c *call, cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) != 2 {
		return protocol.ErrorValue(wrongArity("psync"))
	}
	if c.replica || !d.repl.IsLeader() {
		return protocol.ErrorValue("ERR PSYNC is only supported by a leader")
	}

	c.resync = true
	return protocol.SimpleString("FULLRESYNC " + d.repl.ReplicationID() + " " + strconv.FormatInt(d.repl.Offset(), 10))
}

func argStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = string(arg)
	}
	return out
}

// nopLogger is a no-op logger implementation
type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{}) {}
func (l *nopLogger) Info(msg string, fields ...interface{})  {}
func (l *nopLogger) Error(msg string, fields ...interface{}) {}
