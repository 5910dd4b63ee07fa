// Package server accepts RESP connections and runs each one through a
// command.Dispatcher.
//
// Every connection gets its own goroutine running a read, dispatch, reply
// loop. The number of concurrent connections is bounded: a slot is taken
// before each Accept and returned when the connection closes.
//
// On a leader, writes reported by the dispatcher are published to the
// replication.Registry after the reply is sent. A connection that issues
// PSYNC receives the FULLRESYNC reply and the snapshot frame and is then
// owned by the registry as a follower; the server keeps reading from it
// only to notice when the follower goes away.
//
// The server works with standard Redis clients such as
// github.com/redis/go-redis.
package server
