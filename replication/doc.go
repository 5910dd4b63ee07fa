// Package replication implements leader/follower replication.
//
// A leader keeps a Registry of followers. A follower's PSYNC is answered
// with FULLRESYNC and an empty snapshot; from then on every write the
// leader accepts is queued to each follower and written by a sender
// goroutine dedicated to that follower. A follower that falls behind or
// whose socket fails is dropped; there is no backlog and no partial
// resynchronization.
//
// A follower runs a Client:
//
//	client := replication.NewClient("10.0.0.1:6379", dispatcher)
//	client.SetListeningPort(6380)
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// The client connects, sends PING, REPLCONF listening-port, REPLCONF capa
// psync2 and PSYNC ? -1, discards the snapshot and applies every command
// that follows. Connection attempts are retried on a fixed delay forever;
// a lost stream starts over with a new handshake.
//
// Manager ties a node's role and replication id to whichever side it runs.
package replication
