// Package redislite provides a small Redis-compatible in-memory server
// with leader/follower replication.
//
// A node is either a leader, which accepts writes and streams them to its
// followers, or a follower, which copies a leader and serves reads. The role
// is chosen at construction and never changes.
//
// Basic usage:
//
//	leader, err := redislite.New(redislite.WithPort(6379))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer leader.Close()
//
//	if err := leader.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// A follower of that leader:
//
//	follower, err := redislite.New(
//		redislite.WithPort(6380),
//		redislite.WithReplicaOf("localhost", 6379),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer follower.Close()
//
//	if err := follower.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := follower.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Clients talk to either node over RESP. Supported commands are PING, ECHO,
// GET, SET (with EX/PX), DEL, KEYS, EXISTS, TTL, PTTL, DBSIZE, EVAL, EVALSHA,
// SCRIPT LOAD/EXISTS/FLUSH, INFO, REPLCONF, PSYNC and QUIT.
package redislite
