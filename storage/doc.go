// Package storage provides the key space of a redis-lite node.
//
// MemoryStorage is a sharded map of keys to byte values. Keys with a TTL are
// also tracked by an ExpirationIndex, a min-heap ordered by deadline, which a
// background sweeper drains so that expired keys are removed even if nobody
// reads them. Reads check the deadline as well, so an expired key is never
// returned between sweeps.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	defer store.Close()
//
//	expiry := time.Now().Add(100 * time.Millisecond)
//	err := store.Set("key", []byte("value"), &expiry)
//	value, exists := store.Get("key")
package storage
