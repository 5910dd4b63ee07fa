/*
Package command executes Redis commands against a storage.Storage.

A Dispatcher is shared by every client connection and by the replication
stream. Dispatch serves clients and reports, through Result, whether the
command must be forwarded to followers, whether the connection asked for a
full resynchronization and whether it should be closed. Apply executes a
command received from a leader: it bypasses the read-only check, writes no
reply and never propagates.

# Supported Commands

	PING [message]
	ECHO message
	SET key value [PX milliseconds | EX seconds]
	GET key
	DEL key [key ...]
	EXISTS key [key ...]
	TTL key / PTTL key
	KEYS pattern
	DBSIZE
	INFO [section]
	REPLCONF ...
	PSYNC replicationid offset
	EVAL script numkeys [key ...] [arg ...]
	EVALSHA sha1 numkeys [key ...] [arg ...]
	SCRIPT LOAD | EXISTS | FLUSH
	QUIT

Scripts run on the lua package. A script that wrote to the keyspace
propagates as EVAL with its body, so followers need no script cache.

# INFO

INFO output is a list of key:value lines. The dispatcher provides the
replication, stats and keyspace sections; other components add theirs
with WithInfoSection or AddInfoSection.
*/
package command
