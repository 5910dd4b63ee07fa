// Package protocol implements the Redis Serialization Protocol (RESP)
// used by redis-lite for requests, replies and replication traffic.
//
// Requests are arrays of bulk strings:
//
//	*2\r\n$4\r\nECHO\r\n$3\r\nhey\r\n
//
// Replies use one-character markers: '+' simple string, '-' error,
// ':' integer, '$' bulk string ($-1 is null) and '*' array.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	writer := protocol.NewWriter(conn)
//	for {
//		cmd, err := reader.ReadCommand()
//		if err != nil {
//			break
//		}
//		writer.WriteValue(protocol.SimpleString("OK"))
//		writer.Flush()
//	}
//
// The Reader buffers partial reads, so frames fragmented by TCP decode
// correctly. Decode and Encode are the whole-buffer forms.
package protocol
