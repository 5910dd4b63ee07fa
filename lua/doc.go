// Package lua provides Redis-compatible Lua script execution functionality.
//
// Scripts run in a fresh gopher-lua state with the base, table, string and
// math libraries. They reach the key space only through redis.call and
// redis.pcall, which hand each command to a Backend supplied by the caller;
// the command dispatcher is the production Backend, so a script obeys the
// same read-only and propagation rules as a client.
//
// Replies convert the way Redis converts them: null becomes false, status
// replies become {ok=...} and error replies {err=...}. ToValue applies the
// reverse mapping to a script's return value.
package lua
