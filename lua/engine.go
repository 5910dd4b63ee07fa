package lua

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/redis-lite/protocol"
)

// ErrNoScript is returned by EvalSHA for an unknown digest
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

// Backend runs the commands a script issues through redis.call and
// redis.pcall. An error reply is returned as a protocol.Value, not an error;
// a Go error aborts the script.
type Backend interface {
	Call(cmd *protocol.Command) (protocol.Value, error)
}

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	scripts sync.Map // map[string]string - SHA1 -> script content
}

// NewEngine creates a new Lua execution engine
func NewEngine() *Engine {
	return &Engine{}
}

// Eval executes a Lua script with the given keys and arguments. The script
// is cached, so a later EvalSHA with its digest finds it.
func (e *Engine) Eval(backend Backend, script string, keys []string, args []string) (interface{}, error) {
	e.LoadScript(script)
	return e.run(backend, script, keys, args)
}

// EvalSHA executes a previously loaded script by its SHA1 hash
func (e *Engine) EvalSHA(backend Backend, sha1 string, keys []string, args []string) (interface{}, error) {
	script, exists := e.Lookup(sha1)
	if !exists {
		return nil, ErrNoScript
	}

	return e.run(backend, script, keys, args)
}

// Lookup returns the body of a cached script
func (e *Engine) Lookup(sha1 string) (string, bool) {
	script, exists := e.scripts.Load(sha1)
	if !exists {
		return "", false
	}
	return script.(string), true
}

// LoadScript loads a script and returns its SHA1 hash
func (e *Engine) LoadScript(script string) string {
	hash := Digest(script)
	e.scripts.Store(hash, script)
	return hash
}

// Digest returns the lowercase hex SHA1 of a script
func Digest(script string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(script)))
}

// ScriptExists checks if scripts with given SHA1 hashes exist
func (e *Engine) ScriptExists(hashes []string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, exists := e.scripts.Load(hash)
		results[i] = exists
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Range(func(key, value interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

func (e *Engine) run(backend Backend, script string, keys []string, args []string) (interface{}, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	if err := openSandbox(L); err != nil {
		return nil, err
	}

	// Set up the Redis-compatible environment
	e.setupRedisAPI(L, backend, keys, args)

	top := L.GetTop()
	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("script execution error: %w", err)
	}

	if L.GetTop() == top {
		return nil, nil
	}
	return e.convertLuaValue(L.Get(top + 1)), nil
}

// openSandbox loads the libraries scripts may use. io, os and the module
// loader stay closed.
func openSandbox(L *lua.LState) error {
	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}

	for _, lib := range libs {
		err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			return fmt.Errorf("open lua library %s: %w", lib.name, err)
		}
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// setupRedisAPI configures the Lua state with Redis-compatible functions
func (e *Engine) setupRedisAPI(L *lua.LState, backend Backend, keys []string, args []string) {
	// Create KEYS table
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key)) // Lua arrays are 1-indexed
	}
	L.SetGlobal("KEYS", keysTable)

	// Create ARGV table
	argvTable := L.NewTable()
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			return e.redisCall(L, backend, false)
		},
		"pcall": func(L *lua.LState) int {
			return e.redisCall(L, backend, true)
		},
		"status_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("ok", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
		"error_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("err", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
	})
	L.SetGlobal("redis", redisTable)
}

// redisCall implements redis.call() and, when protected, redis.pcall().
// An error reply raises in call and is returned as {err=...} by pcall.
func (e *Engine) redisCall(L *lua.LState, backend Backend, protected bool) int {
	reply, err := e.executeRedisCommand(L, backend)
	if err == nil && reply.IsError() {
		err = errors.New(reply.Error())
	}

	if err != nil {
		if !protected {
			L.RaiseError("%s", err.Error())
			return 0
		}
		errTable := L.NewTable()
		errTable.RawSetString("err", lua.LString(err.Error()))
		L.Push(errTable)
		return 1
	}

	L.Push(e.convertToLuaValue(L, reply))
	return 1
}

// executeRedisCommand builds a command from the call arguments and runs it
func (e *Engine) executeRedisCommand(L *lua.LState, backend Backend) (protocol.Value, error) {
	argc := L.GetTop()
	if argc == 0 {
		return protocol.Value{}, fmt.Errorf("wrong number of arguments for redis command")
	}

	cmdName := L.ToString(1)
	if cmdName == "" {
		return protocol.Value{}, fmt.Errorf("command name must be a string")
	}

	args := make([]string, argc-1)
	for i := 2; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString, lua.LNumber:
			args[i-2] = v.String()
		default:
			return protocol.Value{}, fmt.Errorf("lua redis lib command arguments must be strings or integers")
		}
	}

	return backend.Call(protocol.NewCommand(cmdName, args...))
}

// convertToLuaValue converts a command reply to a Lua value
func (e *Engine) convertToLuaValue(L *lua.LState, value protocol.Value) lua.LValue {
	switch value.Type {
	case protocol.TypeInteger:
		return lua.LNumber(float64(value.Integer))
	case protocol.TypeBulkString:
		if value.IsNull {
			return lua.LFalse // Redis nil becomes false in Lua
		}
		return lua.LString(value.Data)
	case protocol.TypeSimpleString:
		table := L.NewTable()
		table.RawSetString("ok", lua.LString(value.Data))
		return table
	case protocol.TypeError:
		table := L.NewTable()
		table.RawSetString("err", lua.LString(value.Data))
		return table
	case protocol.TypeArray:
		if value.IsNull {
			return lua.LFalse
		}
		table := L.NewTable()
		for i, item := range value.Array {
			table.RawSetInt(i+1, e.convertToLuaValue(L, item))
		}
		return table
	default:
		return lua.LNil
	}
}

// convertLuaValue converts a Lua value to a Go value
func (e *Engine) convertLuaValue(lv lua.LValue) interface{} {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		// Check if it's an integer
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LNilType:
		return nil
	case *lua.LTable:
		// Convert table to slice if it's array-like
		if e.isArrayLikeTable(v) {
			result := make([]interface{}, 0, v.Len())
			for i := 1; i <= v.Len(); i++ {
				result = append(result, e.convertLuaValue(v.RawGetInt(i)))
			}
			return result
		}
		// Convert to map for object-like tables
		result := make(map[string]interface{})
		v.ForEach(func(k, val lua.LValue) {
			result[k.String()] = e.convertLuaValue(val)
		})
		return result
	default:
		return lv.String()
	}
}

// isArrayLikeTable checks if a Lua table is array-like (consecutive integer keys starting from 1)
func (e *Engine) isArrayLikeTable(table *lua.LTable) bool {
	length := table.Len()

	hasOtherKeys := false
	table.ForEach(func(k, v lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok {
			hasOtherKeys = true
			return
		}
		idx := int(num)
		if float64(idx) != float64(num) || idx < 1 || idx > length {
			hasOtherKeys = true
		}
	})

	return !hasOtherKeys
}

// ToValue converts a script result to the reply sent to the client, using
// the Redis conversion rules: numbers are truncated to integers, true becomes
// 1, false and nil become null, and {ok=...} / {err=...} tables become
// status and error replies.
func ToValue(result interface{}) protocol.Value {
	switch v := result.(type) {
	case nil:
		return protocol.NullBulkString()
	case bool:
		if v {
			return protocol.Integer(1)
		}
		return protocol.NullBulkString()
	case string:
		return protocol.BulkString([]byte(v))
	case int64:
		return protocol.Integer(v)
	case float64:
		return protocol.Integer(int64(v))
	case []interface{}:
		values := make([]protocol.Value, len(v))
		for i, item := range v {
			values[i] = ToValue(item)
		}
		return protocol.ArrayValue(values...)
	case map[string]interface{}:
		if msg, ok := v["err"].(string); ok {
			return protocol.ErrorValue(msg)
		}
		if status, ok := v["ok"].(string); ok {
			return protocol.SimpleString(status)
		}
		// Tables without an array part convert to an empty array
		return protocol.ArrayValue()
	default:
		return protocol.BulkString([]byte(fmt.Sprintf("%v", v)))
	}
}
