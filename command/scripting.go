package command

import (
	"errors"
	"strconv"
	"strings"

	"github.com/raniellyferreira/redis-lite/lua"
	"github.com/raniellyferreira/redis-lite/protocol"
)

// scriptBackend runs the commands a script issues with the context of
// the call that started the script
type scriptBackend struct {
	d      *Dispatcher
	parent *call
}

func (b *scriptBackend) Call(cmd *protocol.Command) (protocol.Value, error) {
	c := &call{replica: b.parent.replica, script: true}
	reply, _ := b.d.execute(c, cmd)
	if c.wrote {
		b.parent.wrote = true
	}
	return reply, nil
}

// parseScriptArgs splits "numkeys key... arg..." for EVAL and EVALSHA
func parseScriptArgs(args [][]byte) (keys, argv []string, errReply string) {
	numKeys, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return nil, nil, errNotInteger
	}
	if numKeys < 0 || numKeys > len(args)-1 {
		return nil, nil, "ERR Number of keys can't be negative or greater than args"
	}

	keys = argStrings(args[1 : 1+numKeys])
	argv = argStrings(args[1+numKeys:])
	return keys, argv, ""
}

// handleEval handles EVAL script numkeys key... arg...
func (d *Dispatcher) handleEval(c *call, cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) < 2 {
		return protocol.ErrorValue(wrongArity("eval"))
	}

	keys, argv, errReply := parseScriptArgs(cmd.Args[1:])
	if errReply != "" {
		return protocol.ErrorValue(errReply)
	}

	result, err := d.scripts.Eval(&scriptBackend{d: d, parent: c}, cmd.Arg(0), keys, argv)
	if err != nil {
		return scriptError(err)
	}
	return lua.ToValue(result)
}

// handleEvalSHA handles EVALSHA sha1 numkeys key... arg... A script that
// wrote is forwarded as EVAL so followers need no script cache.
func (d *Dispatcher) handleEvalSHA(c *call, cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) < 2 {
		return protocol.ErrorValue(wrongArity("evalsha"))
	}

	keys, argv, errReply := parseScriptArgs(cmd.Args[1:])
	if errReply != "" {
		return protocol.ErrorValue(errReply)
	}

	sha := strings.ToLower(cmd.Arg(0))
	result, err := d.scripts.EvalSHA(&scriptBackend{d: d, parent: c}, sha, keys, argv)
	if err != nil {
		return scriptError(err)
	}

	if c.wrote {
		body, _ := d.scripts.Lookup(sha)
		forward := &protocol.Command{Name: "EVAL", Args: make([][]byte, 0, len(cmd.Args))}
		forward.Args = append(forward.Args, []byte(body))
		forward.Args = append(forward.Args, cmd.Args[1:]...)
		c.forward = forward
	}
	return lua.ToValue(result)
}

// handleScript handles SCRIPT LOAD | EXISTS | FLUSH
func (d *Dispatcher) handleScript(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) == 0 {
		return protocol.ErrorValue(wrongArity("script"))
	}

	subcommand := strings.ToUpper(cmd.Arg(0))
	switch subcommand {
	case "LOAD":
		if len(cmd.Args) != 2 {
			return protocol.ErrorValue(wrongArity("script|load"))
		}
		return protocol.BulkString([]byte(d.scripts.LoadScript(cmd.Arg(1))))

	case "EXISTS":
		if len(cmd.Args) < 2 {
			return protocol.ErrorValue(wrongArity("script|exists"))
		}
		hashes := argStrings(cmd.Args[1:])
		for i := range hashes {
			hashes[i] = strings.ToLower(hashes[i])
		}
		exists := d.scripts.ScriptExists(hashes)
		values := make([]protocol.Value, len(exists))
		for i, ok := range exists {
			if ok {
				values[i] = protocol.Integer(1)
			} else {
				values[i] = protocol.Integer(0)
			}
		}
		return protocol.ArrayValue(values...)

	case "FLUSH":
		d.scripts.ScriptFlush()
		return protocol.SimpleString("OK")

	default:
		return protocol.ErrorValue("ERR unknown SCRIPT subcommand '" + cmd.Arg(0) + "'")
	}
}

// scriptError turns a script failure into an error reply. Messages that
// already carry an error code keep it.
func scriptError(err error) protocol.Value {
	if errors.Is(err, lua.ErrNoScript) {
		return protocol.ErrorValue(err.Error())
	}
	msg := strings.ReplaceAll(err.Error(), "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return protocol.ErrorValue("ERR " + msg)
}
