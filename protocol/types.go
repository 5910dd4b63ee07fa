package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// Value represents a RESP value. It is the reply type of every command and
// the element type of arrays.
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// SimpleString returns a '+' value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// ErrorValue returns a '-' value
func ErrorValue(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Integer returns a ':' value
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// BulkString returns a '$' value holding data
func BulkString(data []byte) Value {
	return Value{Type: TypeBulkString, Data: data}
}

// NullBulkString returns the null bulk string ($-1)
func NullBulkString() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// ArrayValue returns a '*' value
func ArrayValue(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString:
		return string(v.Data)
	case TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// NewCommand builds a command from string arguments
func NewCommand(name string, args ...string) *Command {
	cmd := &Command{
		Name: strings.ToUpper(name),
		Args: make([][]byte, len(args)),
	}
	for i, arg := range args {
		cmd.Args[i] = []byte(arg)
	}
	return cmd
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull || len(v.Array) == 0 {
		return nil, &ProtocolError{Message: "expected non-empty array"}
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	for i, elem := range v.Array {
		if elem.Type != TypeBulkString || elem.IsNull {
			return nil, &ProtocolError{Message: fmt.Sprintf("element %d is not a bulk string", i)}
		}
		if i == 0 {
			// Verbs are case-insensitive
			cmd.Name = strings.ToUpper(string(elem.Data))
			continue
		}
		cmd.Args[i-1] = elem.Data
	}

	return cmd, nil
}

// Arg returns argument i as a string, or "" when out of range
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return string(c.Args[i])
}

// Value returns the command as a RESP array of bulk strings
func (c *Command) Value() Value {
	items := make([]Value, 0, len(c.Args)+1)
	items = append(items, BulkString([]byte(c.Name)))
	for _, arg := range c.Args {
		items = append(items, BulkString(arg))
	}
	return ArrayValue(items...)
}

// String returns a string representation of the command
func (c *Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return c.Name + " " + strings.Join(args, " ")
}

// ProtocolError represents a malformed RESP frame
type ProtocolError struct {
	Message string
	Data    []byte
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}
