package command

import "fmt"

// UnknownCommandError is returned by Dispatch for a verb with no handler.
// The error reply for the client is still set on the Result.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command '%s'", e.Name)
}

// ReplyError is returned by Apply when a command from the replication
// stream produced an error reply
type ReplyError struct {
	Command string
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Error replies shared by several handlers
const (
	errSyntax        = "ERR syntax error"
	errNotInteger    = "ERR value is not an integer or out of range"
	errReadOnly      = "READONLY You can't write against a read only replica."
	errNotFromScript = "ERR This Redis command is not allowed from script"
)

func wrongArity(name string) string {
	return fmt.Sprintf("ERR wrong number of arguments for '%s' command", name)
}
