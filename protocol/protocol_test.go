package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/raniellyferreira/redis-lite/protocol"
)

func TestRESPReader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected protocol.Value
	}{
		{
			name:     "simple string",
			input:    "+OK\r\n",
			expected: protocol.SimpleString("OK"),
		},
		{
			name:     "error",
			input:    "-ERR unknown command\r\n",
			expected: protocol.ErrorValue("ERR unknown command"),
		},
		{
			name:     "integer",
			input:    ":42\r\n",
			expected: protocol.Integer(42),
		},
		{
			name:     "negative integer",
			input:    ":-7\r\n",
			expected: protocol.Integer(-7),
		},
		{
			name:     "bulk string",
			input:    "$5\r\nhello\r\n",
			expected: protocol.BulkString([]byte("hello")),
		},
		{
			name:     "null bulk string",
			input:    "$-1\r\n",
			expected: protocol.NullBulkString(),
		},
		{
			name:     "empty bulk string",
			input:    "$0\r\n\r\n",
			expected: protocol.BulkString([]byte("")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := protocol.NewReader(strings.NewReader(tt.input))
			value, err := reader.ReadNext()
			if err != nil {
				t.Fatalf("ReadNext() error = %v", err)
			}

			if value.Type != tt.expected.Type {
				t.Errorf("Type = %v, want %v", value.Type, tt.expected.Type)
			}

			if !bytes.Equal(value.Data, tt.expected.Data) {
				t.Errorf("Data = %v, want %v", value.Data, tt.expected.Data)
			}

			if value.Integer != tt.expected.Integer {
				t.Errorf("Integer = %v, want %v", value.Integer, tt.expected.Integer)
			}

			if value.IsNull != tt.expected.IsNull {
				t.Errorf("IsNull = %v, want %v", value.IsNull, tt.expected.IsNull)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	cmd, err := protocol.Decode([]byte("*3\r\n$3\r\nset\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if cmd.Name != "SET" {
		t.Errorf("Name = %s, want SET", cmd.Name)
	}

	if len(cmd.Args) != 2 || cmd.Arg(0) != "foo" || cmd.Arg(1) != "bar" {
		t.Errorf("Args = %q, want [foo bar]", cmd.Args)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not an array", "+PING\r\n"},
		{"inline command", "PING\r\n"},
		{"non-numeric array length", "*x\r\n$4\r\nPING\r\n"},
		{"non-numeric bulk length", "*1\r\n$four\r\nPING\r\n"},
		{"fewer elements than declared", "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n"},
		{"truncated bulk payload", "*1\r\n$4\r\nPI"},
		{"element is not a bulk string", "*2\r\n$4\r\nECHO\r\n:1\r\n"},
		{"empty array", "*0\r\n"},
		{"missing CR", "*1\n$4\r\nPING\r\n"},
		{"empty buffer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(tt.input))
			if err == nil {
				t.Fatal("Decode() expected error")
			}

			var perr *protocol.ProtocolError
			if !errors.As(err, &perr) {
				t.Errorf("Decode() error = %T %v, want *ProtocolError", err, err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	commands := []*protocol.Command{
		protocol.NewCommand("PING"),
		protocol.NewCommand("ECHO", "hello world"),
		protocol.NewCommand("SET", "key", "value", "PX", "100"),
		protocol.NewCommand("SET", "bin", "\x00\r\n\xff"),
		protocol.NewCommand("GET", ""),
	}

	for _, want := range commands {
		t.Run(want.String(), func(t *testing.T) {
			got, err := protocol.Decode(protocol.Encode(want.Value()))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if got.Name != want.Name {
				t.Errorf("Name = %s, want %s", got.Name, want.Name)
			}

			if len(got.Args) != len(want.Args) {
				t.Fatalf("Args length = %d, want %d", len(got.Args), len(want.Args))
			}

			for i := range want.Args {
				if !bytes.Equal(got.Args[i], want.Args[i]) {
					t.Errorf("Args[%d] = %q, want %q", i, got.Args[i], want.Args[i])
				}
			}
		})
	}
}

func TestReaderFragmentedFrames(t *testing.T) {
	input := "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"

	// OneByteReader delivers a single byte per Read, like a badly fragmented socket
	reader := protocol.NewReader(iotest.OneByteReader(strings.NewReader(input)))

	first, err := reader.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	if first.String() != "SET foo bar" {
		t.Errorf("first = %q, want %q", first.String(), "SET foo bar")
	}

	second, err := reader.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	if second.String() != "GET foo" {
		t.Errorf("second = %q, want %q", second.String(), "GET foo")
	}

	if _, err := reader.ReadCommand(); err != io.EOF {
		t.Errorf("ReadCommand() at end error = %v, want io.EOF", err)
	}
}

func TestReaderSplitAcrossWrites(t *testing.T) {
	pr, pw := io.Pipe()
	reader := protocol.NewReader(pr)

	go func() {
		for _, part := range []string{"*2\r\n$4\r", "\nECHO\r\n$5", "\r\nhel", "lo\r\n"} {
			_, _ = pw.Write([]byte(part))
		}
		_ = pw.Close()
	}()

	cmd, err := reader.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}

	if cmd.Name != "ECHO" || cmd.Arg(0) != "hello" {
		t.Errorf("command = %q, want ECHO hello", cmd.String())
	}
}

func TestReaderEOFInsideFrame(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("*2\r\n$4\r\nECHO\r\n"))

	_, err := reader.ReadCommand()
	if err != io.ErrUnexpectedEOF {
		t.Errorf("ReadCommand() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadSnapshot(t *testing.T) {
	payload := []byte("REDIS0011\xfa\x00binary")
	input := "$" + strconv.Itoa(len(payload)) + "\r\n" + string(payload) + "*1\r\n$4\r\nPING\r\n"

	reader := protocol.NewReader(strings.NewReader(input))

	var got []byte
	err := reader.ReadSnapshot(func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}

	if !bytes.Equal(got, payload) {
		t.Errorf("snapshot = %q, want %q", got, payload)
	}

	// The command right after the payload must still decode
	cmd, err := reader.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() after snapshot error = %v", err)
	}
	if cmd.Name != "PING" {
		t.Errorf("Name = %s, want PING", cmd.Name)
	}
}

func TestRESPWriter(t *testing.T) {
	tests := []struct {
		name     string
		value    protocol.Value
		expected string
	}{
		{"simple string", protocol.SimpleString("PONG"), "+PONG\r\n"},
		{"error", protocol.ErrorValue("ERR boom"), "-ERR boom\r\n"},
		{"integer", protocol.Integer(42), ":42\r\n"},
		{"bulk string", protocol.BulkString([]byte("bar")), "$3\r\nbar\r\n"},
		{"empty bulk string", protocol.BulkString([]byte{}), "$0\r\n\r\n"},
		{"null", protocol.NullBulkString(), "$-1\r\n"},
		{"array", protocol.ArrayValue(protocol.BulkString([]byte("a")), protocol.Integer(1)), "*2\r\n$1\r\na\r\n:1\r\n"},
		{"empty array", protocol.ArrayValue(), "*0\r\n"},
		{"null array", protocol.Value{Type: protocol.TypeArray, IsNull: true}, "*-1\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(protocol.Encode(tt.value))
			if got != tt.expected {
				t.Errorf("Encode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWriterCommandAndSnapshot(t *testing.T) {
	var buf bytes.Buffer
	writer := protocol.NewWriter(&buf)

	if err := writer.WriteCommand("SET", "key", "value"); err != nil {
		t.Fatalf("WriteCommand() error = %v", err)
	}
	if err := writer.WriteNullArray(); err != nil {
		t.Fatalf("WriteNullArray() error = %v", err)
	}
	if err := writer.WriteSnapshot([]byte("RDB")); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	writer.Flush()

	expected := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n*-1\r\n$3\r\nRDB"
	if buf.String() != expected {
		t.Errorf("output = %q, want %q", buf.String(), expected)
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		name     string
		value    protocol.Value
		expected string
	}{
		{"simple string", protocol.SimpleString("OK"), "OK"},
		{"integer", protocol.Integer(42), "42"},
		{"null bulk string", protocol.NullBulkString(), "(nil)"},
		{"error", protocol.ErrorValue("ERR unknown command"), "ERR unknown command"},
		{"array", protocol.ArrayValue(protocol.SimpleString("a"), protocol.Integer(2)), "[a, 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.value.String()
			if result != tt.expected {
				t.Errorf("String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func BenchmarkRESPReader(b *testing.B) {
	input := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := protocol.NewReader(strings.NewReader(input))
		if _, err := reader.ReadCommand(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRESPWriter(b *testing.B) {
	var buf bytes.Buffer
	writer := protocol.NewWriter(&buf)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		writer.Reset(&buf)
		if err := writer.WriteSimpleString("OK"); err != nil {
			b.Fatal(err)
		}
		writer.Flush()
	}
}
