package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB, the Redis default)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum size for arrays
	maxArraySize = 1024 * 1024
)

var (
	crlfBytes = []byte(CRLF)
)

// Reader is a streaming RESP reader. It buffers partial socket reads, so a
// frame split across several TCP segments decodes the same as one delivered
// whole, and several pipelined frames in one segment decode one at a time.
//
// Malformed input is reported as *ProtocolError. Transport errors are returned
// unchanged, except that a stream ending inside a frame yields io.ErrUnexpectedEOF.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br: bufio.NewReader(r),
	}
}

// Decode decodes a single command from buf. buf must hold one complete frame;
// a truncated frame is a protocol error rather than a request for more bytes.
func Decode(buf []byte) (*Command, error) {
	cmd, err := NewReader(bytes.NewReader(buf)).ReadCommand()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Message: "truncated frame", Data: buf}
		}
		return nil, err
	}
	return cmd, nil
}

// ReadCommand reads the next frame and interprets it as a command. The frame
// must be an array of bulk strings; the first element is the verb.
func (r *Reader) ReadCommand() (*Command, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return nil, err
	}

	if ValueType(typeByte) != TypeArray {
		return nil, &ProtocolError{
			Message: fmt.Sprintf("expected array, got %q", typeByte),
			Data:    []byte{typeByte},
		}
	}

	value, err := r.readArray()
	if err != nil {
		return nil, err
	}

	return ParseCommand(value)
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}
	return r.readValue(typeByte)
}

func (r *Reader) readValue(typeByte byte) (Value, error) {
	switch ValueType(typeByte) {
	case TypeSimpleString, TypeError:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: ValueType(typeByte), Data: line}, nil
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readArray()
	default:
		return Value{}, &ProtocolError{
			Message: fmt.Sprintf("unknown RESP type: %q", typeByte),
			Data:    []byte{typeByte},
		}
	}
}

// readInteger reads an integer value
func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	integer, err := parseInt64(line)
	if err != nil {
		return Value{}, &ProtocolError{Message: "invalid integer", Data: line}
	}

	return Value{
		Type:    TypeInteger,
		Integer: integer,
	}, nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	default:
		i = 0
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		// Check for overflow
		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + int64(b[i]-'0')
	}

	if neg {
		return -n, nil
	}
	return n, nil
}

// readLength reads a length header line, returning -1 for null
func (r *Reader) readLength(kind string, max int64) (int64, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return 0, &ProtocolError{Message: fmt.Sprintf("invalid %s length", kind), Data: line}
	}

	if length == -1 {
		return -1, nil
	}

	if length < 0 || length > max {
		return 0, &ProtocolError{Message: fmt.Sprintf("invalid %s length: %d", kind, length), Data: line}
	}

	return length, nil
}

// readBulkString reads a bulk string value
func (r *Reader) readBulkString() (Value, error) {
	length, err := r.readLength("bulk string", maxBulkSize)
	if err != nil {
		return Value{}, err
	}

	if length == -1 {
		return NullBulkString(), nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, unexpected(err)
	}

	if err := r.expectCRLF(); err != nil {
		return Value{}, err
	}

	return BulkString(data), nil
}

// readArray reads an array value; the '*' has already been consumed
func (r *Reader) readArray() (Value, error) {
	length, err := r.readLength("array", maxArraySize)
	if err != nil {
		return Value{}, err
	}

	if length == -1 {
		return Value{Type: TypeArray, IsNull: true}, nil
	}

	array := make([]Value, length)
	for i := int64(0); i < length; i++ {
		value, err := r.ReadNext()
		if err != nil {
			return Value{}, unexpected(err)
		}
		array[i] = value
	}

	return Value{
		Type:  TypeArray,
		Array: array,
	}, nil
}

// ReadSnapshot reads the full-resync payload: a bulk string header followed
// by raw bytes with no trailing CRLF. fn receives the payload in chunks.
func (r *Reader) ReadSnapshot(fn func(chunk []byte) error) error {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return err
	}

	if ValueType(typeByte) != TypeBulkString {
		return &ProtocolError{Message: fmt.Sprintf("expected snapshot bulk string, got %q", typeByte)}
	}

	length, err := r.readLength("snapshot", maxBulkSize)
	if err != nil {
		return err
	}

	if length == -1 {
		return fn(nil)
	}

	const chunkSize = 8192
	buffer := make([]byte, chunkSize)
	remaining := length

	for remaining > 0 {
		toRead := chunkSize
		if remaining < int64(chunkSize) {
			toRead = int(remaining)
		}

		n, err := io.ReadFull(r.br, buffer[:toRead])
		if err != nil {
			return unexpected(err)
		}

		if err := fn(buffer[:n]); err != nil {
			return err
		}

		remaining -= int64(n)
	}

	// No CRLF follows the snapshot payload
	return nil
}

// readLine reads a line terminated by CRLF
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, unexpected(err)
	}

	if len(line) < 2 || !bytes.HasSuffix(line, crlfBytes) {
		return nil, &ProtocolError{Message: "missing CRLF terminator", Data: line}
	}

	return line[:len(line)-2], nil
}

// expectCRLF reads and validates CRLF terminator
func (r *Reader) expectCRLF() error {
	crlf := make([]byte, 2)
	if _, err := io.ReadFull(r.br, crlf); err != nil {
		return unexpected(err)
	}

	if !bytes.Equal(crlf, crlfBytes) {
		return &ProtocolError{Message: "expected CRLF terminator", Data: crlf}
	}

	return nil
}

// unexpected maps an EOF inside a frame to io.ErrUnexpectedEOF
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
