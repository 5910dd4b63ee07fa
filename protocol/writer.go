package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Writer provides efficient writing of RESP protocol messages
type Writer struct {
	bw *bufio.Writer
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw: bufio.NewWriter(w),
	}
}

// Encode returns the wire form of v
func Encode(v Value) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	// Writes to a bytes.Buffer cannot fail
	_ = w.WriteValue(v)
	_ = w.Flush()
	return buf.Bytes()
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case TypeSimpleString:
		return w.writeLine('+', v.Data)
	case TypeError:
		return w.writeLine('-', v.Data)
	case TypeInteger:
		return w.WriteInteger(v.Integer)
	case TypeBulkString:
		if v.IsNull {
			return w.WriteNullBulkString()
		}
		return w.WriteBulkString(v.Data)
	case TypeArray:
		if v.IsNull {
			return w.WriteNullArray()
		}
		return w.WriteArray(v.Array)
	default:
		return fmt.Errorf("unsupported value type: %c", v.Type)
	}
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.writeLine('+', []byte(s))
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	return w.writeLine('-', []byte(msg))
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.writeLine(':', strconv.AppendInt(nil, n, 10))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	if err := w.writeHeader('$', len(data)); err != nil {
		return err
	}
	if _, err := w.bw.Write(data); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteNullBulkString writes a null bulk string
func (w *Writer) WriteNullBulkString() error {
	return w.writeLine('$', []byte("-1"))
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	if err := w.writeHeader('*', len(values)); err != nil {
		return err
	}

	for _, value := range values {
		if err := w.WriteValue(value); err != nil {
			return err
		}
	}

	return nil
}

// WriteNullArray writes a null array
func (w *Writer) WriteNullArray() error {
	return w.writeLine('*', []byte("-1"))
}

// WriteCommand writes a Redis command as a RESP array
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	if err := w.writeHeader('*', 1+len(args)); err != nil {
		return err
	}

	if err := w.WriteBulkString([]byte(cmd)); err != nil {
		return err
	}

	for _, arg := range args {
		if err := w.WriteBulkString([]byte(arg)); err != nil {
			return err
		}
	}

	return nil
}

// WriteSnapshot writes a full-resync payload: the bulk header and the raw
// bytes, without the trailing CRLF a bulk string would carry.
func (w *Writer) WriteSnapshot(payload []byte) error {
	if err := w.writeHeader('$', len(payload)); err != nil {
		return err
	}
	_, err := w.bw.Write(payload)
	return err
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}

func (w *Writer) writeHeader(marker byte, n int) error {
	return w.writeLine(marker, strconv.AppendInt(nil, int64(n), 10))
}

func (w *Writer) writeLine(marker byte, payload []byte) error {
	if err := w.bw.WriteByte(marker); err != nil {
		return err
	}
	if _, err := w.bw.Write(payload); err != nil {
		return err
	}
	return w.writeCRLF()
}

// writeCRLF writes the CRLF terminator
func (w *Writer) writeCRLF() error {
	_, err := w.bw.WriteString(CRLF)
	return err
}
