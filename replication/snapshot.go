package replication

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/raniellyferreira/redis-lite/protocol"
)

// Snapshot opcodes
const (
	rdbOpcodeAux      = 0xFA
	rdbOpcodeResizeDB = 0xFB
	rdbOpcodeExpiryMs = 0xFC
	rdbOpcodeExpiry   = 0xFD
	rdbOpcodeSelectDB = 0xFE
	rdbOpcodeEOF      = 0xFF

	// MaxSnapshotVersion is the newest snapshot format understood
	MaxSnapshotVersion = 12

	maxAuxLength = 64 * 1024
)

// emptySnapshot is a valid snapshot of an empty keyspace
const emptySnapshot = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog=="

// EmptySnapshot returns the snapshot a leader sends on full resynchronization
func EmptySnapshot() []byte {
	data, err := base64.StdEncoding.DecodeString(emptySnapshot)
	if err != nil {
		panic(fmt.Sprintf("replication: invalid embedded snapshot: %v", err))
	}
	return data
}

// SnapshotInfo describes the header of a snapshot
type SnapshotInfo struct {
	Version int
	Aux     map[string]string
	// HasData is set when the snapshot holds at least one database
	HasData bool
}

// InspectSnapshot reads the header and auxiliary fields of a snapshot.
// It stops at the first database selector or the end marker; keys are
// never decoded.
func InspectSnapshot(r io.Reader) (SnapshotInfo, error) {
	br := bufio.NewReader(r)
	info := SnapshotInfo{Aux: make(map[string]string)}

	header := make([]byte, 9)
	if _, err := io.ReadFull(br, header); err != nil {
		return info, fmt.Errorf("read snapshot header: %w", err)
	}
	if string(header[:5]) != "REDIS" {
		return info, fmt.Errorf("invalid snapshot magic: %q", header[:5])
	}

	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return info, fmt.Errorf("invalid snapshot version: %q", header[5:])
	}
	if version > MaxSnapshotVersion {
		return info, fmt.Errorf("unsupported snapshot version: %d (max supported: %d)", version, MaxSnapshotVersion)
	}
	info.Version = version

	for {
		opcode, err := br.ReadByte()
		if err != nil {
			return info, fmt.Errorf("read snapshot opcode: %w", err)
		}

		switch opcode {
		case rdbOpcodeEOF:
			return info, nil
		case rdbOpcodeSelectDB, rdbOpcodeResizeDB, rdbOpcodeExpiry, rdbOpcodeExpiryMs:
			info.HasData = true
			return info, nil
		case rdbOpcodeAux:
			key, err := readEncodedString(br)
			if err != nil {
				return info, fmt.Errorf("read aux key: %w", err)
			}
			value, err := readEncodedString(br)
			if err != nil {
				return info, fmt.Errorf("read aux value for %s: %w", key, err)
			}
			info.Aux[string(key)] = string(value)
		default:
			// A value type byte means keys without a database selector
			info.HasData = true
			return info, nil
		}
	}
}

// readLength reads a length prefix. special is set for the integer and
// compressed string encodings, in which case n is the encoding number.
func readLength(br *bufio.Reader) (n uint64, special bool, err error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch b >> 6 {
	case 0:
		return uint64(b & 0x3F), false, nil
	case 1:
		b2, err := br.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(b&0x3F)<<8 | uint64(b2), false, nil
	case 2:
		switch b {
		case 0x80:
			var length uint32
			err := binary.Read(br, binary.BigEndian, &length)
			return uint64(length), false, err
		case 0x81:
			var length uint64
			err := binary.Read(br, binary.BigEndian, &length)
			return length, false, err
		default:
			return 0, false, fmt.Errorf("invalid length encoding: %#x", b)
		}
	default:
		return uint64(b & 0x3F), true, nil
	}
}

// readEncodedString reads a string in any of the snapshot string encodings
func readEncodedString(br *bufio.Reader) ([]byte, error) {
	n, special, err := readLength(br)
	if err != nil {
		return nil, err
	}

	if !special {
		return readBytes(br, n)
	}

	switch n {
	case 0:
		v, err := br.ReadByte()
		return []byte(strconv.Itoa(int(int8(v)))), err
	case 1:
		var v int16
		err := binary.Read(br, binary.LittleEndian, &v)
		return []byte(strconv.Itoa(int(v))), err
	case 2:
		var v int32
		err := binary.Read(br, binary.LittleEndian, &v)
		return []byte(strconv.Itoa(int(v))), err
	case 3:
		compressedLen, _, err := readLength(br)
		if err != nil {
			return nil, fmt.Errorf("read compressed length: %w", err)
		}
		length, _, err := readLength(br)
		if err != nil {
			return nil, fmt.Errorf("read uncompressed length: %w", err)
		}
		if length > maxAuxLength {
			return nil, fmt.Errorf("string length too large: %d", length)
		}
		compressed, err := readBytes(br, compressedLen)
		if err != nil {
			return nil, err
		}
		return lzfDecompress(compressed, int(length))
	default:
		return nil, fmt.Errorf("invalid string encoding: %d", n)
	}
}

func readBytes(br *bufio.Reader, n uint64) ([]byte, error) {
	if n > maxAuxLength {
		return nil, fmt.Errorf("string length too large: %d", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, err
	}
	return data, nil
}

// SnapshotFrame returns the empty snapshot framed for the wire: a bulk
// string header and the payload, without a trailing CRLF
func SnapshotFrame() []byte {
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	_ = w.WriteSnapshot(EmptySnapshot())
	_ = w.Flush()
	return buf.Bytes()
}
