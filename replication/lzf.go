package replication

import "errors"

var errLZFCorrupt = errors.New("lzf: corrupt input")

// lzfDecompress expands an LZF block into exactly size bytes. Control
// bytes below 32 start a literal run of ctrl+1 bytes; larger ones are a
// back reference of length ctrl>>5 (extended by one byte when 7) plus 2,
// at a 13-bit distance.
func lzfDecompress(in []byte, size int) ([]byte, error) {
	out := make([]byte, 0, size)

	for i := 0; i < len(in); {
		ctrl := int(in[i])
		i++

		if ctrl < 32 {
			n := ctrl + 1
			if i+n > len(in) || len(out)+n > size {
				return nil, errLZFCorrupt
			}
			out = append(out, in[i:i+n]...)
			i += n
			continue
		}

		n := ctrl >> 5
		if n == 7 {
			if i >= len(in) {
				return nil, errLZFCorrupt
			}
			n += int(in[i])
			i++
		}
		n += 2

		if i >= len(in) {
			return nil, errLZFCorrupt
		}
		ref := len(out) - ((ctrl&0x1F)<<8 | int(in[i])) - 1
		i++
		if ref < 0 || len(out)+n > size {
			return nil, errLZFCorrupt
		}

		// Overlapping copies repeat the run, so copy byte by byte
		for j := 0; j < n; j++ {
			out = append(out, out[ref+j])
		}
	}

	if len(out) != size {
		return nil, errLZFCorrupt
	}
	return out, nil
}
