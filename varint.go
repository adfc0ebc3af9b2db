package mplex

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// encodeUvarint returns the canonical unsigned-varint (base-128,
// continuation-bit) encoding of x.
func encodeUvarint(x uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, x)
	return buf[:n]
}

// encodeVarintPrefixed prepends the varint-encoded length of b to b.
func encodeVarintPrefixed(b []byte) []byte {
	prefix := encodeUvarint(uint64(len(b)))
	out := make([]byte, 0, len(prefix)+len(b))
	out = append(out, prefix...)
	out = append(out, b...)
	return out
}

// decodeUvarintFrom reads bytes one at a time from r until a byte with a
// clear continuation bit is seen. It fails with ErrInvalidState wrapping
// the underlying cause if more than 9 bytes are consumed (the most a 64-bit
// uvarint can take) or if r is exhausted mid-integer.
func decodeUvarintFrom(r io.ByteReader) (uint64, error) {
	v, err := varint.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			// A clean EOF before any byte was read is a "natural" end of
			// stream boundary, not a parse error; the caller decides what
			// that means (usually MultiplexerUnavailable).
			return 0, io.EOF
		}
		return 0, fmt.Errorf("%w: malformed varint: %s", ErrInvalidState, err)
	}
	return v, nil
}

// readVarintPrefixed reads a varint length N followed by exactly N bytes
// from r. maxSize bounds N; alloc is used to obtain the backing buffer for
// the payload (typically pool-backed and memory-accounted — see memory.go)
// so this function stays agnostic of buffer ownership policy.
func readVarintPrefixed(r io.Reader, maxSize int, alloc func(int) ([]byte, error)) ([]byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		return nil, fmt.Errorf("mplex: reader does not support byte-at-a-time reads")
	}

	length, err := decodeUvarintFrom(br)
	if err != nil {
		return nil, err
	}
	if length > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, maxSize)
	}
	if length == 0 {
		return nil, nil
	}

	buf, err := alloc(int(length))
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
