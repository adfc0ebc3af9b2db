package mplex

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestUvarintRoundTrip checks that sample values across [0, 2^62), including
// the byte-length boundaries and 2^62-1, round-trip through
// encodeUvarint/decodeUvarintFrom.
func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 2, 127, 128, 129, 16383, 16384,
		1 << 20, 1 << 32, 1 << 61, (1 << 62) - 1,
	}
	for _, v := range values {
		encoded := encodeUvarint(v)
		require.LessOrEqual(t, len(encoded), 9)

		decoded, err := decodeUvarintFrom(bufio.NewReader(bytes.NewReader(encoded)))
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}

func TestDecodeUvarintFromTruncated(t *testing.T) {
	// A continuation byte with nothing following must fail, not hang.
	truncated := []byte{0x80}
	_, err := decodeUvarintFrom(bufio.NewReader(bytes.NewReader(truncated)))
	require.Error(t, err)
}

func TestDecodeUvarintFromCleanEOF(t *testing.T) {
	_, err := decodeUvarintFrom(bufio.NewReader(bytes.NewReader(nil)))
	require.ErrorIs(t, err, io.EOF)
}

// TestFramingRoundTrip checks that for empty, short and 64 KiB payloads on
// one (channel id, Message flag) pair, decode(encode(...)) recovers the
// same triple.
func TestFramingRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}

	for _, payload := range payloads {
		sid := streamID{id: 12345, initiator: true}
		flag := sid.messageFlag()

		header := encodeUvarint(sid.header(flag))
		frame := append(append([]byte{}, header...), encodeVarintPrefixed(payload)...)

		r := bufio.NewReader(bytes.NewReader(frame))
		h, err := decodeUvarintFrom(r)
		require.NoError(t, err)
		require.Equal(t, sid.id, h>>3)
		require.Equal(t, uint64(flag), h&0x7)

		got, err := readVarintPrefixed(r, 1<<20, func(n int) ([]byte, error) {
			return make([]byte, n), nil
		})
		require.NoError(t, err)
		require.True(t, bytes.Equal(payload, got))
	}
}

func TestReadVarintPrefixedTooLarge(t *testing.T) {
	frame := append(encodeUvarint(100), make([]byte, 100)...)
	r := bufio.NewReader(bytes.NewReader(frame))
	_, err := readVarintPrefixed(r, 10, func(n int) ([]byte, error) {
		return make([]byte, n), nil
	})
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadVarintPrefixedIncomplete(t *testing.T) {
	frame := encodeUvarint(5) // declares 5 bytes, supplies none
	r := bufio.NewReader(bytes.NewReader(frame))
	_, err := readVarintPrefixed(r, 1<<20, func(n int) ([]byte, error) {
		return make([]byte, n), nil
	})
	require.Error(t, err)
}
