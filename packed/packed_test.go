package packed_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capnwire/capnwire/bufstream"
	"github.com/capnwire/capnwire/packed"
)

func word(b0, b1, b2, b3, b4, b5, b6, b7 byte) []byte {
	return []byte{b0, b1, b2, b3, b4, b5, b6, b7}
}

func repeatWord(w []byte, n int) []byte {
	out := make([]byte, 0, len(w)*n)
	for i := 0; i < n; i++ {
		out = append(out, w...)
	}
	return out
}

var (
	w0 = word(0, 0, 0, 0, 0, 0, 0, 0)
	w1 = word(1, 2, 3, 4, 5, 6, 7, 8)
)

// S1-S5 from the spec's concrete scenarios table (S7 is TestZeroRunCap).
func TestCanonicalEncodings(t *testing.T) {
	cases := []struct {
		name    string
		input   []byte
		encoded []byte
	}{
		{"S1 single zero word", w0, []byte{0x00, 0x00}},
		{"S2 three zero words", bytes.Join([][]byte{w0, w0, w0}, nil), []byte{0x00, 0x02}},
		{"S3 mixed single nonzero byte", word(0, 0, 0, 0, 0, 0, 0, 0x08), []byte{0x80, 0x08}},
		{"S4 dense word", w1, bytes.Join([][]byte{{0xFF}, w1, {0x00}}, nil)},
		{
			"S5 dense run of two",
			bytes.Join([][]byte{w1, w1}, nil),
			bytes.Join([][]byte{{0xFF}, w1, {0x01}, w1}, nil),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := packed.Pack(nil, tc.input)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.encoded, got); diff != "" {
				t.Errorf("Pack(%s) mismatch (-want +got):\n%s", tc.name, diff)
			}

			back, err := packed.Unpack(got, len(tc.input))
			require.NoError(t, err)
			assert.Equal(t, tc.input, back)
		})
	}
}

// S7: 300 zero words must split into two zero-runs, each capped at 256
// words (tag + 255-word extra count).
func TestZeroRunCap(t *testing.T) {
	input := repeatWord(w0, 300)
	got, err := packed.Pack(nil, input)
	require.NoError(t, err)
	want := []byte{0x00, 0xFF, 0x00, 0x2B}
	assert.Equal(t, want, got)

	back, err := packed.Unpack(got, len(input))
	require.NoError(t, err)
	assert.Equal(t, input, back)
}

// Law 1 & 2: round-trip and length preservation over varied content.
func TestRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":       {},
		"all zero":    repeatWord(w0, 10),
		"all dense":   repeatWord(w1, 10),
		"alternating": bytes.Join(alternate(w0, w1, 40), nil),
		"single byte set per word": repeatWord(
			word(0, 0, 0, 0, 0, 0, 0, 0x2A), 5,
		),
		"sparse two-zero words": repeatWord(word(1, 0, 0, 4, 5, 6, 7, 8), 20),
	}
	for name, in := range cases {
		in := in
		t.Run(name, func(t *testing.T) {
			packedBytes, err := packed.Pack(nil, in)
			require.NoError(t, err)
			out, err := packed.Unpack(packedBytes, len(in))
			require.NoError(t, err)
			require.Len(t, out, len(in), "length preservation")
			assert.Equal(t, in, out)
		})
	}
}

func alternate(a, b []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = a
		} else {
			out[i] = b
		}
	}
	return out
}

// Law 6: arbitrary refill boundaries must not change the decoded result.
func TestStreamingDecodeSurvivesSmallWindows(t *testing.T) {
	in := bytes.Join([][]byte{w1, w0, w0, w0, w1, w1, word(1, 0, 0, 4, 0, 6, 0, 8), w0}, nil)
	encoded, err := packed.Pack(nil, in)
	require.NoError(t, err)

	for _, winSize := range []int{1, 2, 3, 4, 5, 7, 11, 17} {
		winSize := winSize
		t.Run(sizeName(winSize), func(t *testing.T) {
			bi := bufstream.NewBufferedInputStreamSize(bytes.NewReader(encoded), winSize)
			r := packed.NewReader(bi)
			out := make([]byte, len(in))
			n, err := readFullWords(r, out)
			require.NoError(t, err)
			require.Equal(t, len(in), n)
			assert.Equal(t, in, out)
		})
	}
}

func sizeName(n int) string {
	return "window_" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// readFullWords calls r.Read on the unfilled rest of out until out is
// full, a call returns no bytes, or an error occurs; every length it
// passes stays word-aligned since len(out) is.
func readFullWords(r *packed.Reader, out []byte) (int, error) {
	total := 0
	for total < len(out) {
		n, err := r.Read(out[total:])
		total += n
		if n == 0 || err != nil {
			return total, err
		}
	}
	return total, nil
}

// Streaming writer round trip through a tiny output window, exercising
// the 10-byte cushion / scratch-buffer switch.
func TestStreamingEncodeSmallWindow(t *testing.T) {
	in := bytes.Join([][]byte{w1, w0, w0, w1, word(1, 2, 0, 0, 5, 6, 7, 8)}, nil)
	var buf bytes.Buffer
	bo := bufstream.NewBufferedOutputStreamSize(&buf, 9)
	w := packed.NewWriter(bo)
	n, err := w.Write(in)
	require.NoError(t, err)
	require.Equal(t, len(in), n)
	require.NoError(t, w.Flush())

	out, err := packed.Unpack(buf.Bytes(), len(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnpackRejectsShortRunBoundary(t *testing.T) {
	// Tag 0x00 claiming 5 extra zero words but only one word of output
	// space left.
	bad := []byte{0x00, 0x05}
	_, err := packed.Unpack(bad, 8)
	require.Error(t, err)
}

func TestPackRejectsUnalignedInput(t *testing.T) {
	_, err := packed.Pack(nil, []byte{1, 2, 3})
	require.Error(t, err)
}
