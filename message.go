package capnwire

import (
	"encoding/binary"
	"io"

	"github.com/capnwire/capnwire/bufstream"
	"github.com/capnwire/capnwire/exc"
	"github.com/capnwire/capnwire/internal/str"
	"github.com/capnwire/capnwire/packed"
)

// DefaultTraversalLimitWords and DefaultNestingLimit are the recognized
// defaults for ReaderOptions, matching the C++ reference implementation.
const (
	DefaultTraversalLimitWords = 8 * 1024 * 1024
	DefaultNestingLimit        = 64
)

// MaxStreamSegments bounds how many segments ReadPackedMessage
// will accept from a stream header, guarding against a hostile or
// corrupt header claiming an unreasonable segment count.
const MaxStreamSegments = 512

// ReaderOptions carries the traversal and nesting limits enforced by the
// pointer/struct layout engine layered on top of this container; the
// container itself only stores and validates them.
type ReaderOptions struct {
	// TraversalLimitInWords caps the total words traversed while
	// reading, guarding against amplification attacks. Zero means
	// DefaultTraversalLimitWords.
	TraversalLimitInWords uint64
	// NestingLimit caps how deeply nested a message structure may be.
	// Zero means DefaultNestingLimit. Must not be negative.
	NestingLimit int
}

func (o ReaderOptions) withDefaults() ReaderOptions {
	if o.TraversalLimitInWords == 0 {
		o.TraversalLimitInWords = DefaultTraversalLimitWords
	}
	if o.NestingLimit == 0 {
		o.NestingLimit = DefaultNestingLimit
	}
	return o
}

func (o ReaderOptions) validate() error {
	if o.NestingLimit < 0 {
		return exc.New(exc.ContractViolation, "reader options: nesting limit must be non-negative")
	}
	return nil
}

// MessageReader is a message's segment array plus the options a
// pointer/struct layout engine needs to traverse it safely. It is
// immutable after construction.
type MessageReader struct {
	arena   *ReaderArena
	options ReaderOptions
}

// NewSegmentArrayMessageReader builds a MessageReader over a
// non-empty, externally owned list of segments. The segments are
// borrowed for the reader's lifetime; the caller must keep them alive.
func NewSegmentArrayMessageReader(segments [][]byte, options ReaderOptions) (*MessageReader, error) {
	options = options.withDefaults()
	if err := options.validate(); err != nil {
		return nil, err
	}
	arena, err := NewReaderArena(segments)
	if err != nil {
		return nil, exc.WrapError("new message reader", err)
	}
	return &MessageReader{arena: arena, options: options}, nil
}

// GetSegment returns the word slice for segment id. It returns an error
// (rather than panicking) if id is out of range, per NewSegmentArrayMessageReader's
// borrowed-arena contract.
func (m *MessageReader) GetSegment(id SegmentID) ([]byte, error) {
	return m.arena.Segment(id)
}

// Arena returns the underlying ReaderArena, for use by a pointer/struct
// layout engine.
func (m *MessageReader) Arena() *ReaderArena {
	return m.arena
}

// Options returns the reader's traversal/nesting limits.
func (m *MessageReader) Options() ReaderOptions {
	return m.options
}

// GetRoot bootstraps a typed view of segment 0 starting at its first
// word. capnwire knows nothing of T's structure; build is supplied by a
// pointer/struct layout engine and receives segment 0's raw bytes plus
// the reader's nesting limit.
func GetRoot[T any](m *MessageReader, build func(segment0 []byte, nestingLimit int) (T, error)) (T, error) {
	var zero T
	seg0, err := m.GetSegment(0)
	if err != nil {
		return zero, exc.WrapError("get root", err)
	}
	if len(seg0) < WordSize {
		return zero, exc.New(exc.FormatViolation, "get root: segment 0 is smaller than one word")
	}
	return build(seg0, m.options.NestingLimit)
}

// MessageBuilder is a mutable message under construction. The root
// pointer occupies the first word of segment 0 and is written exactly
// once, by InitRoot.
type MessageBuilder struct {
	arena      *BuilderArena
	rootInited bool
}

// NewMallocMessageBuilder creates a MessageBuilder whose arena is
// entirely heap-allocated.
func NewMallocMessageBuilder(firstSegmentWords int, strategy AllocationStrategy) *MessageBuilder {
	return &MessageBuilder{arena: NewBuilderArena(strategy, firstSegmentWords)}
}

// NewScratchSpaceMallocMessageBuilder creates a MessageBuilder whose
// segment 0 is the caller-supplied buf; overflow segments are
// heap-allocated. The caller must not touch buf while the builder is
// live, and must call Release when done so buf is zeroed before reuse.
func NewScratchSpaceMallocMessageBuilder(buf []byte, strategy AllocationStrategy) *MessageBuilder {
	return &MessageBuilder{arena: NewScratchBuilderArena(strategy, buf)}
}

// Arena returns the underlying BuilderArena for mutable access by a
// pointer/struct layout engine.
func (b *MessageBuilder) Arena() *BuilderArena {
	return b.arena
}

// Release frees/zeroes the builder's arena. Safe to call multiple times.
func (b *MessageBuilder) Release() {
	b.arena.Release()
}

// InitRoot allocates the message's root pointer slot — which must be the
// very first allocation on segment 0, landing at offset 0 — together
// with structWords of space for the root struct itself in a single
// allocation, so both always land on the same segment. build receives
// the arena and the byte offsets of the root pointer slot and the root
// struct, and constructs whatever typed view a pointer/struct layout
// engine wants; capnwire does no introspection of its own. Calling
// InitRoot twice on the same builder is a contract violation.
func InitRoot[T any](b *MessageBuilder, structWords int, build func(arena *BuilderArena, rootPointerOffset, structOffset int) (T, error)) (T, error) {
	var zero T
	if b.rootInited {
		return zero, exc.New(exc.ContractViolation, "init root: root pointer already allocated")
	}
	id, off, err := b.arena.Allocate(1 + structWords)
	if err != nil {
		return zero, exc.WrapError("init root", err)
	}
	if id != 0 || off != 0 {
		return zero, exc.New(exc.ContractViolation, "init root: root pointer was not allocated at segment 0 offset 0")
	}
	b.rootInited = true
	return build(b.arena, 0, WordSize)
}

// GetSegmentsForOutput invokes cont with the list of segment word-slices
// currently occupied, in id order.
func (b *MessageBuilder) GetSegmentsForOutput(cont func([][]byte)) {
	b.arena.SegmentsForOutput(cont)
}

// streamHeaderSize returns the byte size of the segment-count/size
// header for a message with nsegs segments: a uint32 segment count minus
// one, followed by one uint32 per segment, padded to a word boundary.
func streamHeaderSize(nsegs int) int {
	raw := 4 + 4*nsegs
	return (raw + 7) &^ 7
}

// WritePackedMessage drives a message builder's segments through a
// packed output stream: a standard framing header (segment count and
// per-segment word sizes) followed by each segment's raw bytes, all
// packed. The framing format itself — how many bytes a header occupies
// and what the counts mean — is an external contract this function
// fulfills, not something this package interprets on the read side
// beyond what ReadPackedMessage needs to reverse it.
func WritePackedMessage(w io.Writer, b *MessageBuilder) (err error) {
	bo := bufstream.NewBufferedOutputStream(w)
	pw := packed.NewWriter(bo)

	b.GetSegmentsForOutput(func(segs [][]byte) {
		if len(segs) == 0 {
			err = exc.New(exc.ContractViolation, "write packed message: no segments")
			return
		}
		hdr := make([]byte, streamHeaderSize(len(segs)))
		binary.LittleEndian.PutUint32(hdr, uint32(len(segs)-1))
		for i, seg := range segs {
			if !IsWordAligned(len(seg)) {
				err = exc.New(exc.FormatViolation, "write packed message: segment "+str.Itod(i)+" is not word-aligned")
				return
			}
			binary.LittleEndian.PutUint32(hdr[4+4*i:], uint32(len(seg)/WordSize))
		}
		if _, werr := pw.Write(hdr); werr != nil {
			err = exc.WrapError("write packed message: header", werr)
			return
		}
		for i, seg := range segs {
			if _, werr := pw.Write(seg); werr != nil {
				err = exc.WrapError("write packed message: segment "+str.Itod(i), werr)
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if err := pw.Flush(); err != nil {
		return exc.WrapError("write packed message: flush", err)
	}
	return bo.Flush()
}

// ReadPackedMessage reads a packed message written by WritePackedMessage:
// the stream framing header followed by each segment's packed bytes. It
// returns a MessageReader borrowing freshly allocated segment buffers.
func ReadPackedMessage(r io.Reader, opts ReaderOptions) (*MessageReader, error) {
	bi := bufstream.NewBufferedInputStream(r)
	pr := packed.NewReader(bi)

	// The header's first word always holds the segment count (minus one)
	// and the first segment's size, since packed.Reader only accepts
	// word-aligned reads: every header read below must be a whole
	// number of words, never a bare 4-byte uint32.
	var word0 [WordSize]byte
	if _, err := io.ReadFull(pr, word0[:]); err != nil {
		return nil, exc.WrapError("read packed message: header", err)
	}
	nsegs := int(binary.LittleEndian.Uint32(word0[:4])) + 1
	if nsegs <= 0 || nsegs > MaxStreamSegments {
		return nil, exc.New(exc.FormatViolation, "read packed message: implausible segment count "+str.Itod(nsegs))
	}

	hdr := make([]byte, streamHeaderSize(nsegs))
	copy(hdr, word0[:])
	if rest := hdr[WordSize:]; len(rest) > 0 {
		if _, err := io.ReadFull(pr, rest); err != nil {
			return nil, exc.WrapError("read packed message: header", err)
		}
	}
	wordCounts := make([]int, nsegs)
	for i := 0; i < nsegs; i++ {
		wordCounts[i] = int(binary.LittleEndian.Uint32(hdr[4+4*i:]))
	}

	segs := make([][]byte, nsegs)
	for i, words := range wordCounts {
		buf := NewZeroedBytes(words)
		if len(buf) > 0 {
			if _, err := io.ReadFull(pr, buf); err != nil {
				return nil, exc.WrapError("read packed message: segment "+str.Itod(i), err)
			}
		}
		segs[i] = buf
	}
	return NewSegmentArrayMessageReader(segs, opts)
}
