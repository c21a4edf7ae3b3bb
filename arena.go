package capnwire

import (
	"github.com/capnwire/capnwire/exc"
	"github.com/capnwire/capnwire/internal/str"
)

// AllocationStrategy controls how a BuilderArena sizes new segments
// beyond the first. FixedSize and GrowHeuristically are the only
// recognized variants; a caller wanting a different policy (e.g. an
// externally supplied allocator) should add a new case with its own
// contract rather than overload one of these with a hidden flag.
type AllocationStrategy int

const (
	// FixedSize allocates every new segment at the configured first
	// segment size.
	FixedSize AllocationStrategy = iota
	// GrowHeuristically allocates each new segment at least as large as
	// the configured first size, doubling relative to the message's
	// total size so far to amortize the cost of allocation.
	GrowHeuristically
)

// SuggestedFirstSegmentWords is the suggested size, in words, of a new
// message's first segment.
const SuggestedFirstSegmentWords = 1024

// ReaderArena holds references to a message's input segments. Segment 0
// always exists; additional segments are addressable by id. Segments are
// borrowed for the arena's lifetime — the caller must keep the backing
// data alive.
type ReaderArena struct {
	segments [][]byte
}

// NewReaderArena builds a ReaderArena over segments. segments must be
// non-empty; segments[0] becomes segment 0.
func NewReaderArena(segments [][]byte) (*ReaderArena, error) {
	if len(segments) == 0 {
		return nil, exc.New(exc.ContractViolation, "reader arena: segment list is empty")
	}
	cp := make([][]byte, len(segments))
	for i, seg := range segments {
		if err := checkWordAligned("reader arena: segment "+str.Utod(uint32(i)), len(seg)); err != nil {
			return nil, err
		}
		cp[i] = seg
	}
	return &ReaderArena{segments: cp}, nil
}

// NumSegments returns the number of segments in the arena.
func (a *ReaderArena) NumSegments() int {
	return len(a.segments)
}

// Segment returns the word slice for segment id, or an error if id is
// out of range.
func (a *ReaderArena) Segment(id SegmentID) ([]byte, error) {
	if int(id) >= len(a.segments) {
		return nil, exc.New(exc.ContractViolation, "segment "+str.Utod(uint32(id))+": out of bounds")
	}
	return a.segments[id], nil
}

// BuilderArena owns a growable list of segments plus an allocation
// strategy. Allocation requests specify a word count; the arena tries
// segment 0 first, then subsequent segments in order, and allocates a
// new segment only if none has room. Allocations never cross segments.
type BuilderArena struct {
	strategy      AllocationStrategy
	firstWords    int
	segments      []*Segment
	scratchOwner  bool // segment 0's backing array belongs to a caller, not the heap
	zeroOnRelease bool // zero heap overflow segments (beyond segment 0) on Release
}

// NewBuilderArena creates a BuilderArena whose segments are entirely
// heap-allocated, per MallocMessageBuilder's contract.
func NewBuilderArena(strategy AllocationStrategy, firstSegmentWords int) *BuilderArena {
	if firstSegmentWords <= 0 {
		firstSegmentWords = SuggestedFirstSegmentWords
	}
	return &BuilderArena{
		strategy:   strategy,
		firstWords: firstSegmentWords,
		segments:   []*Segment{{id: 0, data: make([]byte, 0, firstSegmentWords*WordSize)}},
	}
}

// NewScratchBuilderArena creates a BuilderArena whose segment 0 is the
// caller-supplied scratch buffer, per ScratchSpaceMallocMessageBuilder's
// contract. scratch's existing length is ignored; it is treated as free
// capacity and zeroed as it's allocated into. Overflow segments beyond
// segment 0 are heap-allocated.
func NewScratchBuilderArena(strategy AllocationStrategy, scratch []byte) *BuilderArena {
	return &BuilderArena{
		strategy:     strategy,
		firstWords:   len(scratch) / WordSize,
		segments:     []*Segment{{id: 0, data: scratch[:0:len(scratch)]}},
		scratchOwner: true,
	}
}

// SetZeroOnRelease controls whether heap overflow segments (every
// segment but segment 0) are zeroed when Release is called. Segment 0 of
// a scratch-backed arena is always zeroed on Release regardless of this
// setting, matching the caller's expectation that their buffer doesn't
// leak message contents.
func (a *BuilderArena) SetZeroOnRelease(z bool) {
	a.zeroOnRelease = z
}

// NumSegments returns the number of segments currently in the arena.
func (a *BuilderArena) NumSegments() int {
	return len(a.segments)
}

// Segment returns the in-use bytes of segment id.
func (a *BuilderArena) Segment(id SegmentID) ([]byte, error) {
	if int(id) >= len(a.segments) {
		return nil, exc.New(exc.ContractViolation, "segment "+str.Utod(uint32(id))+": out of bounds")
	}
	return a.segments[id].data, nil
}

// Allocate reserves words words of zero-filled space, preferring an
// existing segment with room, and returns the segment id and the byte
// offset within that segment where the new region begins.
func (a *BuilderArena) Allocate(words int) (SegmentID, int, error) {
	if words < 0 {
		return 0, 0, exc.New(exc.ContractViolation, "allocate: negative word count")
	}
	n := words * WordSize
	for _, seg := range a.segments {
		if seg.available() >= n {
			off := seg.allocate(n)
			return seg.id, off, nil
		}
	}
	seg, err := a.addSegment(words)
	if err != nil {
		return 0, 0, err
	}
	off := seg.allocate(n)
	return seg.id, off, nil
}

func (a *BuilderArena) addSegment(minWords int) (*Segment, error) {
	size := a.nextSegmentWords(minWords)
	if size < minWords {
		return nil, exc.New(exc.ResourceExhausted, "allocate: single allocation exceeds maximum segment size")
	}
	seg := &Segment{
		id:   SegmentID(len(a.segments)),
		data: make([]byte, 0, size*WordSize),
	}
	a.segments = append(a.segments, seg)
	return seg, nil
}

func (a *BuilderArena) nextSegmentWords(minWords int) int {
	switch a.strategy {
	case FixedSize:
		// Always the configured size, even if that's smaller than
		// minWords: addSegment turns the mismatch into ResourceExhausted
		// rather than silently growing past the fixed size.
		return a.firstWords
	default: // GrowHeuristically
		total := 0
		for _, seg := range a.segments {
			total += cap(seg.data) / WordSize
		}
		size := total
		if size < a.firstWords {
			size = a.firstWords
		}
		if size < minWords {
			size = minWords
		}
		return size
	}
}

// SegmentsForOutput invokes cont with the list of segment word-slices
// currently occupied (not the full backing capacity), in id order. Used
// by the writer to serialize the message.
func (a *BuilderArena) SegmentsForOutput(cont func([][]byte)) {
	out := make([][]byte, len(a.segments))
	for i, seg := range a.segments {
		out[i] = seg.data
	}
	cont(out)
}

// Release zeroes segment 0 if it's caller-owned scratch space (always),
// and every other segment if SetZeroOnRelease(true) was called (defense-in-depth;
// off by default since the segments are heap-allocated and going to be
// garbage collected regardless).
func (a *BuilderArena) Release() {
	for i, seg := range a.segments {
		if i == 0 && a.scratchOwner {
			zeroBytes(seg.data[:cap(seg.data)])
			continue
		}
		if i != 0 && a.zeroOnRelease {
			zeroBytes(seg.data)
		}
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
