// Package capnwire implements the core of a Cap'n Proto-style structured
// binary interchange format: a packed byte codec, buffered window
// streams, and the segmented message container that supplies bytes to
// and consumes bytes from them.  It does not interpret word contents as
// typed fields; that's the job of a pointer/struct layout engine layered
// on top (out of scope here).
package capnwire

import (
	"github.com/capnwire/capnwire/exc"
	"github.com/capnwire/capnwire/internal/str"
)

// WordSize is the size in bytes of a single word, the 8-byte aligned
// unit all segments are measured in.
const WordSize = 8

// NewZeroedBytes allocates n words worth of zeroed bytes.
func NewZeroedBytes(words int) []byte {
	return make([]byte, words*WordSize)
}

// IsWordAligned reports whether n is a whole number of words.
func IsWordAligned(n int) bool {
	return n%WordSize == 0
}

// checkWordAligned returns a format-violation error if n is not a whole
// number of words.
func checkWordAligned(prefix string, n int) error {
	if !IsWordAligned(n) {
		return exc.New(exc.FormatViolation, prefix+": length "+str.Itod(n)+" is not word-aligned")
	}
	return nil
}
