// Package arena reserves and manages the contiguous memory region the
// allocator carves up. The region is a single anonymous mapping (or a plain
// heap buffer on platforms without mmap, and in tests); all addressing above
// this package is done with byte offsets into the region, never raw
// pointers.
package arena

import (
	"errors"
	"fmt"

	"github.com/joshuapare/arenakit/internal/format"
)

// Arena is a page-aligned, fixed-capacity memory reservation.
//
// The zero value is not usable; obtain one through Reserve or NewFromBuf.
type Arena struct {
	data   []byte
	mapped bool // backed by an anonymous mapping rather than the Go heap
}

// ErrClosed indicates a use of the arena after Close.
var ErrClosed = errors.New("arena: closed")

// NewFromBuf wraps an existing buffer as an arena. The buffer length must be
// a page multiple. Used by tests and by callers that manage their own
// backing store; Release falls back to zero-filling since there is no
// mapping to advise the kernel about.
func NewFromBuf(buf []byte) (*Arena, error) {
	if len(buf) == 0 || !format.IsAligned(len(buf), format.PageSize) {
		return nil, fmt.Errorf("arena: buffer length %d is not a page multiple", len(buf))
	}
	return &Arena{data: buf}, nil
}

// Bytes returns the whole reserved region. The slice aliases the mapping;
// it is invalidated by Close.
func (a *Arena) Bytes() []byte {
	return a.data
}

// Capacity returns the total reserved size in bytes.
func (a *Arena) Capacity() int {
	return len(a.data)
}

// Release discards the physical backing of data[off:off+n]. The contents
// read back as zero afterwards. off and n must be page-aligned.
func (a *Arena) Release(off, n int) error {
	if a.data == nil {
		return ErrClosed
	}
	if off < 0 || n < 0 || off+n > len(a.data) {
		return fmt.Errorf("arena: release range [%d, %d) out of bounds", off, off+n)
	}
	if !format.IsAligned(off, format.PageSize) || !format.IsAligned(n, format.PageSize) {
		return fmt.Errorf("arena: release range [%d, %d) not page aligned", off, off+n)
	}
	if n == 0 {
		return nil
	}
	if a.mapped {
		return a.advise(off, n)
	}
	// No mapping to discard; emulate the kernel's zero-fill so callers see
	// the same contents either way.
	zero(a.data[off : off+n])
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
