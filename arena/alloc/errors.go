package alloc

import "errors"

var (
	// ErrNoSpace indicates the request cannot be satisfied within the
	// footprint limit. Not fatal; later frees can make space.
	ErrNoSpace = errors.New("alloc: out of space")

	// ErrBadRef indicates a reference outside the region, into a free
	// page, or into the interior of a large object.
	ErrBadRef = errors.New("alloc: bad reference")

	// ErrDoubleFree indicates a free of a slot whose alloc bit is already
	// clear.
	ErrDoubleFree = errors.New("alloc: slot already free")

	// ErrMisaligned indicates a reference that does not point at a slot
	// boundary within its run.
	ErrMisaligned = errors.New("alloc: reference not slot aligned")

	// ErrBadSize indicates a non-positive allocation size.
	ErrBadSize = errors.New("alloc: size must be positive")
)
