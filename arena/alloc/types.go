package alloc

import "github.com/joshuapare/arenakit/internal/format"

// Ref is a reference to an allocation: a byte offset from the base of the
// managed region. Refs remain stable for the lifetime of the allocation.
type Ref = uint64

// PageReleaseMode controls when the backing of a free page run is handed
// back to the kernel.
type PageReleaseMode int

const (
	// ReleaseNone never releases pages.
	ReleaseNone PageReleaseMode = iota
	// ReleaseEnd releases a free run only when it ends at the footprint.
	ReleaseEnd
	// ReleaseSize releases a free run once it reaches the size threshold.
	ReleaseSize
	// ReleaseSizeAndEnd requires both conditions.
	ReleaseSizeAndEnd
	// ReleaseAll releases every free run.
	ReleaseAll
)

// String returns a human-readable name for the mode.
func (m PageReleaseMode) String() string {
	switch m {
	case ReleaseNone:
		return "none"
	case ReleaseEnd:
		return "end"
	case ReleaseSize:
		return "size"
	case ReleaseSizeAndEnd:
		return "size-and-end"
	case ReleaseAll:
		return "all"
	default:
		return "unknown"
	}
}

// Options configures a new Allocator. The zero value is usable: the whole
// arena as footprint limit, no page release, default size threshold.
type Options struct {
	// Capacity caps the footprint in bytes. Zero means the full arena
	// reservation. Must be a page multiple no larger than the reservation.
	Capacity int

	// PageReleaseMode selects when free page runs are released back to the
	// kernel.
	PageReleaseMode PageReleaseMode

	// PageReleaseSizeThreshold is the minimum free-run size for the
	// size-triggered modes. Zero means the default (4 MiB).
	PageReleaseSizeThreshold int
}

func (o *Options) threshold() int {
	if o.PageReleaseSizeThreshold == 0 {
		return format.DefaultPageReleaseThreshold
	}
	return o.PageReleaseSizeThreshold
}

// Page map entry types. The page map holds one of these per page and is the
// single source of truth for classifying an arbitrary reference.
const (
	pageEmpty           byte = iota // free, possibly released
	pageRun                         // first page of a run
	pageRunPart                     // continuation page of a run
	pageLargeObject                 // first page of a large object
	pageLargeObjectPart             // continuation page of a large object
)

// noRun marks an empty run slot in pools and thread caches.
const noRun = -1
