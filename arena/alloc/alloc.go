package alloc

import (
	"fmt"
	"sync"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/internal/format"
)

// Allocator is a segregated-fit, runs-of-slots allocator over an arena
// reservation. See the package documentation for the design overview.
type Allocator struct {
	ar   *arena.Arena
	data []byte

	releaseMode      PageReleaseMode
	releaseThreshold int

	// Page-level state, guarded by pageMu: the page map, the sorted
	// free-page-run index, the size side table, and the footprint.
	pageMu           sync.Mutex
	pageMap          []byte
	freePageRuns     []int
	freePageRunBytes []int
	footprint        int
	capacity         int // footprint limit, mutable via SetFootprintLimit

	// Per-bracket pools, each guarded by its bracketMu entry. A run of
	// bracket b is in exactly one of: a thread cache, currentRuns[b],
	// nonFullRuns[b], fullRuns[b], or in transit under the lock.
	bracketMu   [format.NumSizeBrackets]sync.Mutex
	currentRuns [format.NumSizeBrackets]int
	nonFullRuns [format.NumSizeBrackets][]int
	fullRuns    [format.NumSizeBrackets]map[int]struct{}

	// bulkFreeMu coordinates the scratch bit maps. BulkFree holds the
	// writer side while marking; drains and single-slot frees hold the
	// reader side. The naming is inverted on purpose: the lock does not
	// protect reads from writes, it keeps any drain from observing a
	// half-written scratch map while letting drains (serialized by the
	// bracket mutexes) and frees proceed concurrently.
	bulkFreeMu sync.RWMutex

	cacheMu sync.Mutex
	caches  map[*ThreadCache]struct{}

	stats allocatorStats
}

// New builds an allocator over the arena. The arena must outlive the
// allocator; the allocator assumes exclusive use of the region.
func New(ar *arena.Arena, opts Options) (*Allocator, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = ar.Capacity()
	}
	if capacity <= 0 || capacity > ar.Capacity() || !format.IsAligned(capacity, format.PageSize) {
		return nil, fmt.Errorf("alloc: capacity %d must be a page-multiple within the %d-byte reservation",
			capacity, ar.Capacity())
	}

	numPages := ar.Capacity() / format.PageSize
	al := &Allocator{
		ar:               ar,
		data:             ar.Bytes(),
		releaseMode:      opts.PageReleaseMode,
		releaseThreshold: opts.threshold(),
		pageMap:          make([]byte, numPages),
		freePageRunBytes: make([]int, numPages),
		capacity:         capacity,
		caches:           make(map[*ThreadCache]struct{}),
	}
	for b := range al.currentRuns {
		al.currentRuns[b] = noRun
		al.fullRuns[b] = make(map[int]struct{})
	}
	return al, nil
}

// run builds a view over the run starting at off and verifies its header.
func (al *Allocator) run(off int) run {
	r := run{data: al.data, off: off}
	r.checkMagic()
	return r
}

// Alloc returns a reference to size bytes plus the backing slice of the
// whole slot (or page span, for large requests). The slice length is the
// usable size. On exhaustion it returns ErrNoSpace with a zero reference.
func (al *Allocator) Alloc(tc *ThreadCache, size int) (Ref, []byte, error) {
	if size <= 0 {
		return 0, nil, ErrBadSize
	}

	var off, granted int
	var err error
	if size > format.LargeSizeThreshold {
		off, granted, err = al.allocLargeObject(size)
	} else {
		off, granted, err = al.allocFromRun(tc, size)
	}
	if err != nil {
		return 0, nil, err
	}

	al.stats.allocOps.Add(1)
	al.stats.allocatedByte.Add(uint64(granted))
	return Ref(off), al.data[off : off+granted : off+granted], nil
}

// allocLargeObject serves a request above the large threshold at page
// granularity. Metadata is entirely in the page map.
func (al *Allocator) allocLargeObject(size int) (int, int, error) {
	pages := format.PagesFor(size)

	al.pageMu.Lock()
	off, ok := al.allocPages(pages, pageLargeObject)
	al.pageMu.Unlock()
	if !ok {
		return 0, 0, ErrNoSpace
	}
	return off, pages * format.PageSize, nil
}

// Free returns the allocation at ref. tc may be nil; passing the caller's
// ThreadCache lets frees into its own cached runs skip the bracket lock.
// Every free holds the reader side of the bulk-free lock.
func (al *Allocator) Free(tc *ThreadCache, ref Ref) error {
	al.bulkFreeMu.RLock()
	defer al.bulkFreeMu.RUnlock()
	return al.freeInternal(tc, ref)
}

// freeInternal classifies ref through the page map and dispatches. Caller
// holds the reader side of bulkFreeMu.
func (al *Allocator) freeInternal(tc *ThreadCache, ref Ref) error {
	off := int(ref)
	if off < 0 || off >= len(al.data) {
		return ErrBadRef
	}

	al.pageMu.Lock()
	idx := al.pageIndex(off)
	var runOff int
	switch al.pageMap[idx] {
	case pageLargeObject:
		freed, err := al.freePages(off)
		al.pageMu.Unlock()
		if err != nil {
			return err
		}
		al.stats.freeOps.Add(1)
		al.stats.freedBytes.Add(uint64(freed))
		return nil
	case pageRun, pageRunPart:
		runOff = al.runStartFor(idx)
	default:
		// Empty or the interior of a large object: nothing the caller
		// could legitimately hold a reference to.
		al.pageMu.Unlock()
		return ErrBadRef
	}
	al.pageMu.Unlock()

	freed, err := al.freeFromRun(tc, off, al.run(runOff))
	if err != nil {
		return err
	}
	al.stats.freeOps.Add(1)
	al.stats.freedBytes.Add(uint64(freed))
	return nil
}

// freeFromRun frees one slot. Owner-cached runs are updated without any
// lock; everything else goes through the bracket lock. Frees into another
// thread's cached run are staged in that run's thread-local-free map (the
// owner, or revoke, drains them) so the alloc map is never mutated behind
// the owner's back.
func (al *Allocator) freeFromRun(tc *ThreadCache, off int, r run) (int, error) {
	b := r.bracketIdx()
	if tc != nil && b <= format.MaxThreadLocalBracket && tc.runs[b] == r.off {
		return r.freeSlot(off)
	}

	al.bracketMu[b].Lock()
	defer al.bracketMu[b].Unlock()

	if r.isThreadLocal() {
		return r.markThreadLocalFree(off)
	}

	wasFull := al.inFullSet(b, r.off)
	n, err := r.freeSlot(off)
	if err != nil {
		return 0, err
	}

	if r.isAllFree() && al.currentRuns[b] != r.off {
		al.removeFromPools(b, r.off)
		al.pageMu.Lock()
		_, ferr := al.freePages(r.off)
		al.pageMu.Unlock()
		if ferr != nil {
			return n, ferr
		}
	} else if wasFull {
		delete(al.fullRuns[b], r.off)
		al.nonFullInsert(b, r.off)
	}
	return n, nil
}

// UsableSize returns the number of usable bytes behind ref: the slot size
// for a run allocation, the page-rounded size for a large object.
func (al *Allocator) UsableSize(ref Ref) (int, error) {
	off := int(ref)
	if off < 0 || off >= len(al.data) {
		return 0, ErrBadRef
	}

	al.pageMu.Lock()
	defer al.pageMu.Unlock()

	idx := al.pageIndex(off)
	switch al.pageMap[idx] {
	case pageLargeObject:
		pages := 1
		lim := al.pageIndex(al.footprint)
		for idx+pages < lim && al.pageMap[idx+pages] == pageLargeObjectPart {
			pages++
		}
		return pages * format.PageSize, nil
	case pageRun, pageRunPart:
		r := al.run(al.runStartFor(idx))
		if _, err := r.slotIndexOf(off); err != nil {
			return 0, err
		}
		return r.bracket().SlotSize, nil
	default:
		return 0, ErrBadRef
	}
}

// UsableSizeForRequest returns the bytes a request of the given size would
// actually receive, without allocating.
func (al *Allocator) UsableSizeForRequest(size int) int {
	if size <= 0 {
		return 0
	}
	if size > format.LargeSizeThreshold {
		return format.AlignPage(size)
	}
	return format.RoundToBracketSize(size)
}

// Footprint returns the current footprint in bytes.
func (al *Allocator) Footprint() int {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()
	return al.footprint
}

// FootprintLimit returns the current footprint limit.
func (al *Allocator) FootprintLimit() int {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()
	return al.capacity
}

// SetFootprintLimit adjusts the footprint limit. The limit is clamped to a
// page multiple between the current footprint and the arena reservation.
func (al *Allocator) SetFootprintLimit(n int) {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()

	n = format.AlignPage(n)
	if n < al.footprint {
		n = al.footprint
	}
	if n > al.ar.Capacity() {
		n = al.ar.Capacity()
	}
	al.capacity = n
}

// DoesReleaseAllPages reports whether the allocator releases every free
// page run.
func (al *Allocator) DoesReleaseAllPages() bool {
	return al.releaseMode == ReleaseAll
}
