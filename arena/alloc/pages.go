package alloc

import (
	"fmt"
	"sort"

	"github.com/joshuapare/arenakit/internal/format"
)

// Page allocator: owns the page map, the sorted free-page-run index, the
// size side table, and the footprint. Every function in this file requires
// the page mutex unless noted.
//
// A free page run is identified solely by its start offset. Its byte size
// lives in freePageRunBytes (indexed by page), never in the freed memory
// itself, so the backing pages can be handed back to the kernel.

func (al *Allocator) pageIndex(off int) int {
	return off / format.PageSize
}

func (al *Allocator) freeRunBytes(off int) int {
	return al.freePageRunBytes[al.pageIndex(off)]
}

// insertFreeRun records a free run at off spanning size bytes: size table,
// sorted index, and the debug magic byte on the first page.
func (al *Allocator) insertFreeRun(off, size int) {
	al.freePageRunBytes[al.pageIndex(off)] = size
	pos := sort.SearchInts(al.freePageRuns, off)
	al.freePageRuns = append(al.freePageRuns, 0)
	copy(al.freePageRuns[pos+1:], al.freePageRuns[pos:])
	al.freePageRuns[pos] = off
	if debugChecks {
		al.data[off] = format.FreePageRunMagic
	}
}

// removeFreeRun erases the run starting at off from the index and the size
// table. The run must be present.
func (al *Allocator) removeFreeRun(off int) int {
	pos := sort.SearchInts(al.freePageRuns, off)
	if pos >= len(al.freePageRuns) || al.freePageRuns[pos] != off {
		panic(fmt.Sprintf("alloc: free page run at %#x not indexed", off))
	}
	al.freePageRuns = append(al.freePageRuns[:pos], al.freePageRuns[pos+1:]...)
	size := al.freePageRunBytes[al.pageIndex(off)]
	al.freePageRunBytes[al.pageIndex(off)] = 0
	return size
}

func (al *Allocator) installPages(off, numPages int, kind byte) {
	idx := al.pageIndex(off)
	al.pageMap[idx] = kind
	part := pageRunPart
	if kind == pageLargeObject {
		part = pageLargeObjectPart
	}
	for i := 1; i < numPages; i++ {
		al.pageMap[idx+i] = part
	}
}

// allocPages carves numPages pages out of the region and classifies them as
// kind (pageRun or pageLargeObject). First fit by address over the sorted
// free-run index; when nothing fits, the footprint grows by the shortfall,
// folding in a trailing free run rather than stranding it.
func (al *Allocator) allocPages(numPages int, kind byte) (int, bool) {
	need := numPages * format.PageSize

	for _, off := range al.freePageRuns {
		size := al.freeRunBytes(off)
		if size < need {
			continue
		}
		al.removeFreeRun(off)
		if size > need {
			al.insertFreeRun(off+need, size-need)
		}
		al.installPages(off, numPages, kind)
		return off, true
	}

	// Nothing fits. Extend the footprint: a free run that ends exactly at
	// the footprint counts toward the request, so only the shortfall is
	// new pages.
	tailOff, tailSize := noRun, 0
	if n := len(al.freePageRuns); n > 0 {
		last := al.freePageRuns[n-1]
		if size := al.freeRunBytes(last); last+size == al.footprint {
			tailOff, tailSize = last, size
		}
	}
	grow := need - tailSize
	if al.footprint+grow > al.capacity {
		return 0, false
	}

	start := al.footprint - tailSize
	if tailOff != noRun {
		al.removeFreeRun(tailOff)
	}
	firstNew := al.pageIndex(al.footprint)
	al.footprint += grow
	for i := firstNew; i < al.pageIndex(al.footprint); i++ {
		al.pageMap[i] = pageEmpty
	}
	al.stats.growBytes.Add(uint64(grow))
	tracef("grow footprint by %d pages to %d bytes", grow/format.PageSize, al.footprint)

	al.installPages(start, numPages, kind)
	return start, true
}

// freePages returns the run or large object starting at off to the free set,
// coalescing with its address-order neighbors and applying the page release
// policy. Returns the number of bytes freed.
func (al *Allocator) freePages(off int) (int, error) {
	if !format.IsAligned(off, format.PageSize) {
		// Points inside the first page rather than at the start.
		return 0, ErrBadRef
	}
	idx := al.pageIndex(off)
	var part byte
	switch al.pageMap[idx] {
	case pageRun:
		part = pageRunPart
	case pageLargeObject:
		part = pageLargeObjectPart
	default:
		return 0, ErrBadRef
	}

	pages := 1
	lim := al.pageIndex(al.footprint)
	for idx+pages < lim && al.pageMap[idx+pages] == part {
		pages++
	}
	freed := pages * format.PageSize
	for i := 0; i < pages; i++ {
		al.pageMap[idx+i] = pageEmpty
	}

	start, size := off, freed

	// Coalesce with the successor and predecessor runs so free runs stay
	// maximal.
	pos := sort.SearchInts(al.freePageRuns, start)
	if pos < len(al.freePageRuns) && al.freePageRuns[pos] == start+size {
		size += al.removeFreeRun(start + size)
	}
	if pos > 0 {
		prev := al.freePageRuns[pos-1]
		if prevSize := al.freeRunBytes(prev); prev+prevSize == start {
			al.removeFreeRun(prev)
			start, size = prev, prevSize+size
		}
	}
	al.insertFreeRun(start, size)

	if al.shouldRelease(start, size) {
		al.releaseRun(start, size)
	}
	return freed, nil
}

// shouldRelease evaluates the page release policy for the free run at
// start.
func (al *Allocator) shouldRelease(start, size int) bool {
	switch al.releaseMode {
	case ReleaseNone:
		return false
	case ReleaseEnd:
		return start+size == al.footprint
	case ReleaseSize:
		return size >= al.releaseThreshold
	case ReleaseSizeAndEnd:
		return size >= al.releaseThreshold && start+size == al.footprint
	case ReleaseAll:
		return true
	default:
		panic(fmt.Sprintf("alloc: unexpected page release mode %d", al.releaseMode))
	}
}

// releaseRun discards the physical backing of the run's interior. The first
// page keeps the magic byte while debugChecks is on, so it stays committed.
func (al *Allocator) releaseRun(start, size int) {
	if debugChecks {
		start += format.PageSize
		size -= format.PageSize
	}
	if size <= 0 {
		return
	}
	if err := al.ar.Release(start, size); err != nil {
		tracef("release [%#x, %#x) failed: %v", start, start+size, err)
		return
	}
	al.stats.releasedBytes.Add(uint64(size))
}

// runStartFor walks continuation entries back to the run's first page.
// Requires the page map entry at idx to be pageRun or pageRunPart.
func (al *Allocator) runStartFor(idx int) int {
	for al.pageMap[idx] == pageRunPart {
		idx--
	}
	return idx * format.PageSize
}

// Trim releases the free run at the end of the footprint, if any, and
// shrinks the footprint past it. Returns whether anything was trimmed.
// Takes the page mutex itself.
func (al *Allocator) Trim() bool {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()

	n := len(al.freePageRuns)
	if n == 0 {
		return false
	}
	last := al.freePageRuns[n-1]
	size := al.freeRunBytes(last)
	if last+size != al.footprint {
		return false
	}
	al.removeFreeRun(last)
	al.footprint = last

	// The run is beyond the footprint now; release it wholesale, magic
	// page included.
	if err := al.ar.Release(last, size); err != nil {
		tracef("trim release [%#x, %#x) failed: %v", last, last+size, err)
	}
	al.stats.trimmedBytes.Add(uint64(size))
	tracef("trimmed %d bytes, footprint now %d", size, al.footprint)
	return true
}
