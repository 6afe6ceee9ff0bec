package alloc

import "github.com/joshuapare/arenakit/internal/format"

// InspectAll walks the page map and reports every slot of every run, every
// large object, and every free page run to the handler. used is zero for
// free slots and free regions. start and end are offsets from the region
// base.
//
// The walk holds the page lock; callers inspect at a quiescent point, the
// same way a collector would, since slot liveness on thread-local runs is
// owned by their threads.
func (al *Allocator) InspectAll(handler func(start, end uint64, used int)) {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()

	lim := al.pageIndex(al.footprint)
	for i := 0; i < lim; {
		off := i * format.PageSize
		switch al.pageMap[i] {
		case pageEmpty:
			size := al.freePageRunBytes[i]
			if size == 0 {
				// Interior of a free run already reported.
				i++
				continue
			}
			handler(uint64(off), uint64(off+size), 0)
			i += size / format.PageSize
		case pageRun:
			r := al.run(off)
			r.inspectSlots(handler)
			i += r.bracket().PagesPerRun
		case pageLargeObject:
			pages := 1
			for i+pages < lim && al.pageMap[i+pages] == pageLargeObjectPart {
				pages++
			}
			size := pages * format.PageSize
			handler(uint64(off), uint64(off+size), size)
			i += pages
		default:
			// Continuation entries are consumed by their headers; seeing
			// one here means the map is inconsistent.
			if debugChecks {
				panic("alloc: orphaned continuation page in page map")
			}
			i++
		}
	}
}

// CountBytesAllocated returns an InspectAll handler that accumulates live
// bytes into total.
func CountBytesAllocated(total *uint64) func(start, end uint64, used int) {
	return func(_, _ uint64, used int) {
		*total += uint64(used)
	}
}

// CountObjectsAllocated returns an InspectAll handler that counts live
// slots and large objects into count.
func CountObjectsAllocated(count *uint64) func(start, end uint64, used int) {
	return func(_, _ uint64, used int) {
		if used > 0 {
			*count++
		}
	}
}
