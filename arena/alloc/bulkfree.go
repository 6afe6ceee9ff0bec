package alloc

import "sort"

// BulkFree frees a batch of references with one bracket-lock acquisition
// per affected run instead of one per slot. Intended for garbage
// collectors returning entire dead sets.
//
// Phase one classifies every reference and scatters scratch bits under the
// writer side of the bulk-free lock (large objects are freed on the spot).
// Phase two drains each marked run's scratch map into its alloc map under
// the run's bracket lock, adjusting pool membership and returning all-free
// runs to the page allocator.
//
// Observationally equivalent to calling Free on every reference, minus the
// per-slot locking.
func (al *Allocator) BulkFree(refs []Ref) (int, error) {
	freed := 0
	var firstErr error
	toDrain := make(map[int]struct{})

	al.bulkFreeMu.Lock()
	al.pageMu.Lock()
	for _, ref := range refs {
		off := int(ref)
		if off < 0 || off >= len(al.data) {
			if firstErr == nil {
				firstErr = ErrBadRef
			}
			continue
		}
		idx := al.pageIndex(off)
		switch al.pageMap[idx] {
		case pageLargeObject:
			n, err := al.freePages(off)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			freed += n
		case pageRun, pageRunPart:
			r := al.run(al.runStartFor(idx))
			var n int
			var err error
			if r.isThreadLocal() {
				// The owner (or revoke) drains these; no second pass
				// needed here.
				n, err = r.markThreadLocalFree(off)
			} else {
				n, err = r.markBulkFree(off)
				r.setToBeBulkFreed(true)
				toDrain[r.off] = struct{}{}
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
			freed += n
		default:
			if firstErr == nil {
				firstErr = ErrBadRef
			}
		}
	}
	al.pageMu.Unlock()
	al.bulkFreeMu.Unlock()

	// Drain phase. Deterministic order keeps lock acquisition patterns
	// reproducible.
	runs := make([]int, 0, len(toDrain))
	for off := range toDrain {
		runs = append(runs, off)
	}
	sort.Ints(runs)

	al.bulkFreeMu.RLock()
	for _, runOff := range runs {
		r := al.run(runOff)
		b := r.bracketIdx()
		al.bracketMu[b].Lock()

		if !r.toBeBulkFreed() {
			// Another drain already consumed the marks.
			al.bracketMu[b].Unlock()
			continue
		}
		r.setToBeBulkFreed(false)

		if r.isThreadLocal() {
			// The run was handed to a thread cache between the passes.
			// Its marks now belong to the owner's drain.
			r.unionBulkFreeIntoThreadLocalFree()
			al.bracketMu[b].Unlock()
			continue
		}

		wasFull := al.inFullSet(b, runOff)
		allFree, _ := r.mergeBulkFreeBitMap()
		switch {
		case allFree && al.currentRuns[b] != runOff:
			al.removeFromPools(b, runOff)
			al.pageMu.Lock()
			if _, err := al.freePages(runOff); err != nil && firstErr == nil {
				firstErr = err
			}
			al.pageMu.Unlock()
		case wasFull:
			delete(al.fullRuns[b], runOff)
			al.nonFullInsert(b, runOff)
		}
		al.bracketMu[b].Unlock()
	}
	al.bulkFreeMu.RUnlock()

	al.stats.bulkFreeOps.Add(1)
	al.stats.freedBytes.Add(uint64(freed))
	return freed, firstErr
}
