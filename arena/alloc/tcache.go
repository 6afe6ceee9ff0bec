package alloc

import "github.com/joshuapare/arenakit/internal/format"

// ThreadCache holds one cached run per thread-local bracket. It stands in
// for the owning thread: exactly one goroutine may allocate or free through
// it at a time. Cross-thread frees into its runs are staged in the runs'
// thread-local-free maps and drained by the owner, so the cache itself is
// never touched by other threads.
type ThreadCache struct {
	al   *Allocator
	runs [format.MaxThreadLocalBracket + 1]int
}

// NewThreadCache registers and returns an empty cache. Runs are attached
// lazily on first allocation per bracket.
func (al *Allocator) NewThreadCache() *ThreadCache {
	tc := &ThreadCache{al: al}
	for b := range tc.runs {
		tc.runs[b] = noRun
	}
	al.cacheMu.Lock()
	al.caches[tc] = struct{}{}
	al.cacheMu.Unlock()
	return tc
}

// Close revokes the cache's runs and unregisters it. The cache must not be
// used afterwards.
func (tc *ThreadCache) Close() {
	tc.al.RevokeThreadLocalRuns(tc)
	tc.al.cacheMu.Lock()
	delete(tc.al.caches, tc)
	tc.al.cacheMu.Unlock()
}

// RevokeThreadLocalRuns detaches every run cached by tc, drains the scratch
// maps, and files the runs back into the shared pools (or returns all-free
// ones to the page allocator). The owner must not be allocating through tc
// concurrently; a collector calls this at a quiescent point or on thread
// exit.
func (al *Allocator) RevokeThreadLocalRuns(tc *ThreadCache) {
	for b := 0; b <= format.MaxThreadLocalBracket; b++ {
		off := tc.runs[b]
		if off == noRun {
			continue
		}
		tc.runs[b] = noRun

		al.bulkFreeMu.RLock()
		al.bracketMu[b].Lock()

		r := al.run(off)
		// A bulk free that classified this run before it became (or while
		// it was) thread-local may have left marks in either scratch map.
		r.unionBulkFreeIntoThreadLocalFree()
		allFree := r.mergeThreadLocalFreeBitMap()
		r.setThreadLocal(false)
		r.setToBeBulkFreed(false)

		switch {
		case allFree:
			al.pageMu.Lock()
			_, _ = al.freePages(off)
			al.pageMu.Unlock()
		case r.isFull():
			al.fullAdd(b, off)
		default:
			al.nonFullInsert(b, off)
		}

		al.bracketMu[b].Unlock()
		al.bulkFreeMu.RUnlock()
	}
}

// RevokeAllThreadLocalRuns revokes every registered cache. Callers
// coordinate quiescence the same way as for RevokeThreadLocalRuns.
func (al *Allocator) RevokeAllThreadLocalRuns() {
	al.cacheMu.Lock()
	caches := make([]*ThreadCache, 0, len(al.caches))
	for tc := range al.caches {
		caches = append(caches, tc)
	}
	al.cacheMu.Unlock()

	for _, tc := range caches {
		al.RevokeThreadLocalRuns(tc)
	}
}
