package alloc

import (
	"sort"

	"github.com/joshuapare/arenakit/internal/format"
)

// Per-bracket pool bookkeeping. All helpers here require the bracket lock.
//
// nonFullRuns is kept sorted by address so refills prefer low runs, which
// keeps the population dense at the bottom of the region. fullRuns is
// tracked unconditionally: a full run must be findable when a free turns it
// non-full again, and the set doubles as the partition witness in tests.

func (al *Allocator) nonFullInsert(b, off int) {
	runs := al.nonFullRuns[b]
	pos := sort.SearchInts(runs, off)
	runs = append(runs, 0)
	copy(runs[pos+1:], runs[pos:])
	runs[pos] = off
	al.nonFullRuns[b] = runs
}

func (al *Allocator) nonFullRemove(b, off int) bool {
	runs := al.nonFullRuns[b]
	pos := sort.SearchInts(runs, off)
	if pos >= len(runs) || runs[pos] != off {
		return false
	}
	al.nonFullRuns[b] = append(runs[:pos], runs[pos+1:]...)
	return true
}

func (al *Allocator) inFullSet(b, off int) bool {
	_, ok := al.fullRuns[b][off]
	return ok
}

// removeFromPools takes the run out of whichever pool set holds it.
func (al *Allocator) removeFromPools(b, off int) {
	if al.nonFullRemove(b, off) {
		return
	}
	delete(al.fullRuns[b], off)
}

// fullAdd retires a run into the full set.
func (al *Allocator) fullAdd(b, off int) {
	al.fullRuns[b][off] = struct{}{}
}

// refillRun produces a run for bracket b with at least one free slot: the
// lowest-address non-full run if one exists, otherwise a freshly minted one
// from the page allocator. Returns noRun when the footprint limit blocks
// growth. Requires the bracket lock; takes the page lock internally (the
// lock order permits holding both).
func (al *Allocator) refillRun(b int) int {
	if runs := al.nonFullRuns[b]; len(runs) > 0 {
		off := runs[0]
		al.nonFullRuns[b] = runs[1:]
		return off
	}

	bk := format.Brackets[b]
	al.pageMu.Lock()
	off, ok := al.allocPages(bk.PagesPerRun, pageRun)
	al.pageMu.Unlock()
	if !ok {
		return noRun
	}

	r := run{data: al.data, off: off}
	r.initialize(b)
	al.stats.refills.Add(1)
	tracef("minted run for bracket %d at %#x (%d slots of %d bytes)", b, off, bk.SlotCount, bk.SlotSize)
	return off
}

// allocFromRun serves a small or medium request. Returns the slot offset
// and the granted slot size.
func (al *Allocator) allocFromRun(tc *ThreadCache, size int) (int, int, error) {
	b, slotSize := format.SizeToBracketAndSlotSize(size)
	if tc != nil && b <= format.MaxThreadLocalBracket {
		off, err := al.allocThreadLocal(tc, b)
		return off, slotSize, err
	}
	off, err := al.allocShared(b)
	return off, slotSize, err
}

// allocThreadLocal claims a slot from the caller's cached run for bracket
// b, with no locking on the hit path. On exhaustion it drains the run's
// thread-local-free map; if the run is still full it is retired to the
// shared pools and replaced.
func (al *Allocator) allocThreadLocal(tc *ThreadCache, b int) (int, error) {
	for {
		if off := tc.runs[b]; off != noRun {
			r := al.run(off)
			if slot, ok := r.allocSlot(); ok {
				return r.slotOff(slot), nil
			}

			// Exhausted. A collector may have staged frees in the
			// thread-local-free map; drain it and retry before giving the
			// run up.
			al.bulkFreeMu.RLock()
			al.bracketMu[b].Lock()
			r.mergeThreadLocalFreeBitMap()
			if !r.isFull() {
				al.bracketMu[b].Unlock()
				al.bulkFreeMu.RUnlock()
				continue
			}

			// Still full: hand it to the shared pools and refill.
			r.setThreadLocal(false)
			al.fullAdd(b, off)
			tc.runs[b] = noRun
			if err := al.installFreshThreadLocal(tc, b); err != nil {
				al.bracketMu[b].Unlock()
				al.bulkFreeMu.RUnlock()
				return 0, err
			}
			al.bracketMu[b].Unlock()
			al.bulkFreeMu.RUnlock()
			continue
		}

		al.bulkFreeMu.RLock()
		al.bracketMu[b].Lock()
		err := al.installFreshThreadLocal(tc, b)
		al.bracketMu[b].Unlock()
		al.bulkFreeMu.RUnlock()
		if err != nil {
			return 0, err
		}
	}
}

// installFreshThreadLocal refills a run and installs it as tc's cache for
// bracket b. Requires the bracket lock and the reader side of the bulk-free
// lock so the thread-local flag cannot flip mid-mark under a concurrent
// bulk free.
func (al *Allocator) installFreshThreadLocal(tc *ThreadCache, b int) error {
	off := al.refillRun(b)
	if off == noRun {
		return ErrNoSpace
	}
	al.run(off).setThreadLocal(true)
	tc.runs[b] = off
	return nil
}

// allocShared claims a slot from the bracket's current run under its lock,
// retiring and refilling the current run as it fills up.
func (al *Allocator) allocShared(b int) (int, error) {
	al.bracketMu[b].Lock()
	defer al.bracketMu[b].Unlock()

	for {
		cur := al.currentRuns[b]
		if cur == noRun {
			cur = al.refillRun(b)
			if cur == noRun {
				return 0, ErrNoSpace
			}
			al.currentRuns[b] = cur
		}
		r := al.run(cur)
		if slot, ok := r.allocSlot(); ok {
			return r.slotOff(slot), nil
		}
		// The current run is full; retire it and loop to refill.
		al.fullAdd(b, cur)
		al.currentRuns[b] = noRun
	}
}
