package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/internal/format"
)

// newTestAllocator builds an allocator over a heap-backed arena of the
// given page count. Heap backing keeps tests deterministic across
// platforms; Release degrades to zero-fill, which is exactly the observable
// contract of madvise on the mapped path.
func newTestAllocator(t *testing.T, pages int, opts Options) *Allocator {
	t.Helper()
	ar, err := arena.NewFromBuf(make([]byte, pages*format.PageSize))
	require.NoError(t, err)
	al, err := New(ar, opts)
	require.NoError(t, err)
	return al
}

// allocN performs n allocations of the given size and returns the refs.
func allocN(t *testing.T, al *Allocator, tc *ThreadCache, n, size int) []Ref {
	t.Helper()
	refs := make([]Ref, 0, n)
	for i := 0; i < n; i++ {
		ref, buf, err := al.Alloc(tc, size)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(buf), size)
		refs = append(refs, ref)
	}
	return refs
}

// freeAll frees every ref, failing the test on the first error.
func freeAll(t *testing.T, al *Allocator, tc *ThreadCache, refs []Ref) {
	t.Helper()
	for _, ref := range refs {
		require.NoError(t, al.Free(tc, ref))
	}
}

// pageEntry returns the page map entry covering the ref.
func pageEntry(al *Allocator, ref Ref) byte {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()
	return al.pageMap[al.pageIndex(int(ref))]
}

// freeRunCount returns the number of free page runs.
func (al *Allocator) freeRunCount() int {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()
	return len(al.freePageRuns)
}

// freeRunsSnapshot returns a snapshot of (start, size) pairs for all free page
// runs, in address order.
func (al *Allocator) freeRunsSnapshot() [][2]int {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()
	out := make([][2]int, 0, len(al.freePageRuns))
	for _, off := range al.freePageRuns {
		out = append(out, [2]int{off, al.freeRunBytes(off)})
	}
	return out
}

// runStartOf returns the start offset of the run containing ref.
func runStartOf(al *Allocator, ref Ref) int {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()
	return al.runStartFor(al.pageIndex(int(ref)))
}

// bracketPoolSnapshot returns the current run, non-full set, and full set
// for a bracket.
func bracketPoolSnapshot(al *Allocator, b int) (current int, nonFull []int, full []int) {
	al.bracketMu[b].Lock()
	defer al.bracketMu[b].Unlock()
	nonFull = append(nonFull, al.nonFullRuns[b]...)
	for off := range al.fullRuns[b] {
		full = append(full, off)
	}
	return al.currentRuns[b], nonFull, full
}

// runsByBracketFromPageMap rebuilds, from the page map alone, the set of
// live run offsets per bracket. Used by the partition and consistency
// checks.
func runsByBracketFromPageMap(al *Allocator) map[int][]int {
	al.pageMu.Lock()
	defer al.pageMu.Unlock()

	out := make(map[int][]int)
	lim := al.pageIndex(al.footprint)
	for i := 0; i < lim; i++ {
		if al.pageMap[i] == pageRun {
			r := al.run(i * format.PageSize)
			out[r.bracketIdx()] = append(out[r.bracketIdx()], r.off)
		}
	}
	return out
}

// requirePoolPartition asserts that the thread caches, the current run, the
// non-full set, and the full set of bracket b are pairwise disjoint and
// together cover exactly the live runs of that bracket.
func requirePoolPartition(t *testing.T, al *Allocator, b int, caches ...*ThreadCache) {
	t.Helper()

	seen := make(map[int]string)
	note := func(off int, where string) {
		if off == noRun {
			return
		}
		prev, dup := seen[off]
		require.False(t, dup, "run %#x in both %s and %s", off, prev, where)
		seen[off] = where
	}

	for _, tc := range caches {
		if b <= format.MaxThreadLocalBracket {
			note(tc.runs[b], "thread cache")
		}
	}
	current, nonFull, full := bracketPoolSnapshot(al, b)
	note(current, "current")
	for _, off := range nonFull {
		note(off, "non-full")
	}
	for _, off := range full {
		note(off, "full")
	}

	live := runsByBracketFromPageMap(al)[b]
	require.Len(t, seen, len(live), "bracket %d: pool membership vs page map", b)
	for _, off := range live {
		_, ok := seen[off]
		require.True(t, ok, "bracket %d: live run %#x not in any pool", b, off)
	}
}
