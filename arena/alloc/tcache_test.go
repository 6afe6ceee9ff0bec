package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/internal/format"
)

func Test_ThreadLocalPathUsesCachedRun(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})
	tc := al.NewThreadCache()

	refs := allocN(t, al, tc, 5, 16)

	// All five share the cached run, and that run is flagged thread-local.
	r := al.run(runStartOf(al, refs[0]))
	require.True(t, r.isThreadLocal())
	require.Equal(t, r.off, tc.runs[0])
	for _, ref := range refs[1:] {
		require.Equal(t, r.off, runStartOf(al, ref))
	}

	// Brackets above the thread-local cutoff never touch the cache.
	_, _, err := al.Alloc(tc, 1024)
	require.NoError(t, err)
	b := format.SizeToBracket(1024)
	require.Greater(t, b, format.MaxThreadLocalBracket)
	current, _, _ := bracketPoolSnapshot(al, b)
	require.NotEqual(t, noRun, current)
}

// The revoke race scenario: a collector bulk-frees slots of a cached run,
// then the cache is revoked. The staged marks drain, the thread-local map
// ends up empty, and the run lands in the non-full set.
func Test_RevokeAfterBulkFree(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})
	tc := al.NewThreadCache()

	refs := allocN(t, al, tc, 5, 16)
	r := al.run(runStartOf(al, refs[0]))

	// The collector frees three of the five while the run is cached.
	freed, err := al.BulkFree(refs[1:4])
	require.NoError(t, err)
	require.Equal(t, 3*16, freed)

	// Marks are staged, not applied: liveness is untouched so far.
	require.Equal(t, 5, r.liveSlots())

	al.RevokeThreadLocalRuns(tc)

	require.Equal(t, 2, r.liveSlots())
	require.False(t, r.isThreadLocal())
	for w := 0; w < r.bracket().BitMapWords; w++ {
		require.Zero(t, r.threadLocalFreeWord(w))
		require.Zero(t, r.bulkFreeWord(w))
	}

	current, nonFull, full := bracketPoolSnapshot(al, 0)
	require.Equal(t, noRun, current)
	require.Equal(t, []int{r.off}, nonFull)
	require.Empty(t, full)
	require.Equal(t, noRun, tc.runs[0])
}

// A free from a thread that doesn't own the run is staged in the run's
// thread-local-free map and drained by the owner when the run fills up.
func Test_CrossThreadFreeIsStaged(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})
	owner := al.NewThreadCache()
	other := al.NewThreadCache()

	refs := allocN(t, al, owner, 3, 16)
	r := al.run(runStartOf(al, refs[0]))

	require.NoError(t, al.Free(other, refs[0]))

	// Staged: the alloc map still shows three live slots.
	require.Equal(t, 3, r.liveSlots())

	// Fill the run; the owner drains the staged free and keeps going in
	// the same run rather than retiring it.
	bk := format.Brackets[0]
	extra := allocN(t, al, owner, bk.SlotCount-3, 16)
	require.Equal(t, r.off, runStartOf(al, extra[len(extra)-1]))

	ref, _, err := al.Alloc(owner, 16)
	require.NoError(t, err)
	require.Equal(t, refs[0], ref, "drained slot is reused in place")
	require.Equal(t, r.off, owner.runs[0])
}

func Test_RevokeAllThreadLocalRuns(t *testing.T) {
	al := newTestAllocator(t, 128, Options{})
	tc1 := al.NewThreadCache()
	tc2 := al.NewThreadCache()

	allocN(t, al, tc1, 3, 16)
	allocN(t, al, tc2, 3, 32)

	require.NotEqual(t, noRun, tc1.runs[0])
	require.NotEqual(t, noRun, tc2.runs[1])

	al.RevokeAllThreadLocalRuns()

	require.Equal(t, noRun, tc1.runs[0])
	require.Equal(t, noRun, tc2.runs[1])

	for _, b := range []int{0, 1} {
		_, nonFull, full := bracketPoolSnapshot(al, b)
		require.Len(t, nonFull, 1, "bracket %d", b)
		require.Empty(t, full, "bracket %d", b)
	}
}

func Test_ThreadCacheClose(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})
	tc := al.NewThreadCache()

	refs := allocN(t, al, tc, 2, 16)
	tc.Close()

	al.cacheMu.Lock()
	_, registered := al.caches[tc]
	al.cacheMu.Unlock()
	require.False(t, registered)

	// The runs went back to the shared pools; frees still work without
	// the cache.
	freeAll(t, al, nil, refs)
}

// Revoking an entirely-free cached run returns its pages instead of
// parking an empty run in the pools.
func Test_RevokeFreesEmptyRun(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})
	tc := al.NewThreadCache()

	refs := allocN(t, al, tc, 4, 16)
	freeAll(t, al, tc, refs)

	al.RevokeThreadLocalRuns(tc)

	_, nonFull, full := bracketPoolSnapshot(al, 0)
	require.Empty(t, nonFull)
	require.Empty(t, full)
	require.Equal(t, 1, al.freeRunCount())
}
