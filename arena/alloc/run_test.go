package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/internal/format"
)

// The bump-to-scan transition: a fresh run bumps monotonically; after the
// first free, allocation reuses the hole and the cursor stays put.
func Test_BumpToScanTransition(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})
	tc := al.NewThreadCache()

	refs := allocN(t, al, tc, 4, 16)
	r := al.run(runStartOf(al, refs[0]))
	require.Equal(t, 4, r.topSlot())

	// Free the second slot.
	require.NoError(t, al.Free(tc, refs[1]))

	// The next allocation returns the freed slot's address, not slot 4.
	ref, _, err := al.Alloc(tc, 16)
	require.NoError(t, err)
	require.Equal(t, refs[1], ref)
	require.Equal(t, 4, r.topSlot())

	// With the hole plugged, bumping resumes.
	ref5, _, err := al.Alloc(tc, 16)
	require.NoError(t, err)
	require.Equal(t, uint64(r.slotOff(4)), ref5)
	require.Equal(t, 5, r.topSlot())
}

// Freed slots are reused lowest-first before the bump cursor expands.
func Test_SlotReuseIsLowestFirst(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})
	tc := al.NewThreadCache()

	refs := allocN(t, al, tc, 10, 16)

	// Free three slots out of order.
	for _, i := range []int{7, 2, 5} {
		require.NoError(t, al.Free(tc, refs[i]))
	}

	// They come back in address order.
	for _, want := range []int{2, 5, 7} {
		ref, _, err := al.Alloc(tc, 16)
		require.NoError(t, err)
		require.Equal(t, refs[want], ref)
	}
}

func Test_RunFillsExactly(t *testing.T) {
	al := newTestAllocator(t, 256, Options{})
	tc := al.NewThreadCache()

	bk := format.Brackets[0]
	refs := allocN(t, al, tc, bk.SlotCount, 16)

	r := al.run(runStartOf(al, refs[0]))
	require.True(t, r.isFull())
	require.Equal(t, bk.SlotCount, r.liveSlots())
	require.Equal(t, bk.SlotCount, r.topSlot())

	// One more allocation rolls over to a second run.
	next, _, err := al.Alloc(tc, 16)
	require.NoError(t, err)
	require.NotEqual(t, r.off, runStartOf(al, next))
}

func Test_MergeBulkFreeBitMap(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})

	refs := allocN(t, al, nil, 6, 16)
	r := al.run(runStartOf(al, refs[0]))

	for _, ref := range refs[:3] {
		_, err := r.markBulkFree(int(ref))
		require.NoError(t, err)
	}

	allFree, freed := r.mergeBulkFreeBitMap()
	require.False(t, allFree)
	require.Equal(t, 3, freed)
	require.Equal(t, 3, r.liveSlots())

	// The scratch map drained.
	for w := 0; w < r.bracket().BitMapWords; w++ {
		require.Zero(t, r.bulkFreeWord(w))
	}

	for _, ref := range refs[3:] {
		_, err := r.markBulkFree(int(ref))
		require.NoError(t, err)
	}
	allFree, freed = r.mergeBulkFreeBitMap()
	require.True(t, allFree)
	require.Equal(t, 3, freed)
}

func Test_UnionBulkFreeIntoThreadLocalFree(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})

	refs := allocN(t, al, nil, 4, 16)
	r := al.run(runStartOf(al, refs[0]))

	_, err := r.markBulkFree(int(refs[0]))
	require.NoError(t, err)
	_, err = r.markThreadLocalFree(int(refs[1]))
	require.NoError(t, err)

	r.unionBulkFreeIntoThreadLocalFree()
	for w := 0; w < r.bracket().BitMapWords; w++ {
		require.Zero(t, r.bulkFreeWord(w))
	}

	allFree := r.mergeThreadLocalFreeBitMap()
	require.False(t, allFree)
	require.Equal(t, 2, r.liveSlots(), "both staged slots freed by the drain")
}

func Test_ValidMask(t *testing.T) {
	// Partial last word.
	bk := format.Bracket{SlotCount: 40, BitMapWords: 2}
	require.Equal(t, ^uint32(0), validMask(bk, 0))
	require.Equal(t, uint32(1<<8-1), validMask(bk, 1))

	// Exact multiple of 32.
	bk = format.Bracket{SlotCount: 64, BitMapWords: 2}
	require.Equal(t, ^uint32(0), validMask(bk, 0))
	require.Equal(t, ^uint32(0), validMask(bk, 1))
}

func Test_RunDumpMentionsGeometry(t *testing.T) {
	al := newTestAllocator(t, 64, Options{})

	refs := allocN(t, al, nil, 2, 200)
	out, err := al.DumpRun(refs[0])
	require.NoError(t, err)
	require.Contains(t, out, "bracket=12")
	require.Contains(t, out, "live=2")

	_, err = al.DumpRun(Ref(50 * format.PageSize))
	require.ErrorIs(t, err, ErrBadRef)
}
