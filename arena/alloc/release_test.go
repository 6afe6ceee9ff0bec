package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/internal/format"
)

const mib = 1 << 20

func allocPagesOf(t *testing.T, al *Allocator, bytes int) Ref {
	t.Helper()
	ref, _, err := al.Alloc(nil, bytes)
	require.NoError(t, err)
	return ref
}

// Size mode with the default 4 MiB threshold: a 3 MiB free run keeps its
// backing, a 5 MiB run is released.
func Test_ReleaseSizeThreshold(t *testing.T) {
	al := newTestAllocator(t, 4096, Options{PageReleaseMode: ReleaseSize})

	small := allocPagesOf(t, al, 3*mib)
	sep := allocPagesOf(t, al, format.PageSize) // keeps the two runs apart
	big := allocPagesOf(t, al, 5*mib)

	require.NoError(t, al.Free(nil, small))
	require.Zero(t, al.Stats().ReleasedBytes, "3 MiB run below threshold")

	require.NoError(t, al.Free(nil, big))
	// The first page stays committed for the magic byte; the interior goes.
	require.Equal(t, uint64(5*mib-format.PageSize), al.Stats().ReleasedBytes)

	require.NoError(t, al.Free(nil, sep))
}

func Test_ReleaseNone(t *testing.T) {
	al := newTestAllocator(t, 2048, Options{PageReleaseMode: ReleaseNone})

	ref := allocPagesOf(t, al, 6*mib)
	require.NoError(t, al.Free(nil, ref))
	require.Zero(t, al.Stats().ReleasedBytes)
}

func Test_ReleaseAll(t *testing.T) {
	al := newTestAllocator(t, 64, Options{PageReleaseMode: ReleaseAll})

	ref := allocPagesOf(t, al, 3*format.PageSize)
	require.NoError(t, al.Free(nil, ref))
	require.Equal(t, uint64(2*format.PageSize), al.Stats().ReleasedBytes)

	// Released interiors read back as zero; the magic page survives.
	start := int(ref)
	require.Equal(t, byte(format.FreePageRunMagic), al.data[start])
	for i := start + format.PageSize; i < start+3*format.PageSize; i++ {
		require.Zero(t, al.data[i])
	}
}

func Test_ReleaseEnd(t *testing.T) {
	al := newTestAllocator(t, 64, Options{PageReleaseMode: ReleaseEnd})

	a := allocPagesOf(t, al, 2*format.PageSize)
	b := allocPagesOf(t, al, 2*format.PageSize)

	// a is not at the end: no release.
	require.NoError(t, al.Free(nil, a))
	require.Zero(t, al.Stats().ReleasedBytes)

	// Freeing b coalesces into a run ending at the footprint: released.
	require.NoError(t, al.Free(nil, b))
	require.Equal(t, uint64(4*format.PageSize-format.PageSize), al.Stats().ReleasedBytes)
}

func Test_ReleaseSizeAndEnd(t *testing.T) {
	al := newTestAllocator(t, 4096, Options{
		PageReleaseMode:          ReleaseSizeAndEnd,
		PageReleaseSizeThreshold: mib,
	})

	a := allocPagesOf(t, al, 2*mib)
	pin := allocPagesOf(t, al, format.PageSize)

	// Over the threshold but not at the end: kept.
	require.NoError(t, al.Free(nil, a))
	require.Zero(t, al.Stats().ReleasedBytes)

	// Freeing the pin coalesces everything into a run that is both big
	// and at the end.
	require.NoError(t, al.Free(nil, pin))
	require.Equal(t, uint64(2*mib+format.PageSize-format.PageSize), al.Stats().ReleasedBytes)
}

func Test_TrimReleasesTail(t *testing.T) {
	al := newTestAllocator(t, 256, Options{})

	a := allocPagesOf(t, al, 4*format.PageSize)
	require.False(t, al.Trim(), "nothing free yet")

	require.NoError(t, al.Free(nil, a))
	require.True(t, al.Trim())
	require.Zero(t, al.Footprint())
	require.Equal(t, uint64(4*format.PageSize), al.Stats().TrimmedBytes)

	// The whole trimmed range reads back as zero, magic page included.
	for i := 0; i < 4*format.PageSize; i++ {
		require.Zero(t, al.data[i])
	}
}

func Test_ReleaseModeString(t *testing.T) {
	require.Equal(t, "none", ReleaseNone.String())
	require.Equal(t, "end", ReleaseEnd.String())
	require.Equal(t, "size", ReleaseSize.String())
	require.Equal(t, "size-and-end", ReleaseSizeAndEnd.String())
	require.Equal(t, "all", ReleaseAll.String())
	require.Equal(t, "unknown", PageReleaseMode(99).String())
}
