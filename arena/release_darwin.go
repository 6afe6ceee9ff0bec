//go:build darwin

package arena

import (
	"golang.org/x/sys/unix"
)

// advise discards the physical backing of the range.
//
// On Darwin, MADV_DONTNEED does not drop the pages the way Linux does;
// MADV_FREE tells the kernel it may reclaim them lazily, and the range
// reads back as zero once it does. We zero eagerly so callers observe the
// same contents on every platform.
func (a *Arena) advise(off, n int) error {
	zero(a.data[off : off+n])
	return unix.Madvise(a.data[off:off+n], unix.MADV_FREE)
}
