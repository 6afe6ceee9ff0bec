//go:build linux || freebsd

package arena

import (
	"golang.org/x/sys/unix"
)

// advise discards the physical backing of the range with
// madvise(MADV_DONTNEED). For an anonymous private mapping the kernel
// zero-fills the pages on the next touch.
func (a *Arena) advise(off, n int) error {
	return unix.Madvise(a.data[off:off+n], unix.MADV_DONTNEED)
}
