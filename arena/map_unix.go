//go:build linux || darwin || freebsd

package arena

import (
	"fmt"
	"syscall"

	"github.com/joshuapare/arenakit/internal/format"
)

// Reserve maps an anonymous, page-aligned region of the given capacity. The
// mapping starts out untouched, so it costs no physical memory until pages
// are written.
func Reserve(capacity int) (*Arena, error) {
	if capacity <= 0 || !format.IsAligned(capacity, format.PageSize) {
		return nil, fmt.Errorf("arena: capacity %d is not a positive page multiple", capacity)
	}

	data, err := syscall.Mmap(
		-1,
		0,
		capacity,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_ANON|syscall.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap failed: %w", err)
	}

	return &Arena{data: data, mapped: true}, nil
}

// Close unmaps the region. All slices handed out by Bytes become invalid.
func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}
	data := a.data
	a.data = nil
	if !a.mapped {
		return nil
	}
	a.mapped = false
	if err := syscall.Munmap(data); err != nil {
		return fmt.Errorf("arena: munmap failed: %w", err)
	}
	return nil
}
