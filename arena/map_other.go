//go:build !linux && !darwin && !freebsd

package arena

import (
	"fmt"

	"github.com/joshuapare/arenakit/internal/format"
)

// Reserve allocates the region on the Go heap on platforms without an
// anonymous-mapping path. Release degrades to zero-filling.
func Reserve(capacity int) (*Arena, error) {
	if capacity <= 0 || !format.IsAligned(capacity, format.PageSize) {
		return nil, fmt.Errorf("arena: capacity %d is not a positive page multiple", capacity)
	}
	return &Arena{data: make([]byte, capacity)}, nil
}

// Close drops the buffer. All slices handed out by Bytes become invalid.
func (a *Arena) Close() error {
	a.data = nil
	return nil
}
