package alloc

import "sync/atomic"

// allocatorStats holds internal counters. Fields are atomic so the
// lock-free thread-local paths can bump them too.
type allocatorStats struct {
	allocOps      atomic.Uint64
	freeOps       atomic.Uint64
	bulkFreeOps   atomic.Uint64
	allocatedByte atomic.Uint64
	freedBytes    atomic.Uint64
	refills       atomic.Uint64
	growBytes     atomic.Uint64
	releasedBytes atomic.Uint64
	trimmedBytes  atomic.Uint64
}

// Stats is a point-in-time snapshot of allocator counters.
type Stats struct {
	AllocOps       uint64 // Alloc calls that succeeded
	FreeOps        uint64 // Free calls that succeeded
	BulkFreeOps    uint64 // BulkFree calls
	AllocatedBytes uint64 // Total bytes handed out (slot or page granular)
	FreedBytes     uint64 // Total bytes returned
	Refills        uint64 // Fresh runs minted from the page allocator
	GrowBytes      uint64 // Footprint growth
	ReleasedBytes  uint64 // Bytes madvised away by the release policy
	TrimmedBytes   uint64 // Bytes returned by Trim
}

// Stats returns a snapshot of the allocator's counters.
func (al *Allocator) Stats() Stats {
	return Stats{
		AllocOps:       al.stats.allocOps.Load(),
		FreeOps:        al.stats.freeOps.Load(),
		BulkFreeOps:    al.stats.bulkFreeOps.Load(),
		AllocatedBytes: al.stats.allocatedByte.Load(),
		FreedBytes:     al.stats.freedBytes.Load(),
		Refills:        al.stats.refills.Load(),
		GrowBytes:      al.stats.growBytes.Load(),
		ReleasedBytes:  al.stats.releasedBytes.Load(),
		TrimmedBytes:   al.stats.trimmedBytes.Load(),
	}
}
