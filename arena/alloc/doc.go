// Package alloc implements a segregated-fit, runs-of-slots allocator over a
// contiguous arena reservation.
//
// # Overview
//
// The region is divided into fixed-size pages. Requests up to 2 KiB are
// served from runs: page-aligned blocks carved into equal-sized slots for one
// of 34 size brackets. Larger requests are allocated at page granularity. A
// byte-per-page map classifies every page in O(1), which is what drives Free,
// UsableSize, and InspectAll.
//
// # Allocation regimes
//
//   - Thread-local: brackets 0..10 (slots up to 176 bytes) allocate from a
//     run cached in the caller's ThreadCache with no locking at all.
//   - Shared: the remaining brackets allocate from a per-bracket current run
//     under that bracket's mutex.
//   - Large: requests over 2 KiB go straight to the page allocator under the
//     global page mutex.
//
// # Per-slot accounting
//
// Each run carries three bit maps, one bit per slot:
//
//   - alloc: authoritative liveness. A slot is live iff its bit is set.
//   - bulk-free: scratch marks written by a garbage collector during
//     BulkFree without taking bracket locks; drained into the alloc map with
//     one bracket-lock acquisition per run.
//   - thread-local-free: scratch marks on runs cached by a thread; drained
//     by the owner when the run fills up, or at revoke.
//
// # Usage
//
//	ar, err := arena.Reserve(64 << 20)
//	if err != nil {
//	    return err
//	}
//	al, err := alloc.New(ar, alloc.Options{PageReleaseMode: alloc.ReleaseSizeAndEnd})
//	if err != nil {
//	    return err
//	}
//
//	tc := al.NewThreadCache()
//	ref, buf, err := al.Alloc(tc, 24)
//	if err != nil {
//	    return err
//	}
//	// ... use buf ...
//	err = al.Free(tc, ref)
//
// # Locking
//
// Three lock levels, always acquired in this order:
//
//	bulk-free RWMutex -> bracket mutex -> page mutex
//
// The RWMutex usage is intentionally inverted relative to its name: BulkFree
// holds the writer side while it scatters scratch bits so that no drain can
// observe a half-written map; drains and single-slot frees hold the reader
// side and serialize against each other through the bracket mutexes instead.
// The thread-local fast path takes no lock at all.
//
// # Thread caches
//
// A ThreadCache stands in for the owning thread: it must only be used by one
// goroutine at a time, and RevokeThreadLocalRuns must not race with that
// goroutine allocating. The allocator keeps a registry of live caches so a
// collector can revoke all of them at a quiescent point.
//
// # Related packages
//
//   - github.com/joshuapare/arenakit/arena: region reservation and release
//   - github.com/joshuapare/arenakit/internal/format: bracket geometry
package alloc
