// Package format houses the immutable geometry of the runs-of-slots heap
// layout. The goal is to keep the byte-level constants, the size-bracket
// tables, and the alignment math in one dependency-free place so the
// allocator packages can orchestrate the data in a more ergonomic form.
package format

const (
	// PageSize is the granularity of the page map and of all page-level
	// bookkeeping. Every run and every large object starts on a page
	// boundary.
	PageSize = 4096

	// Quantum is the spacing of the small size brackets. Slot sizes for
	// brackets 0..NumQuantumBrackets-1 are multiples of Quantum.
	Quantum = 16

	// NumSizeBrackets is the total number of size brackets.
	NumSizeBrackets = 34

	// NumQuantumBrackets is the number of small brackets that are Quantum
	// bytes apart (16, 32, ..., 512). The remaining two brackets hold
	// 1 KiB and 2 KiB slots.
	NumQuantumBrackets = 32

	// LargeSizeThreshold is the largest request served from a run. Anything
	// bigger is allocated at page granularity straight from the page
	// allocator.
	LargeSizeThreshold = 2048

	// MaxThreadLocalBracket is the highest bracket index served from
	// per-thread cached runs. Brackets above it always go through the
	// shared per-bracket pools.
	MaxThreadLocalBracket = 10

	// RunMagic is written into the first header byte of every live run.
	RunMagic = 42

	// FreePageRunMagic is written into the first byte of every free page
	// run. Only the first page of a free run carries it, so the interior
	// pages can be released back to the kernel.
	FreePageRunMagic = 43

	// RunFixedHeaderSize is the size of the fixed part of a run header:
	// magic, bracket index, thread-local flag, bulk-freed flag, and the
	// 32-bit bump cursor. The three bit maps follow immediately after.
	RunFixedHeaderSize = 8

	// SlotAlignment is the guaranteed alignment of every slot. All bracket
	// sizes are multiples of it, so aligning the run header up to it keeps
	// every slot aligned.
	SlotAlignment = 16

	// DefaultPageReleaseThreshold is the default minimum size of a free
	// page run before its backing pages are handed back to the kernel
	// under the size-triggered release modes.
	DefaultPageReleaseThreshold = 4 << 20
)
