package alloc

import (
	"fmt"
	"os"
)

// debugChecks enables the magic bytes and the internal consistency checks
// (compile-time toggle). While it is on, the first page of every free page
// run keeps its magic byte and is excluded from page release.
const debugChecks = true

// Runtime trace flag - controlled by the ARENA_TRACE env var.
var traceAlloc = os.Getenv("ARENA_TRACE") != ""

// tracef prints trace messages if ARENA_TRACE is set.
func tracef(format string, args ...any) {
	if traceAlloc {
		fmt.Fprintf(os.Stderr, "[ALLOC] "+format+"\n", args...)
	}
}
