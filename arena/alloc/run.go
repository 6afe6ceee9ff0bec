package alloc

import (
	"fmt"
	"math/bits"

	"github.com/joshuapare/arenakit/internal/format"
)

// run is a view over one run's pages inside the region. The header, the
// three bit maps, and the slots all live in the region itself; the view
// carries no state of its own.
//
// Fixed header layout (see format.Bracket for the full run layout):
//
//	0x00  magic
//	0x01  bracket index
//	0x02  thread-local flag
//	0x03  to-be-bulk-freed flag
//	0x04  bump cursor (uint32)
type run struct {
	data []byte
	off  int
}

const (
	hdrMagicOff       = 0
	hdrBracketOff     = 1
	hdrThreadLocalOff = 2
	hdrBulkFreedOff   = 3
	hdrTopSlotOff     = 4
)

func (r run) magic() byte     { return r.data[r.off+hdrMagicOff] }
func (r run) bracketIdx() int { return int(r.data[r.off+hdrBracketOff]) }

func (r run) isThreadLocal() bool {
	return r.data[r.off+hdrThreadLocalOff] != 0
}

func (r run) setThreadLocal(v bool) {
	r.data[r.off+hdrThreadLocalOff] = boolByte(v)
}

func (r run) toBeBulkFreed() bool {
	return r.data[r.off+hdrBulkFreedOff] != 0
}

func (r run) setToBeBulkFreed(v bool) {
	r.data[r.off+hdrBulkFreedOff] = boolByte(v)
}

func (r run) topSlot() int {
	return int(format.ReadU32(r.data, r.off+hdrTopSlotOff))
}

func (r run) setTopSlot(n int) {
	format.PutU32(r.data, r.off+hdrTopSlotOff, uint32(n))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func (r run) bracket() format.Bracket {
	return format.Brackets[r.bracketIdx()]
}

// initialize stamps a fresh run for the given bracket. The pages may carry
// stale content from a previous life; everything the allocator reads is
// rewritten here.
func (r run) initialize(bracketIdx int) {
	r.data[r.off+hdrMagicOff] = format.RunMagic
	r.data[r.off+hdrBracketOff] = byte(bracketIdx)
	r.data[r.off+hdrThreadLocalOff] = 0
	r.data[r.off+hdrBulkFreedOff] = 0
	r.setTopSlot(0)
	r.clearBitMaps()
}

// Bit map word accessors. The three maps sit back to back after the fixed
// header; each is bracket().BitMapWords words long.

func (r run) allocWord(i int) uint32 {
	return format.ReadU32(r.data, r.off+format.RunFixedHeaderSize+4*i)
}

func (r run) setAllocWord(i int, v uint32) {
	format.PutU32(r.data, r.off+format.RunFixedHeaderSize+4*i, v)
}

func (r run) bulkFreeWord(i int) uint32 {
	return format.ReadU32(r.data, r.off+r.bracket().BulkFreeBitMapOff+4*i)
}

func (r run) setBulkFreeWord(i int, v uint32) {
	format.PutU32(r.data, r.off+r.bracket().BulkFreeBitMapOff+4*i, v)
}

func (r run) threadLocalFreeWord(i int) uint32 {
	return format.ReadU32(r.data, r.off+r.bracket().ThreadLocalFreeBitMapOff+4*i)
}

func (r run) setThreadLocalFreeWord(i int, v uint32) {
	format.PutU32(r.data, r.off+r.bracket().ThreadLocalFreeBitMapOff+4*i, v)
}

// validMask returns the mask of bits in word w that correspond to real
// slots. Bits beyond the slot count are zero by construction and stay zero.
func validMask(bk format.Bracket, w int) uint32 {
	if w == bk.BitMapWords-1 {
		if rem := bk.SlotCount % 32; rem != 0 {
			return 1<<rem - 1
		}
	}
	return ^uint32(0)
}

func (r run) slotOff(slot int) int {
	bk := r.bracket()
	return r.off + bk.HeaderSize + slot*bk.SlotSize
}

// allocSlot claims the lowest free slot and returns its index.
//
// While the run has never been freed into, every bit below the bump cursor
// is set, so the word scan lands on the cursor and this degenerates to a
// bump allocation. Once frees punch holes below the cursor, the scan finds
// the lowest hole first and the cursor stays put.
func (r run) allocSlot() (int, bool) {
	bk := r.bracket()
	for w := 0; w < bk.BitMapWords; w++ {
		v := r.allocWord(w)
		free := ^v & validMask(bk, w)
		if free == 0 {
			continue
		}
		bit := bits.TrailingZeros32(free)
		slot := w*32 + bit
		r.setAllocWord(w, v|1<<uint(bit))
		if slot == r.topSlot() {
			r.setTopSlot(slot + 1)
		}
		return slot, true
	}
	return 0, false
}

// slotIndexOf maps a reference into this run to a slot index.
func (r run) slotIndexOf(off int) (int, error) {
	bk := r.bracket()
	rel := off - (r.off + bk.HeaderSize)
	if rel < 0 || rel >= bk.SlotCount*bk.SlotSize {
		return 0, ErrBadRef
	}
	if rel%bk.SlotSize != 0 {
		return 0, ErrMisaligned
	}
	return rel / bk.SlotSize, nil
}

// freeSlot clears the alloc bit for the slot at off. The caller holds the
// bracket lock, or owns the run through its thread cache.
func (r run) freeSlot(off int) (int, error) {
	slot, err := r.slotIndexOf(off)
	if err != nil {
		return 0, err
	}
	w, bit := slot/32, uint(slot%32)
	v := r.allocWord(w)
	if v&(1<<bit) == 0 {
		return 0, ErrDoubleFree
	}
	r.setAllocWord(w, v&^(1<<bit))
	return r.bracket().SlotSize, nil
}

// markBulkFree records the slot at off in the bulk-free scratch map without
// touching the alloc map. The caller holds the bulk-free lock in writer
// mode.
func (r run) markBulkFree(off int) (int, error) {
	return r.markScratch(off, r.bulkFreeWord, r.setBulkFreeWord)
}

// markThreadLocalFree records the slot at off in the thread-local-free
// scratch map. The run must be thread-local; the owner drains the map when
// the run fills up, or at revoke.
func (r run) markThreadLocalFree(off int) (int, error) {
	return r.markScratch(off, r.threadLocalFreeWord, r.setThreadLocalFreeWord)
}

// markScratch must not read the alloc map: the owner of a thread-local run
// mutates it without locks, and a scratch mark only needs its own word. The
// "marked implies live" invariant is checked at drain time instead, where
// the locks make the read safe.
func (r run) markScratch(off int, word func(int) uint32, setWord func(int, uint32)) (int, error) {
	slot, err := r.slotIndexOf(off)
	if err != nil {
		return 0, err
	}
	w, bit := slot/32, uint(slot%32)
	setWord(w, word(w)|1<<bit)
	return r.bracket().SlotSize, nil
}

// mergeBulkFreeBitMap drains the bulk-free map into the alloc map and
// reports whether the run is entirely free afterwards. The caller holds the
// bracket lock and the reader side of the bulk-free lock.
func (r run) mergeBulkFreeBitMap() (allFree bool, freedSlots int) {
	bk := r.bracket()
	allFree = true
	for w := 0; w < bk.BitMapWords; w++ {
		bf := r.bulkFreeWord(w)
		if bf != 0 {
			if debugChecks && bf&^r.allocWord(w) != 0 {
				panic(fmt.Sprintf("alloc: bulk-free marks on free slots in %s", r.dump()))
			}
			freedSlots += bits.OnesCount32(bf)
			r.setAllocWord(w, r.allocWord(w)&^bf)
			r.setBulkFreeWord(w, 0)
		}
		if r.allocWord(w) != 0 {
			allFree = false
		}
	}
	return allFree, freedSlots
}

// mergeThreadLocalFreeBitMap drains the thread-local-free map into the
// alloc map. Called by the owner when the run fills up, and at revoke.
func (r run) mergeThreadLocalFreeBitMap() (allFree bool) {
	bk := r.bracket()
	allFree = true
	for w := 0; w < bk.BitMapWords; w++ {
		tl := r.threadLocalFreeWord(w)
		if tl != 0 {
			r.setAllocWord(w, r.allocWord(w)&^tl)
			r.setThreadLocalFreeWord(w, 0)
		}
		if r.allocWord(w) != 0 {
			allFree = false
		}
	}
	return allFree
}

// unionBulkFreeIntoThreadLocalFree folds pending bulk-free marks into the
// thread-local-free map. Needed when a run became thread-local between the
// marking and draining passes of a bulk free: the marks then belong to the
// owner's drain, not ours.
func (r run) unionBulkFreeIntoThreadLocalFree() {
	bk := r.bracket()
	for w := 0; w < bk.BitMapWords; w++ {
		bf := r.bulkFreeWord(w)
		if bf == 0 {
			continue
		}
		r.setThreadLocalFreeWord(w, r.threadLocalFreeWord(w)|bf)
		r.setBulkFreeWord(w, 0)
	}
}

// isAllFree reports whether no slot is live.
func (r run) isAllFree() bool {
	bk := r.bracket()
	for w := 0; w < bk.BitMapWords; w++ {
		if r.allocWord(w) != 0 {
			return false
		}
	}
	return true
}

// isFull reports whether every slot is live.
func (r run) isFull() bool {
	bk := r.bracket()
	for w := 0; w < bk.BitMapWords; w++ {
		if r.allocWord(w) != validMask(bk, w) {
			return false
		}
	}
	return true
}

func (r run) liveSlots() int {
	bk := r.bracket()
	n := 0
	for w := 0; w < bk.BitMapWords; w++ {
		n += bits.OnesCount32(r.allocWord(w))
	}
	return n
}

func (r run) clearBitMaps() {
	bk := r.bracket()
	for w := 0; w < bk.BitMapWords; w++ {
		r.setAllocWord(w, 0)
		r.setBulkFreeWord(w, 0)
		r.setThreadLocalFreeWord(w, 0)
	}
}

// inspectSlots reports every slot to the handler, live or not. used is the
// slot size for live slots and zero for free ones.
func (r run) inspectSlots(handler func(start, end uint64, used int)) {
	bk := r.bracket()
	for slot := 0; slot < bk.SlotCount; slot++ {
		start := r.slotOff(slot)
		used := 0
		if r.allocWord(slot/32)&(1<<uint(slot%32)) != 0 {
			used = bk.SlotSize
		}
		handler(uint64(start), uint64(start+bk.SlotSize), used)
	}
}

// checkMagic panics on a corrupted run header. Only active with
// debugChecks.
func (r run) checkMagic() {
	if debugChecks && r.magic() != format.RunMagic {
		panic(fmt.Sprintf("alloc: run at %#x has magic %d, want %d", r.off, r.magic(), format.RunMagic))
	}
}

// dump renders the run metadata for debugging.
func (r run) dump() string {
	bk := r.bracket()
	return fmt.Sprintf(
		"run@%#x bracket=%d slot=%dB slots=%d live=%d top=%d threadLocal=%v bulkFreed=%v",
		r.off, r.bracketIdx(), bk.SlotSize, bk.SlotCount, r.liveSlots(), r.topSlot(),
		r.isThreadLocal(), r.toBeBulkFreed(),
	)
}
