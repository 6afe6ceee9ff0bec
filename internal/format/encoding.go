package format

import "encoding/binary"

// Binary encoding utilities for little-endian integers.
//
// Run headers and bit maps live inside the managed region itself, so the
// allocator reads and writes them through these helpers rather than casting
// the backing slice.
//
// Implementation: encoding/binary.LittleEndian. The compiler inlines these
// into single loads and stores; unsafe variants measured no faster in the
// workloads we benchmarked.

// PutU32 writes a uint32 value to the buffer at the specified offset in little-endian format.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// ReadU32 reads a uint32 value from the buffer at the specified offset in little-endian format.
func ReadU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// PutU64 writes a uint64 value to the buffer at the specified offset in little-endian format.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// ReadU64 reads a uint64 value from the buffer at the specified offset in little-endian format.
func ReadU64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}
