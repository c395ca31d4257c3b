package websocket

import "encoding/binary"

// wordMaskThreshold is the payload length, in bytes, at or above which
// applyMask switches from the scalar byte loop to the block-parallel
// path. Below this the fixed per-call overhead of building the 8-byte
// repeated key dominates and the scalar loop wins.
const wordMaskThreshold = 16

// applyMaskFast XORs data against mask 16 bytes at a time using two
// chained 64-bit words, then falls back to the scalar loop for the
// remainder. It is bit-identical to applyMaskScalar for every input;
// the block processing is strictly a throughput optimization, not a
// different algorithm.
func applyMaskFast(data []byte, mask [4]byte) {
	// Repeat the 4-byte key to fill a 64-bit word so one XOR covers 8
	// bytes, and do that twice per loop iteration to cover a 16-byte
	// block in the spirit of a 128-bit vector register.
	var key8 [8]byte
	copy(key8[:4], mask[:])
	copy(key8[4:], mask[:])
	maskWord := binary.LittleEndian.Uint64(key8[:])

	n := len(data)
	blocks := n - n%16
	for i := 0; i < blocks; i += 16 {
		lo := binary.LittleEndian.Uint64(data[i : i+8])
		hi := binary.LittleEndian.Uint64(data[i+8 : i+16])
		binary.LittleEndian.PutUint64(data[i:i+8], lo^maskWord)
		binary.LittleEndian.PutUint64(data[i+8:i+16], hi^maskWord)
	}

	if blocks < n {
		// Remainder shorter than one block; mask index must keep
		// cycling from where the block loop left off.
		tail := data[blocks:]
		for i := range tail {
			tail[i] ^= mask[(blocks+i)%4]
		}
	}
}
