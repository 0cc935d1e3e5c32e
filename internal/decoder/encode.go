package decoder

import "github.com/sweeney/filament-sensor/internal/ring"

// FrameBits returns the line level of every bit cell of a frame carrying
// word, starting with the start bit. true is high.
func FrameBits(word uint16) []bool {
	bits := make([]bool, 0, 2+nibblesPerWord*bitsPerNibble)
	bits = append(bits, false, true)
	for n := nibblesPerWord - 1; n >= 0; n-- {
		nibble := word >> (4 * n) & 0xF
		for b := 3; b >= 0; b-- {
			bits = append(bits, nibble>>b&1 != 0)
		}
		bits = append(bits, nibble&1 == 0)
	}
	return bits
}

// EdgesFromBits converts bit cell levels into edge times, starting from an
// idle-high line and returning to idle after the last cell.
func EdgesFromBits(bits []bool, start ring.Tick, bitLen uint32) []ring.Tick {
	var edges []ring.Tick
	level := true
	for i, b := range bits {
		if b != level {
			edges = append(edges, start+ring.Tick(uint32(i)*bitLen))
			level = b
		}
	}
	if !level {
		edges = append(edges, start+ring.Tick(uint32(len(bits))*bitLen))
	}
	return edges
}

// EncodeFrame returns the edge times of a frame carrying word whose start
// bit begins at start.
func EncodeFrame(word uint16, start ring.Tick, bitLen uint32) []ring.Tick {
	return EdgesFromBits(FrameBits(word), start, bitLen)
}

// FrameDuration returns the length of one frame in ticks.
func FrameDuration(bitLen uint32) uint32 {
	return uint32(2+nibblesPerWord*bitsPerNibble) * bitLen
}
