package audio

import "encoding/binary"

// PutS16LE encodes src into dst as little-endian 16-bit samples and returns
// the number of samples written, which is limited by len(dst)/2.
func PutS16LE(dst []byte, src []int16) int {
	n := min(len(src), len(dst)/2)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(src[i]))
	}
	return n
}

// S16LE decodes little-endian 16-bit samples from src into a new slice.
func S16LE(src []byte) []int16 {
	out := make([]int16, len(src)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	return out
}
