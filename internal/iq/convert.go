// SPDX-License-Identifier: MIT
package iq

// u8Table maps an unsigned 8-bit sample to a value centered on zero in [-1, 1].
var u8Table [256]float32

func init() {
	for i := range u8Table {
		u8Table[i] = float32((float64(i) - 127.5) / 127.5)
	}
}

// ConvertU8 decodes interleaved unsigned 8-bit I/Q pairs from raw into dst and
// returns the number of pairs written. A trailing odd byte is ignored, and
// conversion stops when dst is full.
func ConvertU8(dst []complex64, raw []byte) int {
	n := len(raw) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := range n {
		dst[i] = complex(u8Table[raw[2*i]], u8Table[raw[2*i+1]])
	}
	return n
}

// U8ToFloat returns the centered float value for a single unsigned byte.
func U8ToFloat(b byte) float32 {
	return u8Table[b]
}
