// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two arithmetic used to size FFT frames
and transfer buffers.

All functions are allocation free and constant time.

	// Largest FFT that fits in a 16384-sample buffer
	n := bitint.PrevPowerOfTwo(16384) // 16384

	// Round a requested spectrum size up
	n = bitint.NextPowerOfTwo(1000) // 1024

NextPowerOfTwo subtracts one before taking the bit length so an exact power
of two maps to itself:

	size 8: bits.Len(7) = 3, 1<<3 = 8
	size 9: bits.Len(8) = 4, 1<<4 = 16
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size. Non-positive sizes
// return 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// PrevPowerOfTwo returns the largest power of 2 <= size, or 0 when size is
// not positive.
//
//	Input  Output
//	16384  16384
//	8191   4096
//	1      1
//	0      0
func PrevPowerOfTwo(size int) int {
	if size <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(size)) - 1)
}

// IsPowerOfTwo reports whether n is a positive power of 2. A power of two has
// one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns the exponent of a power of two, or -1 otherwise.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
