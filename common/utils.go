package common

import "cmp"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// Clamp limits v to the closed range [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// MipDim returns the size of one axis at the given mip level, never smaller than 1.
//
// Parameters:
//   - size: the base (mip 0) size
//   - mip: the mip level
//
// Returns:
//   - uint32: the size at that level
func MipDim(size uint32, mip int) uint32 {
	return max(size>>uint(mip), 1)
}
