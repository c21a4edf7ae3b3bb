// Package str provides allocation-light integer-to-string conversions
// for use on error paths where fmt.Sprintf's reflection overhead isn't
// worth paying.
package str

import "strconv"

// Itod formats a signed integer in decimal.
func Itod(i int) string {
	return strconv.Itoa(i)
}

// Itod64 formats a 64-bit signed integer in decimal.
func Itod64(i int64) string {
	return strconv.FormatInt(i, 10)
}

// Utod formats an unsigned integer in decimal.
func Utod(u uint32) string {
	return strconv.FormatUint(uint64(u), 10)
}

// Utod64 formats a 64-bit unsigned integer in decimal.
func Utod64(u uint64) string {
	return strconv.FormatUint(u, 10)
}
