// Package stdx holds small helpers missing from the standard library.
package stdx

// Must1 returns v, or panics if err is not nil. Use it where an error can only
// mean a programming mistake, such as marshaling a value of a fixed shape.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
