//go:build invariants || race

package util

// InvariantsEnabled is true when built with the "invariants" or "race"
// build tags. Accessors then bounds check every column and slot argument.
const InvariantsEnabled = true
