//go:build !invariants && !race

package util

const InvariantsEnabled = false
