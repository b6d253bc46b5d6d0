package crypto

import (
	"github.com/ethshard/beacon-core/primitives"
	"golang.org/x/crypto/sha3"
)

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Root calculates Keccak-256 and returns it as a primitives.Root.
// Used outside the SSZ hash-tree-root path, e.g. by
// engine.ComputeTransactionsRoot.
func Keccak256Root(data ...[]byte) primitives.Root {
	var r primitives.Root
	copy(r[:], Keccak256(data...))
	return r
}
