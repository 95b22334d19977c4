package work

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CountBlockHashes counts header hashes until the returned restore is called.
func CountBlockHashes(counter *int) (restore func()) {
	orig := blockHash
	blockHash = func(h *wire.BlockHeader) chainhash.Hash {
		*counter++
		return orig(h)
	}
	return func() { blockHash = orig }
}
