package bitcoin

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// RPCInterface defines the bitcoind operations used by the solo client.
// This interface allows for easy mocking in tests.
type RPCInterface interface {
	// GetBlockTemplate retrieves a block template for mining
	GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error)

	// SubmitBlock submits a solved block
	SubmitBlock(ctx context.Context, block *btcutil.Block) error

	// Ping tests the connection
	Ping(ctx context.Context) error

	// Close releases the connection
	Close()
}

// BlockNotifier delivers new chain tips as they arrive.
type BlockNotifier interface {
	// Listen blocks until ctx is done, calling onBlock for every new tip.
	Listen(ctx context.Context, onBlock func(hash *chainhash.Hash)) error

	// Close releases the underlying socket.
	Close() error
}

var (
	_ RPCInterface  = (*RPCClient)(nil)
	_ BlockNotifier = (*ZMQNotifier)(nil)
)
