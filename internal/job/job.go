// Package job defines what the miner needs to know about upstream work and
// the clients that supply it.
package job

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/node"
)

// Bitcoin is a block header template handed down by a client. Implementations
// are immutable once created, apart from IsValid turning false.
type Bitcoin interface {
	// Origin is a weak reference to the client that produced the job.
	Origin() *Origin
	Version() uint32
	// VersionMask marks the header version bits that may be rolled.
	VersionMask() uint32
	PreviousHash() *chainhash.Hash
	MerkleRoot() *chainhash.Hash
	Time() uint32
	Bits() uint32
	// Target is the share target the client asks for. It is never harder than Bits.
	Target() bitcoin.Target
	IsValid() bool
}

// Client supplies jobs and receives the solutions found for them.
type Client interface {
	node.Info
	Start(ctx context.Context) error
	Stop()
	// LastJob returns the newest job, if the client has produced one.
	LastJob(ctx context.Context) (Bitcoin, bool)
}

// Origin is a non-owning reference from a job back to its client. Jobs and
// the work derived from them can outlive the client; once the client is
// released every Upgrade fails.
type Origin struct {
	mu     sync.RWMutex
	client Client
}

// NewOrigin returns a live reference to c.
func NewOrigin(c Client) *Origin {
	return &Origin{client: c}
}

// Upgrade returns the client while it is still registered. It is safe on a nil Origin.
func (o *Origin) Upgrade() (Client, bool) {
	if o == nil {
		return nil, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.client, o.client != nil
}

// Release drops the reference. It is idempotent.
func (o *Origin) Release() {
	o.mu.Lock()
	o.client = nil
	o.mu.Unlock()
}
