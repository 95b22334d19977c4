package work

import (
	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/node"
)

// Midstate is the SHA-256 state after the first header chunk for one version.
type Midstate struct {
	// Version is the header version the state was computed with.
	Version uint32
	State   [32]byte
}

// NewMidstate computes the midstate of job j rolled to version.
func NewMidstate(j job.Bitcoin, version uint32) Midstate {
	return Midstate{
		Version: version,
		State:   bitcoin.ComputeMidstate(version, j.PreviousHash(), j.MerkleRoot()),
	}
}

// Assignment is hardware-ready work. The bytes from the merkle root tail onward
// form the second SHA-256 chunk, so hardware only needs the midstates plus the
// tail fields.
type Assignment struct {
	// Path is the route through the backend hierarchy. It is empty when the
	// engine creates the assignment and grows as the work descends.
	Path      node.Path
	Midstates []Midstate
	NTime     uint32

	job job.Bitcoin
}

// NewAssignment creates work for j. Every assignment handed to hardware must
// carry at least one midstate.
func NewAssignment(j job.Bitcoin, midstates []Midstate, ntime uint32) *Assignment {
	return &Assignment{
		Midstates: midstates,
		NTime:     ntime,
		job:       j,
	}
}

// Job returns the shared job the work was derived from.
func (a *Assignment) Job() job.Bitcoin { return a.job }

// Origin returns the weak reference to the client that produced the job.
func (a *Assignment) Origin() *job.Origin { return a.job.Origin() }

// MerkleRootTail returns the last four bytes of the merkle root.
func (a *Assignment) MerkleRootTail() uint32 {
	return bitcoin.MerkleRootTail(a.job.MerkleRoot())
}

// Bits returns the compact network target of the job.
func (a *Assignment) Bits() uint32 { return a.job.Bits() }

// Target returns the share target requested by the job.
func (a *Assignment) Target() bitcoin.Target { return a.job.Target() }

// GeneratedWorkAmount is the number of independent header variants in the assignment.
func (a *Assignment) GeneratedWorkAmount() int { return len(a.Midstates) }

// HeaderTail returns the second-chunk header bytes for nonce.
func (a *Assignment) HeaderTail(nonce uint32) bitcoin.HeaderTail {
	return bitcoin.NewHeaderTail(a.MerkleRootTail(), a.NTime, a.Bits(), nonce)
}

// WithPath returns a shallow copy routed along path. Midstates are shared.
func (a *Assignment) WithPath(path node.Path) *Assignment {
	c := *a
	c.Path = path
	return &c
}
