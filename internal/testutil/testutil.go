// Package testutil provides known blocks and stub nodes for tests and the
// self-test harness.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/internal/work/engine"
)

// TestBlock is a mined block whose midstate, nonce and hash are known. It
// implements job.Bitcoin with an empty version mask.
type TestBlock struct {
	Name       string
	Version    uint32
	PrevHash   chainhash.Hash
	MerkleRoot chainhash.Hash
	Time       uint32
	Bits       uint32
	Nonce      uint32
	// Hash is the double SHA-256 of the header.
	Hash     chainhash.Hash
	Midstate [32]byte
	// Target defaults to the network target, which the block meets.
	Target bitcoin.Target

	origin *job.Origin
}

// Job wraps the block as a job.Bitcoin.
func (b TestBlock) Job() *BlockJob {
	return &BlockJob{block: b}
}

// WithOrigin returns a copy of b whose jobs report origin.
func (b TestBlock) WithOrigin(origin *job.Origin) TestBlock {
	b.origin = origin
	return b
}

// WithTarget returns a copy of b with a different job target.
func (b TestBlock) WithTarget(target bitcoin.Target) TestBlock {
	b.Target = target
	return b
}

// BlockJob is the job.Bitcoin view of a TestBlock.
type BlockJob struct {
	block TestBlock
}

func (j *BlockJob) Block() TestBlock              { return j.block }
func (j *BlockJob) Origin() *job.Origin           { return j.block.origin }
func (j *BlockJob) Version() uint32               { return j.block.Version }
func (j *BlockJob) VersionMask() uint32           { return 0 }
func (j *BlockJob) PreviousHash() *chainhash.Hash { return &j.block.PrevHash }
func (j *BlockJob) MerkleRoot() *chainhash.Hash   { return &j.block.MerkleRoot }
func (j *BlockJob) Time() uint32                  { return j.block.Time }
func (j *BlockJob) Bits() uint32                  { return j.block.Bits }
func (j *BlockJob) Target() bitcoin.Target        { return j.block.Target }
func (j *BlockJob) IsValid() bool                 { return true }

var _ job.Bitcoin = (*BlockJob)(nil)

var (
	testBlocksOnce sync.Once
	testBlocks     []TestBlock
)

// TestBlocks returns the genesis blocks of the btcd networks. Every block
// reports DefaultOrigin.
func TestBlocks() []TestBlock {
	testBlocksOnce.Do(func() {
		for _, params := range []*chaincfg.Params{
			&chaincfg.MainNetParams,
			&chaincfg.TestNet3Params,
			&chaincfg.RegressionNetParams,
			&chaincfg.SimNetParams,
			&chaincfg.SigNetParams,
		} {
			h := params.GenesisBlock.Header
			version := uint32(h.Version)
			bits := h.Bits
			testBlocks = append(testBlocks, TestBlock{
				Name:       params.Name,
				Version:    version,
				PrevHash:   h.PrevBlock,
				MerkleRoot: h.MerkleRoot,
				Time:       uint32(h.Timestamp.Unix()),
				Bits:       bits,
				Nonce:      h.Nonce,
				Hash:       h.BlockHash(),
				Midstate:   bitcoin.ComputeMidstate(version, &h.PrevBlock, &h.MerkleRoot),
				Target:     bitcoin.TargetFromCompact(bits),
				origin:     DefaultOrigin,
			})
		}
	})
	out := make([]TestBlock, len(testBlocks))
	copy(out, testBlocks)
	return out
}

// Client is a job.Client that never produces jobs of its own.
type Client struct {
	Name string
}

// NewClient creates a client named name.
func NewClient(name string) *Client {
	return &Client{Name: name}
}

func (c *Client) String() string                              { return c.Name }
func (c *Client) Start(context.Context) error                 { return nil }
func (c *Client) Stop()                                       {}
func (c *Client) LastJob(context.Context) (job.Bitcoin, bool) { return nil, false }

// DefaultClient is the origin of test blocks that were not given another one.
var DefaultClient = NewClient("test client")

// DefaultOrigin is a live reference to DefaultClient.
var DefaultOrigin = job.NewOrigin(DefaultClient)

// Node is a hub or solver that does nothing but keep statistics.
type Node struct {
	Name  string
	stats node.Stats
}

// NewNode creates a node named name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

func (n *Node) String() string      { return n.Name }
func (n *Node) Stats() *node.Stats { return &n.stats }

// Result is a work.RawResult with fixed values.
type Result struct {
	NonceValue    uint32
	Midstate      int
	Solution      int
	BackendTarget bitcoin.Target
}

func (r *Result) Nonce() uint32          { return r.NonceValue }
func (r *Result) MidstateIndex() int     { return r.Midstate }
func (r *Result) SolutionIndex() int     { return r.Solution }
func (r *Result) Target() bitcoin.Target { return r.BackendTarget }

var _ work.RawResult = (*Result)(nil)

// Assignment returns single-midstate work for b.
func Assignment(b TestBlock) *work.Assignment {
	j := b.Job()
	midstates := []work.Midstate{{Version: b.Version, State: b.Midstate}}
	return work.NewAssignment(j, midstates, b.Time)
}

// Solution returns the solution of b as hardware would report it.
func Solution(b TestBlock) *work.Solution {
	return work.NewSolution(Assignment(b), &Result{
		NonceValue:    b.Nonce,
		BackendTarget: b.Target,
	}, time.Time{})
}

// Engine returns an engine handing out one assignment per test block.
func Engine() *engine.Test {
	blocks := TestBlocks()
	works := make([]*work.Assignment, len(blocks))
	for i, b := range blocks {
		works[i] = Assignment(b)
	}
	return engine.NewTest(works)
}

// EngineReceiver returns a receiver whose channel carries Engine().
func EngineReceiver() (*work.EngineSender, *work.EngineReceiver) {
	sender, receiver := work.NewEngineChannel(work.IgnoreEvents{})
	sender.BroadcastEngine(Engine())
	return sender, receiver
}
