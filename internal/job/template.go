package job

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gominer/internal/bitcoin"
)

// DefaultVersionMask is the BIP 320 general purpose version rolling range.
const DefaultVersionMask uint32 = 0x1fffe000

// Template is a Bitcoin job built from a getblocktemplate result. It owns the
// coinbase and the template transactions so a solved header can be turned
// back into a full block.
type Template struct {
	origin      *Origin
	version     uint32
	versionMask uint32
	prevHash    chainhash.Hash
	merkleRoot  chainhash.Hash
	time        uint32
	bits        uint32
	target      bitcoin.Target
	height      int64
	extraNonce  uint64

	coinbase     bitcoin.CoinbaseParams
	branch       []chainhash.Hash
	transactions []*wire.MsgTx
	valid        atomic.Bool
}

// TemplateConfig carries the client-side inputs of a template job.
type TemplateConfig struct {
	Origin      *Origin
	Payout      btcutil.Address
	ExtraNonce  uint64
	VersionMask uint32
	// ShareTarget overrides the job target; zero means the network target.
	ShareTarget bitcoin.Target
}

// NewTemplate builds a job from tmpl.
func NewTemplate(tmpl *btcjson.GetBlockTemplateResult, cfg TemplateConfig) (*Template, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("block template is nil")
	}
	if tmpl.CoinbaseValue == nil {
		return nil, fmt.Errorf("block template has no coinbase value")
	}

	prevHash, err := chainhash.NewHashFromStr(tmpl.PreviousHash)
	if err != nil {
		return nil, fmt.Errorf("invalid previous block hash: %w", err)
	}

	bits, err := strconv.ParseUint(tmpl.Bits, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid bits %q: %w", tmpl.Bits, err)
	}

	var witnessCommitment []byte
	if tmpl.DefaultWitnessCommitment != "" {
		witnessCommitment, err = hex.DecodeString(tmpl.DefaultWitnessCommitment)
		if err != nil {
			return nil, fmt.Errorf("invalid witness commitment: %w", err)
		}
	}

	coinbaseParams := bitcoin.CoinbaseParams{
		Height:            tmpl.Height,
		Value:             *tmpl.CoinbaseValue,
		ExtraNonce:        cfg.ExtraNonce,
		Payout:            cfg.Payout,
		WitnessCommitment: witnessCommitment,
	}
	coinbase, err := bitcoin.CreateCoinbaseTransaction(coinbaseParams)
	if err != nil {
		return nil, err
	}

	txs := make([]*wire.MsgTx, 0, len(tmpl.Transactions)+1)
	hashes := make([]chainhash.Hash, 0, len(tmpl.Transactions)+1)
	txs = append(txs, coinbase)
	hashes = append(hashes, coinbase.TxHash())
	for _, raw := range tmpl.Transactions {
		tx, err := bitcoin.DecodeTransaction(raw.Data)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		hashes = append(hashes, tx.TxHash())
	}

	t := &Template{
		origin:       cfg.Origin,
		version:      uint32(tmpl.Version),
		versionMask:  cfg.VersionMask,
		prevHash:     *prevHash,
		merkleRoot:   bitcoin.CalculateMerkleRoot(hashes),
		time:         uint32(tmpl.CurTime),
		bits:         uint32(bits),
		target:       cfg.ShareTarget,
		height:       tmpl.Height,
		extraNonce:   cfg.ExtraNonce,
		coinbase:     coinbaseParams,
		branch:       bitcoin.GetMerkleBranch(hashes, 0),
		transactions: txs,
	}
	if t.target == (bitcoin.Target{}) {
		t.target = bitcoin.TargetFromCompact(t.bits)
	}
	t.valid.Store(true)

	return t, nil
}

func (t *Template) Origin() *Origin               { return t.origin }
func (t *Template) Version() uint32               { return t.version }
func (t *Template) VersionMask() uint32           { return t.versionMask }
func (t *Template) PreviousHash() *chainhash.Hash { return &t.prevHash }
func (t *Template) MerkleRoot() *chainhash.Hash   { return &t.merkleRoot }
func (t *Template) Time() uint32                  { return t.time }
func (t *Template) Bits() uint32                  { return t.bits }
func (t *Template) Target() bitcoin.Target        { return t.target }
func (t *Template) IsValid() bool                 { return t.valid.Load() }

// Height is the height of the block being mined.
func (t *Template) Height() int64 { return t.height }

// ExtraNonce is the value committed in the coinbase.
func (t *Template) ExtraNonce() uint64 { return t.extraNonce }

// NetworkTarget is the target a block must meet.
func (t *Template) NetworkTarget() bitcoin.Target {
	return bitcoin.TargetFromCompact(t.bits)
}

// Invalidate marks the job stale, typically after a new tip.
func (t *Template) Invalidate() {
	t.valid.Store(false)
}

// WithExtraNonce derives a sibling job that differs only in the coinbase
// extra nonce, giving the miner a fresh merkle root to roll versions over.
// The merkle root is recomputed from the coinbase branch.
func (t *Template) WithExtraNonce(extraNonce uint64) (*Template, error) {
	params := t.coinbase
	params.ExtraNonce = extraNonce
	coinbase, err := bitcoin.CreateCoinbaseTransaction(params)
	if err != nil {
		return nil, err
	}

	txs := make([]*wire.MsgTx, len(t.transactions))
	copy(txs, t.transactions)
	txs[0] = coinbase

	next := &Template{
		origin:       t.origin,
		version:      t.version,
		versionMask:  t.versionMask,
		prevHash:     t.prevHash,
		merkleRoot:   bitcoin.MerkleRootFromBranch(coinbase.TxHash(), t.branch),
		time:         t.time,
		bits:         t.bits,
		target:       t.target,
		height:       t.height,
		extraNonce:   extraNonce,
		coinbase:     params,
		branch:       t.branch,
		transactions: txs,
	}
	next.valid.Store(t.IsValid())
	return next, nil
}

// Block assembles the full block for a solved header.
func (t *Template) Block(header *wire.BlockHeader) *wire.MsgBlock {
	return &wire.MsgBlock{
		Header:       *header,
		Transactions: t.transactions,
	}
}

// Coinbase returns the coinbase transaction.
func (t *Template) Coinbase() *wire.MsgTx {
	return t.transactions[0]
}

var _ Bitcoin = (*Template)(nil)
