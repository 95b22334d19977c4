// Package bitcoin provides the Bitcoin primitives the miner needs: targets,
// header midstates, coinbase and merkle construction, and the bitcoind
// RPC and ZMQ clients used by the solo client.
package bitcoin

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// CoinbaseTag is pushed into every coinbase script after the extra nonce.
const CoinbaseTag = "/gominer/"

// Pools for the allocation-heavy paths: merkle levels, block serialization and
// difficulty arithmetic.
var (
	bufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 1024*1024))
		},
	}

	hashSlicePool = sync.Pool{
		New: func() any {
			return make([]chainhash.Hash, 0, 4000)
		},
	}

	bigIntPool = sync.Pool{
		New: func() any {
			return new(big.Int)
		},
	}

	bigFloatPool = sync.Pool{
		New: func() any {
			return new(big.Float)
		},
	}
)

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() < 10*1024*1024 {
		bufferPool.Put(buf)
	}
}

func getHashSlice() []chainhash.Hash {
	return hashSlicePool.Get().([]chainhash.Hash)[:0]
}

func putHashSlice(slice []chainhash.Hash) {
	if cap(slice) < 10000 {
		hashSlicePool.Put(slice)
	}
}

func getBigInt() *big.Int {
	bi := bigIntPool.Get().(*big.Int)
	bi.SetInt64(0)
	return bi
}

func putBigInt(bi *big.Int) {
	bigIntPool.Put(bi)
}

func getBigFloat() *big.Float {
	bf := bigFloatPool.Get().(*big.Float)
	bf.SetFloat64(0)
	return bf
}

func putBigFloat(bf *big.Float) {
	bigFloatPool.Put(bf)
}

// CoinbaseParams describes the coinbase transaction of a block template.
type CoinbaseParams struct {
	Height            int64
	Value             int64
	ExtraNonce        uint64
	Payout            btcutil.Address
	WitnessCommitment []byte // full output script, empty when the template carries no segwit txs
}

// CreateCoinbaseTransaction creates a BIP 34 compliant coinbase transaction.
//
// Parameters:
//   - params: Height, reward, extra nonce, payout address and optional witness commitment
//
// Returns:
//   - *wire.MsgTx: The complete coinbase transaction
//   - error: Any error encountered during script construction
func CreateCoinbaseTransaction(params CoinbaseParams) (*wire.MsgTx, error) {
	if params.Payout == nil {
		return nil, fmt.Errorf("coinbase payout address is required")
	}

	var extraNonce [8]byte
	binary.LittleEndian.PutUint64(extraNonce[:], params.ExtraNonce)

	sigScript, err := txscript.NewScriptBuilder().
		AddInt64(params.Height).
		AddData(extraNonce[:]).
		AddData([]byte(CoinbaseTag)).
		Script()
	if err != nil {
		return nil, fmt.Errorf("failed to create coinbase script: %w", err)
	}

	pkScript, err := txscript.PayToAddrScript(params.Payout)
	if err != nil {
		return nil, fmt.Errorf("failed to create output script: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: wire.MaxPrevOutIndex,
		},
		SignatureScript: sigScript,
		Sequence:        wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(params.Value, pkScript))

	if len(params.WitnessCommitment) > 0 {
		tx.AddTxOut(wire.NewTxOut(0, params.WitnessCommitment))
		// BIP 141 witness reserved value
		tx.TxIn[0].Witness = wire.TxWitness{make([]byte, 32)}
	}

	return tx, nil
}

// CalculateMerkleRoot calculates the Bitcoin merkle root from a list of transaction hashes.
// For odd levels the last hash is duplicated.
func CalculateMerkleRoot(txHashes []chainhash.Hash) chainhash.Hash {
	if len(txHashes) == 0 {
		return chainhash.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	level := append(getHashSlice(), txHashes...)
	for len(level) > 1 {
		next := getHashSlice()
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(&level[i], &right))
		}
		putHashSlice(level)
		level = next
	}

	root := level[0]
	putHashSlice(level)
	return root
}

// GetMerkleBranch returns the authentication path for the transaction at txIndex.
// For the coinbase (index 0) it lets the merkle root be recomputed for every
// extra nonce without rehashing the whole tree.
func GetMerkleBranch(txHashes []chainhash.Hash, txIndex int) []chainhash.Hash {
	if len(txHashes) <= 1 || txIndex >= len(txHashes) {
		return []chainhash.Hash{}
	}

	level := append(getHashSlice(), txHashes...)
	index := txIndex
	var branch []chainhash.Hash

	for len(level) > 1 {
		sibling := index ^ 1
		if sibling < len(level) {
			branch = append(branch, level[sibling])
		} else {
			branch = append(branch, level[index])
		}

		next := getHashSlice()
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(&level[i], &right))
		}
		putHashSlice(level)
		level = next
		index /= 2
	}

	putHashSlice(level)
	return branch
}

// MerkleRootFromBranch folds a coinbase hash with its branch into the merkle root.
func MerkleRootFromBranch(coinbase chainhash.Hash, branch []chainhash.Hash) chainhash.Hash {
	root := coinbase
	for i := range branch {
		root = hashPair(&root, &branch[i])
	}
	return root
}

func hashPair(left, right *chainhash.Hash) chainhash.Hash {
	var concat [64]byte
	copy(concat[:32], left[:])
	copy(concat[32:], right[:])
	return chainhash.DoubleHashH(concat[:])
}

// SerializeBlock encodes a block with witness data as hex, ready for submitblock.
func SerializeBlock(block *wire.MsgBlock) (string, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := block.Serialize(buf); err != nil {
		return "", fmt.Errorf("failed to serialize block: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DecodeTransaction parses a hex encoded transaction from a block template.
func DecodeTransaction(data string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction data: %w", err)
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}
