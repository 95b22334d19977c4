package bitcoin

import (
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"hash"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// HeaderSize is the serialized size of a block header.
	HeaderSize = 80
	// ChunkSize is the SHA-256 block size; the midstate covers the first chunk of a header.
	ChunkSize = 64
	// TailSize is the part of the header hashed after the midstate.
	TailSize = HeaderSize - ChunkSize

	// layout of crypto/sha256 binary state: magic, 8 words, pending chunk, length
	sha256Magic       = "sha\x03"
	sha256MarshalSize = len(sha256Magic) + 8*4 + ChunkSize + 8
)

// HeaderTail is the last 16 bytes of a header: merkle root tail, time, bits, nonce.
type HeaderTail [TailSize]byte

// NewHeaderTail assembles the header tail from little-endian fields.
func NewHeaderTail(merkleRootTail, ntime, bits, nonce uint32) HeaderTail {
	var t HeaderTail
	binary.LittleEndian.PutUint32(t[0:4], merkleRootTail)
	binary.LittleEndian.PutUint32(t[4:8], ntime)
	binary.LittleEndian.PutUint32(t[8:12], bits)
	binary.LittleEndian.PutUint32(t[12:16], nonce)
	return t
}

// SetNonce overwrites the nonce field.
func (t *HeaderTail) SetNonce(nonce uint32) {
	binary.LittleEndian.PutUint32(t[12:16], nonce)
}

// MerkleRootTail returns the last four bytes of a merkle root as the
// little-endian word that lands in the second SHA-256 chunk of the header.
func MerkleRootTail(root *chainhash.Hash) uint32 {
	return binary.LittleEndian.Uint32(root[28:32])
}

// HeaderChunk serializes the first 64 bytes of a header: version, previous
// hash and the first 28 bytes of the merkle root.
func HeaderChunk(version uint32, prevHash, merkleRoot *chainhash.Hash) [ChunkSize]byte {
	var chunk [ChunkSize]byte
	binary.LittleEndian.PutUint32(chunk[0:4], version)
	copy(chunk[4:36], prevHash[:])
	copy(chunk[36:64], merkleRoot[:28])
	return chunk
}

// ComputeMidstate returns the SHA-256 state after compressing the first
// header chunk, as eight big-endian words.
func ComputeMidstate(version uint32, prevHash, merkleRoot *chainhash.Hash) [32]byte {
	chunk := HeaderChunk(version, prevHash, merkleRoot)

	h := sha256.New()
	h.Write(chunk[:])
	state, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		panic("BUG: sha256 state is not marshalable: " + err.Error())
	}

	var midstate [32]byte
	copy(midstate[:], state[len(sha256Magic):len(sha256Magic)+32])
	return midstate
}

// MidstateHasher finishes block header hashes from a midstate. It reuses one
// SHA-256 instance and is not safe for concurrent use.
type MidstateHasher struct {
	state  [sha256MarshalSize]byte
	first  hash.Hash
	digest [sha256.Size]byte
}

// NewMidstateHasher prepares a hasher resuming from midstate.
func NewMidstateHasher(midstate [32]byte) *MidstateHasher {
	m := &MidstateHasher{first: sha256.New()}
	copy(m.state[:], sha256Magic)
	copy(m.state[len(sha256Magic):], midstate[:])
	binary.BigEndian.PutUint64(m.state[sha256MarshalSize-8:], ChunkSize)
	return m
}

// Hash returns the double SHA-256 of the full header given its tail.
func (m *MidstateHasher) Hash(tail *HeaderTail) chainhash.Hash {
	if err := m.first.(encoding.BinaryUnmarshaler).UnmarshalBinary(m.state[:]); err != nil {
		panic("BUG: sha256 state rejected: " + err.Error())
	}
	m.first.Write(tail[:])
	first := m.first.Sum(m.digest[:0])
	return chainhash.Hash(sha256.Sum256(first))
}

// HashWithMidstate is a one-shot variant of MidstateHasher.Hash.
func HashWithMidstate(midstate [32]byte, tail HeaderTail) chainhash.Hash {
	return NewMidstateHasher(midstate).Hash(&tail)
}

// HeaderFromParts builds a wire header from the raw fields a miner works with.
func HeaderFromParts(version uint32, prevHash, merkleRoot *chainhash.Hash, ntime, bits, nonce uint32) *wire.BlockHeader {
	header := wire.NewBlockHeader(int32(version), prevHash, merkleRoot, bits, nonce)
	header.Timestamp = time.Unix(int64(ntime), 0)
	return header
}
