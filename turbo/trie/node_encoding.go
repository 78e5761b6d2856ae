package trie

import (
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"

	"github.com/erigontech/stateroot/common/nibbles"
)

// Nodes whose RLP is shorter than a hash are embedded into their parent instead of being
// referenced by keccak. Canonical Ethereum constant, must not be changed.
const nodeRefInlineThreshold = common.HashLength

const hashStackStride = common.HashLength + 1 // + 1 byte for RLP encoding

// keccakState wraps sha3.state. In addition to the usual hash methods, it also supports
// Read to get a variable amount of data from the hash state. Read is faster than Sum
// because it doesn't copy the internal state, but also modifies the internal state.
type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

func newKeccak() keccakState {
	return sha3.NewLegacyKeccak256().(keccakState)
}

func keccak(sha keccakState, data []byte) (h common.Hash) {
	sha.Reset()
	sha.Write(data) //nolint:errcheck
	sha.Read(h[:])  //nolint:errcheck
	return h
}

// hashRef - RLP string of 32 bytes: reference to a node by hash
func hashRef(h common.Hash) []byte {
	ref := make([]byte, hashStackStride)
	ref[0] = 0x80 + common.HashLength
	copy(ref[1:], h[:])
	return ref
}

// nodeRef - reference to encoded node as it's placed into the parent: node itself if
// it's short, otherwise hash of it
func nodeRef(sha keccakState, enc []byte) []byte {
	if len(enc) < nodeRefInlineThreshold {
		return enc
	}
	return hashRef(keccak(sha, enc))
}

func isHashRef(ref []byte) bool {
	return len(ref) == hashStackStride && ref[0] == 0x80+common.HashLength
}

// leafNodeRLP - [compact(key, terminator), value]
func leafNodeRLP(key nibbles.Nibbles, value []byte) []byte {
	w := rlp.NewEncoderBuffer(nil)
	l := w.List()
	w.WriteBytes(key.EncodeCompact(true))
	w.WriteBytes(value)
	w.ListEnd(l)
	return w.ToBytes()
}

// extensionNodeRLP - [compact(key), child reference]
func extensionNodeRLP(key nibbles.Nibbles, childRef []byte) []byte {
	w := rlp.NewEncoderBuffer(nil)
	l := w.List()
	w.WriteBytes(key.EncodeCompact(false))
	w.Write(childRef) //nolint:errcheck
	w.ListEnd(l)
	return w.ToBytes()
}

// branchNodeRLP - 16 child references followed by empty value. children holds references of
// existing children only, in nibble order.
func branchNodeRLP(stateMask uint16, children [][]byte) []byte {
	w := rlp.NewEncoderBuffer(nil)
	l := w.List()
	i := 0
	for nibble := 0; nibble < 16; nibble++ {
		if isBitSet(stateMask, nibble) {
			w.Write(children[i]) //nolint:errcheck
			i++
		} else {
			w.WriteBytes(nil)
		}
	}
	w.WriteBytes(nil)
	w.ListEnd(l)
	return w.ToBytes()
}

// storageValueRLP - storage leaf value is RLP string of the trimmed slot value
func storageValueRLP(value []byte) []byte {
	w := rlp.NewEncoderBuffer(nil)
	w.WriteBytes(value)
	return w.ToBytes()
}
