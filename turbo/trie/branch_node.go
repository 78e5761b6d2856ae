package trie

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// BranchNodeCompact - intermediate branch node as it's persisted in TrieOfAccounts/TrieOfStorage.
//
//	StateMask - children which exist (in hashed state or in trie)
//	TreeMask  - children which are branch nodes persisted in the trie table
//	HashMask  - children which are branch nodes and whose hashes are kept in Hashes
//
// Only the root record carries RootHash.
type BranchNodeCompact struct {
	StateMask uint16
	TreeMask  uint16
	HashMask  uint16
	Hashes    []common.Hash
	RootHash  *common.Hash
}

func NewBranchNodeCompact(stateMask, treeMask, hashMask uint16, hashes []common.Hash, rootHash *common.Hash) (*BranchNodeCompact, error) {
	n := &BranchNodeCompact{StateMask: stateMask, TreeMask: treeMask, HashMask: hashMask, Hashes: hashes, RootHash: rootHash}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func isBitSet(mask uint16, nibble int) bool { return mask&(1<<nibble) != 0 }

func (n *BranchNodeCompact) Validate() error {
	if n.StateMask == 0 {
		return fmt.Errorf("%w: branch node with empty state mask", ErrStructuralInconsistency)
	}
	if n.TreeMask&^n.StateMask != 0 {
		return fmt.Errorf("%w: tree mask %016b is not subset of state mask %016b", ErrStructuralInconsistency, n.TreeMask, n.StateMask)
	}
	if n.HashMask&^n.StateMask != 0 {
		return fmt.Errorf("%w: hash mask %016b is not subset of state mask %016b", ErrStructuralInconsistency, n.HashMask, n.StateMask)
	}
	if bits.OnesCount16(n.HashMask) != len(n.Hashes) {
		return fmt.Errorf("%w: hash mask %016b doesn't match amount of hashes %d", ErrStructuralInconsistency, n.HashMask, len(n.Hashes))
	}
	return nil
}

// HashFor - hash of child at nibble, the child must be in HashMask
func (n *BranchNodeCompact) HashFor(nibble int) common.Hash {
	idx := bits.OnesCount16(n.HashMask & (1<<nibble - 1))
	return n.Hashes[idx]
}

// Marshal
// hasState(2 bytes) | hasTree(2 bytes) | hasHash(2 bytes) | rootHash(32 bytes, optional) | hashes (32 bytes each)
func (n *BranchNodeCompact) Marshal() []byte {
	size := 6 + len(n.Hashes)*common.HashLength
	if n.RootHash != nil {
		size += common.HashLength
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, n.StateMask)
	binary.BigEndian.PutUint16(buf[2:], n.TreeMask)
	binary.BigEndian.PutUint16(buf[4:], n.HashMask)
	hashesList := buf[6:]
	if n.RootHash != nil {
		copy(hashesList, n.RootHash[:])
		hashesList = hashesList[common.HashLength:]
	}
	for i := range n.Hashes {
		copy(hashesList[i*common.HashLength:], n.Hashes[i][:])
	}
	return buf
}

// UnmarshalBranchNode - root hash is detected by one extra hash after the masks.
func UnmarshalBranchNode(v []byte) (*BranchNodeCompact, error) {
	if len(v) < 6 || (len(v)-6)%common.HashLength != 0 {
		return nil, fmt.Errorf("%w: invalid branch node record length %d", ErrStructuralInconsistency, len(v))
	}
	n := &BranchNodeCompact{
		StateMask: binary.BigEndian.Uint16(v),
		TreeMask:  binary.BigEndian.Uint16(v[2:]),
		HashMask:  binary.BigEndian.Uint16(v[4:]),
	}
	hashesList := v[6:]
	amount := len(hashesList) / common.HashLength
	switch amount - bits.OnesCount16(n.HashMask) {
	case 0:
	case 1:
		root := common.BytesToHash(hashesList[:common.HashLength])
		n.RootHash = &root
		hashesList = hashesList[common.HashLength:]
		amount--
	default:
		return nil, fmt.Errorf("%w: hash mask %016b doesn't match amount of hashes %d", ErrStructuralInconsistency, n.HashMask, amount)
	}
	n.Hashes = make([]common.Hash, amount)
	for i := range n.Hashes {
		copy(n.Hashes[i][:], hashesList[i*common.HashLength:])
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *BranchNodeCompact) Equal(o *BranchNodeCompact) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.StateMask != o.StateMask || n.TreeMask != o.TreeMask || n.HashMask != o.HashMask || len(n.Hashes) != len(o.Hashes) {
		return false
	}
	if (n.RootHash == nil) != (o.RootHash == nil) || (n.RootHash != nil && *n.RootHash != *o.RootHash) {
		return false
	}
	for i := range n.Hashes {
		if n.Hashes[i] != o.Hashes[i] {
			return false
		}
	}
	return true
}

func (n *BranchNodeCompact) String() string {
	if n == nil {
		return "<nil>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "state: %016b, tree: %016b, hash: %016b", n.StateMask, n.TreeMask, n.HashMask)
	if n.RootHash != nil {
		fmt.Fprintf(&sb, ", root: %x", *n.RootHash)
	}
	for _, h := range n.Hashes {
		fmt.Fprintf(&sb, ", %x", h[:4])
	}
	return sb.String()
}
