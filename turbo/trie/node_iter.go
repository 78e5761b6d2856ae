package trie

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/common/nibbles"
)

// TrieElement - either reusable hash of a branch (Leaf == false) or a leaf of hashed state
type TrieElement struct {
	Key nibbles.Nibbles

	// branch
	Hash           common.Hash
	ChildrenInTrie bool

	// leaf
	Leaf      bool
	LeafKey   common.Hash
	LeafValue []byte
}

// NodeIter merges stored branch hashes from TrieWalker with leaves of hashed state into one
// stream ascending by path. Leaves under skipped subtrees are never read: after each
// walker step hashed state is re-positioned to walker's NextUnprocessedKey.
type NodeIter struct {
	walker *TrieWalker
	hashed HashedCursor

	currentKey   []byte
	currentValue []byte
	// current walker position was already checked for skipping
	walkerKeyChecked bool
}

func NewNodeIter(walker *TrieWalker, hashed HashedCursor) *NodeIter {
	return &NodeIter{walker: walker, hashed: hashed}
}

// Next - nil element means end of the stream
func (it *NodeIter) Next() (*TrieElement, error) {
	for {
		// a pending leaf may sort before the walker position, it's compared below first
		if key := it.walker.Key(); key != nil && !it.walkerKeyChecked && it.currentKey == nil {
			it.walkerKeyChecked = true
			if it.walker.CanSkipCurrentNode() {
				hash, _ := it.walker.Hash()
				return &TrieElement{Key: key, Hash: hash, ChildrenInTrie: it.walker.ChildrenAreInTrie()}, nil
			}
		}

		if it.currentKey != nil {
			leafKey, leafValue := it.currentKey, it.currentValue
			it.currentKey, it.currentValue = nil, nil
			path := nibbles.Unpack(leafKey)
			if key := it.walker.Key(); key != nil && key.Compare(path) < 0 {
				// leaf is after walker position, check the position first
				it.walkerKeyChecked = false
				continue
			}
			k, v, err := it.hashed.Next()
			if err != nil {
				return nil, err
			}
			it.currentKey, it.currentValue = k, v
			return &TrieElement{Key: path, Leaf: true, LeafKey: common.BytesToHash(leafKey), LeafValue: leafValue}, nil
		}

		seek, ok := it.walker.NextUnprocessedKey()
		if !ok {
			return nil, nil
		}
		k, v, err := it.hashed.Seek(seek)
		if err != nil {
			return nil, err
		}
		it.currentKey, it.currentValue = k, v
		if err := it.walker.Advance(); err != nil {
			return nil, err
		}
	}
}
