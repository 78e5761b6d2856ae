package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/common/nibbles"
)

// cursorSubNode - position inside of a persisted branch node
// nibble -1 means the node itself (only the root, which keeps its own hash)
type cursorSubNode struct {
	key    nibbles.Nibbles
	node   *BranchNodeCompact
	nibble int
}

func newCursorSubNode(key nibbles.Nibbles, node *BranchNodeCompact) cursorSubNode {
	nibble := -1
	if node != nil && node.RootHash == nil {
		for nibble = 0; nibble < 16 && !isBitSet(node.StateMask, nibble); nibble++ {
		}
	}
	return cursorSubNode{key: key, node: node, nibble: nibble}
}

func (n *cursorSubNode) fullKey() nibbles.Nibbles {
	if n.nibble < 0 {
		return n.key.Clone()
	}
	return n.key.Append(byte(n.nibble))
}

func (n *cursorSubNode) stateFlag() bool {
	if n.node != nil && n.nibble >= 0 {
		return isBitSet(n.node.StateMask, n.nibble)
	}
	return true
}

func (n *cursorSubNode) treeFlag() bool {
	if n.node != nil && n.nibble >= 0 {
		return isBitSet(n.node.TreeMask, n.nibble)
	}
	return true
}

func (n *cursorSubNode) hashFlag() bool {
	switch {
	case n.node == nil:
		return false
	case n.nibble < 0:
		return n.node.RootHash != nil
	default:
		return isBitSet(n.node.HashMask, n.nibble)
	}
}

func (n *cursorSubNode) hash() (common.Hash, bool) {
	if !n.hashFlag() {
		return common.Hash{}, false
	}
	if n.nibble < 0 {
		return *n.node.RootHash, true
	}
	return n.node.HashFor(n.nibble), true
}

// TrieWalker - depth-first traversal over persisted branch nodes. Current position is
// a child slot of some branch node. Slot is skipped (its stored hash reused) if nothing
// under it changed, otherwise walker descends into the child node if it's persisted.
//
// Every persisted node the walker descends into is scheduled for deletion: it will be
// either re-created by HashBuilder or it doesn't exist anymore.
type TrieWalker struct {
	cursor  TrieCursor
	changes *PrefixSet
	stack   []cursorSubNode

	canSkipCurrentNode bool

	collectDeletions bool
	rootConsumed     bool // persisted root is re-hashed, so it's replaced or removed
	deletions        []nibbles.Nibbles
}

func NewTrieWalker(cursor TrieCursor, changes *PrefixSet) (*TrieWalker, error) {
	w := &TrieWalker{cursor: cursor, changes: changes, stack: []cursorSubNode{{nibble: -1}}}
	key, node, err := cursor.SeekExact(nil)
	if err != nil {
		return nil, err
	}
	if node != nil {
		w.stack[0] = newCursorSubNode(key, node)
	}
	if err := w.updateSkipNode(); err != nil {
		return nil, err
	}
	w.rootConsumed = node != nil && !w.canSkipCurrentNode
	return w, nil
}

// WithDeletions - remember paths of consumed nodes
func (w *TrieWalker) WithDeletions() *TrieWalker {
	w.collectDeletions = true
	return w
}

func (w *TrieWalker) Deletions() []nibbles.Nibbles {
	if w.collectDeletions && w.rootConsumed {
		return append([]nibbles.Nibbles{{}}, w.deletions...)
	}
	return w.deletions
}

// Key - path of current position, nil when traversal is over
func (w *TrieWalker) Key() nibbles.Nibbles {
	if len(w.stack) == 0 {
		return nil
	}
	return w.stack[len(w.stack)-1].fullKey()
}

func (w *TrieWalker) Done() bool { return len(w.stack) == 0 }

func (w *TrieWalker) Hash() (common.Hash, bool) {
	if len(w.stack) == 0 {
		return common.Hash{}, false
	}
	return w.stack[len(w.stack)-1].hash()
}

func (w *TrieWalker) CanSkipCurrentNode() bool { return w.canSkipCurrentNode }

func (w *TrieWalker) ChildrenAreInTrie() bool {
	if len(w.stack) == 0 {
		return false
	}
	return w.stack[len(w.stack)-1].treeFlag()
}

// NextUnprocessedKey - where hashed state must be read from: after the subtree if
// the current one is skipped, otherwise from the subtree itself. ok=false when nothing is left.
func (w *TrieWalker) NextUnprocessedKey() (seek common.Hash, ok bool) {
	if len(w.stack) == 0 {
		return common.Hash{}, false
	}
	key := w.Key()
	if w.canSkipCurrentNode {
		if key, ok = key.Increment(); !ok {
			return common.Hash{}, false
		}
	}
	return common.BytesToHash(key.Pad(common.HashLength)), true
}

func (w *TrieWalker) Advance() error {
	if len(w.stack) == 0 {
		return nil
	}
	if !w.canSkipCurrentNode && w.ChildrenAreInTrie() {
		if w.stack[len(w.stack)-1].nibble < 0 {
			if err := w.moveToNextSibling(true); err != nil {
				return err
			}
		} else if err := w.consumeNode(); err != nil {
			return err
		}
	} else if err := w.moveToNextSibling(false); err != nil {
		return err
	}
	return w.updateSkipNode()
}

// consumeNode - descend into the persisted node at (or after) current position
func (w *TrieWalker) consumeNode() error {
	top := &w.stack[len(w.stack)-1]
	key := top.fullKey()
	foundKey, node, err := w.cursor.Seek(key)
	if err != nil {
		return err
	}
	if node == nil {
		w.stack = w.stack[:0]
		return nil
	}
	// only root without persisted node may jump to any node after it
	if top.node != nil && !foundKey.HasPrefix(key) {
		return fmt.Errorf("%w: node %x is expected under %x", ErrStructuralInconsistency, foundKey, key)
	}
	if !foundKey.IsEmpty() {
		// sync root position with the found node
		w.stack[0].nibble = int(foundKey[0])
	}

	sub := newCursorSubNode(foundKey, node)
	w.stack = append(w.stack, sub)
	if err := w.updateSkipNode(); err != nil {
		return err
	}
	if w.collectDeletions && (!w.canSkipCurrentNode || sub.nibble != -1) {
		w.deletions = append(w.deletions, foundKey)
	}
	return nil
}

func (w *TrieWalker) moveToNextSibling(allowRootToChild bool) error {
	for len(w.stack) > 0 {
		sub := &w.stack[len(w.stack)-1]
		if sub.nibble >= 0xf || (sub.nibble < 0 && !allowRootToChild) {
			w.stack = w.stack[:len(w.stack)-1]
			allowRootToChild = false
			continue
		}
		sub.nibble++
		if sub.node == nil {
			return w.consumeNode()
		}
		for ; sub.nibble < 16; sub.nibble++ {
			if sub.stateFlag() {
				return nil
			}
		}
		w.stack = w.stack[:len(w.stack)-1]
		allowRootToChild = false
	}
	return nil
}

func (w *TrieWalker) updateSkipNode() error {
	if len(w.stack) == 0 {
		w.canSkipCurrentNode = false
		return nil
	}
	contains, err := w.changes.Contains(w.Key())
	if err != nil {
		return err
	}
	w.canSkipCurrentNode = !contains && w.stack[len(w.stack)-1].hashFlag()
	return nil
}
