package trie

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/common/nibbles"
	"github.com/erigontech/stateroot/core/types/accounts"
)

// HashBuilder folds a stream of leaves and pre-hashed subtrees, sorted by key, into
// the trie root. Nothing is materialized: only the stack of node references of the
// currently open path is kept, bounded by the key length.
//
// groups[d] - children mask of the branch node which is open at depth d
// treeMasks[d], hashMasks[d] - which of those children are persisted in trie table /
// have their hashes kept in the persisted parent (see BranchNodeCompact)
//
// Every time the next key comes, the part of the open path which isn't shared with it
// is closed: nodes deeper than the common prefix are encoded and replaced on the
// stack by their references. Closed nodes are never re-opened, so each node is encoded once.
type HashBuilder struct {
	key      nibbles.Nibbles // key of the latest added element
	value    []byte          // leaf value
	hash     common.Hash     // or branch hash
	isHash   bool
	inDBTrie bool // latest branch hash is a child stored in trie table

	stack      [][]byte // node references (RLP of node if shorter than 32 bytes, otherwise RLP of its hash)
	groups     []uint16
	treeMasks  []uint16
	hashMasks  []uint16
	hasElement bool

	collectUpdates bool
	updates        map[string]*BranchNodeCompact

	proofTargets []nibbles.Nibbles
	proofNodes   map[string][]byte

	sha   keccakState
	trace bool // Set to true when HashBuilder is required to print trace information for diagnostics
}

// NewHashBuilder creates a new HashBuilder
func NewHashBuilder(trace bool) *HashBuilder {
	return &HashBuilder{
		sha:   newKeccak(),
		trace: trace,
	}
}

// WithUpdates - collect branch nodes which need to be persisted
func (hb *HashBuilder) WithUpdates() *HashBuilder {
	hb.collectUpdates = true
	hb.updates = map[string]*BranchNodeCompact{}
	return hb
}

// WithProofRetainer - keep encodings of all nodes on paths to the targets
func (hb *HashBuilder) WithProofRetainer(targets ...nibbles.Nibbles) *HashBuilder {
	hb.proofTargets = targets
	hb.proofNodes = map[string][]byte{}
	return hb
}

// Reset makes the HashBuilder suitable for reuse
func (hb *HashBuilder) Reset() {
	hb.key, hb.value, hb.isHash, hb.inDBTrie, hb.hasElement = nil, nil, false, false, false
	hb.stack = hb.stack[:0]
	hb.groups, hb.treeMasks, hb.hashMasks = hb.groups[:0], hb.treeMasks[:0], hb.hashMasks[:0]
	if hb.collectUpdates {
		hb.updates = map[string]*BranchNodeCompact{}
	}
	if hb.proofNodes != nil {
		hb.proofNodes = map[string][]byte{}
	}
}

// AddLeaf - key is the full path of the leaf, value is the raw leaf value (RLP of account or of storage value).
func (hb *HashBuilder) AddLeaf(key nibbles.Nibbles, value []byte) error {
	if key.IsEmpty() {
		return fmt.Errorf("%w: leaf with empty key", ErrStructuralInconsistency)
	}
	if hb.hasElement && key.Compare(hb.key) <= 0 {
		return fmt.Errorf("%w: leaf key %x is not after %x", ErrStructuralInconsistency, key, hb.key)
	}
	if hb.hasElement {
		if err := hb.update(key); err != nil {
			return err
		}
	}
	hb.key, hb.value, hb.isHash, hb.hasElement = key.Clone(), value, false, true
	return nil
}

// AddBranch - hash of the branch node at key, reused without visiting its subtree.
// storedInDB - the node is persisted in trie table.
func (hb *HashBuilder) AddBranch(key nibbles.Nibbles, hash common.Hash, storedInDB bool) error {
	if hb.hasElement && key.Compare(hb.key) <= 0 {
		return fmt.Errorf("%w: branch key %x is not after %x", ErrStructuralInconsistency, key, hb.key)
	}
	if hb.hasElement {
		if err := hb.update(key); err != nil {
			return err
		}
	} else if key.IsEmpty() {
		// whole trie is unchanged
		hb.stack = append(hb.stack, hashRef(hash))
	}
	hb.key, hb.hash, hb.isHash, hb.inDBTrie, hb.hasElement = key.Clone(), hash, true, storedInDB, true
	return nil
}

// Root - closes all open nodes and returns root hash, EmptyRoot if nothing was added.
func (hb *HashBuilder) Root() (common.Hash, error) {
	if hb.hasElement && !hb.key.IsEmpty() {
		if err := hb.update(nil); err != nil {
			return common.Hash{}, err
		}
		hb.key, hb.value, hb.hasElement = nil, nil, false
	}
	return hb.currentRoot(), nil
}

func (hb *HashBuilder) currentRoot() common.Hash {
	if len(hb.stack) == 0 {
		return accounts.EmptyRoot
	}
	ref := hb.stack[len(hb.stack)-1]
	if isHashRef(ref) {
		return common.BytesToHash(ref[1:])
	}
	return keccak(hb.sha, ref)
}

// Updates - branch nodes to persist, keyed by nibble path. Valid after Root.
func (hb *HashBuilder) Updates() map[string]*BranchNodeCompact { return hb.updates }

func (hb *HashBuilder) setBit(masks []uint16, idx int, nibble byte) {
	masks[idx] |= 1 << nibble
}

func resize(masks []uint16, n int) []uint16 {
	if len(masks) >= n {
		return masks[:n]
	}
	return append(masks, make([]uint16, n-len(masks))...)
}

func (hb *HashBuilder) resizeMasks(n int) {
	hb.treeMasks = resize(hb.treeMasks, n)
	hb.hashMasks = resize(hb.hashMasks, n)
}

// update closes nodes of the current key which are not shared with succeeding key.
// Empty succeeding means end of input.
func (hb *HashBuilder) update(succeeding nibbles.Nibbles) error {
	buildExtensions := false
	current := hb.key.Clone()

	for {
		precedingExists := len(hb.groups) > 0
		precedingLen := 0
		if precedingExists {
			precedingLen = len(hb.groups) - 1
		}
		commonPrefixLen := nibbles.CommonPrefixLen(succeeding, current)
		length := max(precedingLen, commonPrefixLen)
		if length >= len(current) {
			return fmt.Errorf("%w: key %x is a prefix of %x", ErrStructuralInconsistency, current, succeeding)
		}
		if len(hb.treeMasks) < len(current) {
			hb.resizeMasks(len(current))
		}

		extraDigit := current[length]
		if len(hb.groups) <= length {
			hb.groups = resize(hb.groups, length+1)
		}
		hb.setBit(hb.groups, length, extraDigit)

		lenFrom := length
		if !succeeding.IsEmpty() || precedingExists {
			lenFrom++
		}
		// the key without the common prefix
		shortKey := current[lenFrom:]

		if !buildExtensions {
			if hb.isHash {
				hb.stack = append(hb.stack, hashRef(hb.hash))
				if hb.inDBTrie {
					hb.setBit(hb.treeMasks, len(current)-1, current.Last())
				}
				hb.setBit(hb.hashMasks, len(current)-1, current.Last())
				buildExtensions = true
			} else {
				enc := leafNodeRLP(shortKey, hb.value)
				hb.retainProof(current[:lenFrom], enc)
				hb.stack = append(hb.stack, nodeRef(hb.sha, enc))
				if hb.trace {
					fmt.Printf("LEAF %x at %x\n", shortKey, current[:lenFrom])
				}
			}
		}

		if buildExtensions && !shortKey.IsEmpty() {
			hb.updateMasks(current, lenFrom)
			child := hb.stack[len(hb.stack)-1]
			enc := extensionNodeRLP(shortKey, child)
			hb.retainProof(current[:lenFrom], enc)
			hb.stack[len(hb.stack)-1] = nodeRef(hb.sha, enc)
			hb.resizeMasks(lenFrom)
			if hb.trace {
				fmt.Printf("EXTENSION %x at %x\n", shortKey, current[:lenFrom])
			}
		}

		if precedingLen <= commonPrefixLen && !succeeding.IsEmpty() {
			return nil
		}

		if !succeeding.IsEmpty() || precedingExists {
			children, err := hb.pushBranchNode(current, length)
			if err != nil {
				return err
			}
			if err := hb.storeBranchNode(current, length, children); err != nil {
				return err
			}
		}

		hb.groups = resize(hb.groups, length)
		hb.resizeMasks(length)

		if precedingLen == 0 {
			return nil
		}

		current = current[:precedingLen]
		for len(hb.groups) > 0 && hb.groups[len(hb.groups)-1] == 0 {
			hb.groups = hb.groups[:len(hb.groups)-1]
		}
		buildExtensions = true
	}
}

// pushBranchNode replaces children references on top of the stack by reference to
// their branch node. Returns hashes of children in hash mask.
func (hb *HashBuilder) pushBranchNode(current nibbles.Nibbles, length int) ([]common.Hash, error) {
	stateMask := hb.groups[length]
	hashMask := hb.hashMasks[length]
	amount := 0
	for m := stateMask; m != 0; m &= m - 1 {
		amount++
	}
	if amount > len(hb.stack) {
		return nil, fmt.Errorf("%w: branch at %x has %d children, stack has %d", ErrStructuralInconsistency, current[:length], amount, len(hb.stack))
	}
	first := len(hb.stack) - amount
	children := hb.stack[first:]

	var hashes []common.Hash
	for i, nibble := 0, 0; nibble < 16; nibble++ {
		if !isBitSet(stateMask, nibble) {
			continue
		}
		if isBitSet(hashMask, nibble) {
			if !isHashRef(children[i]) {
				return nil, fmt.Errorf("%w: child %x of branch %x is not referenced by hash", ErrStructuralInconsistency, nibble, current[:length])
			}
			hashes = append(hashes, common.BytesToHash(children[i][1:]))
		}
		i++
	}

	enc := branchNodeRLP(stateMask, children)
	hb.retainProof(current[:length], enc)
	hb.stack = append(hb.stack[:first], nodeRef(hb.sha, enc))
	if hb.trace {
		fmt.Printf("BRANCH %016b at %x\n", stateMask, current[:length])
	}
	return hashes, nil
}

func (hb *HashBuilder) storeBranchNode(current nibbles.Nibbles, length int, hashes []common.Hash) error {
	// parent can reuse hash of this branch only if it's referenced by hash, short nodes are inlined
	if length > 0 && isHashRef(hb.stack[len(hb.stack)-1]) {
		hb.setBit(hb.hashMasks, length-1, current[length-1])
	}

	storeInDBTrie := hb.treeMasks[length] != 0 || hb.hashMasks[length] != 0
	if !storeInDBTrie {
		return nil
	}
	if length > 0 {
		hb.setBit(hb.treeMasks, length-1, current[length-1])
	}
	if !hb.collectUpdates {
		return nil
	}
	var rootHash *common.Hash
	if length == 0 {
		root := hb.currentRoot()
		rootHash = &root
	}
	n, err := NewBranchNodeCompact(hb.groups[length], hb.treeMasks[length], hb.hashMasks[length], hashes, rootHash)
	if err != nil {
		return err
	}
	hb.updates[string(current[:length])] = n
	return nil
}

// updateMasks - extension node is placed between branch at lenFrom-1 and its child.
// Extension's hash is not a branch hash, so parent can't keep it.
func (hb *HashBuilder) updateMasks(current nibbles.Nibbles, lenFrom int) {
	if lenFrom == 0 {
		return
	}
	flag := uint16(1) << current[lenFrom-1]
	hb.hashMasks[lenFrom-1] &^= flag
	if hb.treeMasks[len(current)-1] != 0 {
		hb.treeMasks[lenFrom-1] |= flag
	}
}

func (hb *HashBuilder) retainProof(path nibbles.Nibbles, enc []byte) {
	if hb.proofNodes == nil {
		return
	}
	for _, target := range hb.proofTargets {
		if target.HasPrefix(path) {
			hb.proofNodes[string(path)] = bytes.Clone(enc)
			return
		}
	}
}

// ProofNodes - retained nodes on path to target, ordered from root to leaf. Nodes embedded
// into their parent are skipped, they are part of parent's encoding. Root is always kept.
func (hb *HashBuilder) ProofNodes(target nibbles.Nibbles) [][]byte {
	paths := make([]string, 0, len(hb.proofNodes))
	for p := range hb.proofNodes {
		if target.HasPrefix(nibbles.Nibbles(p)) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	proof := make([][]byte, 0, len(paths))
	for _, p := range paths {
		enc := hb.proofNodes[p]
		if len(p) > 0 && len(enc) < nodeRefInlineThreshold {
			continue
		}
		proof = append(proof, enc)
	}
	return proof
}
