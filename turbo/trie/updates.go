package trie

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/common/nibbles"
	"github.com/erigontech/stateroot/kv"
)

// StorageTrieUpdates - changes of one storage trie
type StorageTrieUpdates struct {
	// Wiped - all persisted nodes of the trie must be removed before Nodes are applied
	Wiped bool
	// Nodes - nibble path -> node, nil node is a tombstone
	Nodes map[string]*BranchNodeCompact
	// Root - new storage root record. nil keeps the record untouched, unless the trie
	// is Wiped: then the record is removed.
	Root *common.Hash
}

func newStorageTrieUpdates() *StorageTrieUpdates {
	return &StorageTrieUpdates{Nodes: map[string]*BranchNodeCompact{}}
}

// TrieUpdates - result of one state root calculation which the caller persists by Flush.
// Deleted nodes are explicit tombstones (nil), to distinguish them from unchanged ones.
type TrieUpdates struct {
	AccountNodes map[string]*BranchNodeCompact
	StorageTries map[common.Hash]*StorageTrieUpdates
}

func NewTrieUpdates() *TrieUpdates {
	return &TrieUpdates{
		AccountNodes: map[string]*BranchNodeCompact{},
		StorageTries: map[common.Hash]*StorageTrieUpdates{},
	}
}

func (u *TrieUpdates) storage(addrHash common.Hash) *StorageTrieUpdates {
	s, ok := u.StorageTries[addrHash]
	if !ok {
		s = newStorageTrieUpdates()
		u.StorageTries[addrHash] = s
	}
	return s
}

// addTrie - walker deletions first, nodes built by HashBuilder override them
func addTrie(dst map[string]*BranchNodeCompact, deletions []nibbles.Nibbles, nodes map[string]*BranchNodeCompact) {
	for _, d := range deletions {
		dst[string(d)] = nil
	}
	for k, n := range nodes {
		dst[k] = n
	}
}

func (u *TrieUpdates) AddAccountTrie(deletions []nibbles.Nibbles, nodes map[string]*BranchNodeCompact) {
	addTrie(u.AccountNodes, deletions, nodes)
}

func (u *TrieUpdates) AddStorageTrie(addrHash common.Hash, deletions []nibbles.Nibbles, nodes map[string]*BranchNodeCompact, root common.Hash) {
	s := u.storage(addrHash)
	addTrie(s.Nodes, deletions, nodes)
	s.Root = &root
}

// WipeStorage - account doesn't exist anymore, nor its storage trie
func (u *TrieUpdates) WipeStorage(addrHash common.Hash) {
	s := u.storage(addrHash)
	s.Wiped = true
	s.Nodes = map[string]*BranchNodeCompact{}
	s.Root = nil
}

// Merge - other is applied on top of u
func (u *TrieUpdates) Merge(other *TrieUpdates) {
	if other == nil {
		return
	}
	for k, n := range other.AccountNodes {
		u.AccountNodes[k] = n
	}
	for addrHash, o := range other.StorageTries {
		s := u.storage(addrHash)
		if o.Wiped {
			s.Wiped = true
			s.Nodes = map[string]*BranchNodeCompact{}
			s.Root = nil
		}
		for k, n := range o.Nodes {
			s.Nodes[k] = n
		}
		if o.Root != nil {
			s.Root = o.Root
		}
	}
}

// Len - amount of node changes
func (u *TrieUpdates) Len() int {
	n := len(u.AccountNodes)
	for _, s := range u.StorageTries {
		n += len(s.Nodes)
	}
	return n
}

func sortedKeys(m map[string]*BranchNodeCompact) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush - writes updates in sorted order
func (u *TrieUpdates) Flush(tx kv.RwTx) error {
	for _, k := range sortedKeys(u.AccountNodes) {
		if err := putNode(tx, kv.TrieOfAccounts, []byte(k), u.AccountNodes[k]); err != nil {
			return err
		}
	}

	addrs := make([]common.Hash, 0, len(u.StorageTries))
	for addrHash := range u.StorageTries {
		addrs = append(addrs, addrHash)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	for _, addrHash := range addrs {
		s := u.StorageTries[addrHash]
		if s.Wiped {
			if _, err := kv.DeletePrefix(tx, kv.TrieOfStorage, addrHash[:]); err != nil {
				return fmt.Errorf("wipe storage trie %x: %w", addrHash, err)
			}
		}
		for _, k := range sortedKeys(s.Nodes) {
			key := append(common.CopyBytes(addrHash[:]), k...)
			if err := putNode(tx, kv.TrieOfStorage, key, s.Nodes[k]); err != nil {
				return err
			}
		}
		switch {
		case s.Root != nil:
			if err := tx.Put(kv.StorageRoots, addrHash[:], s.Root[:]); err != nil {
				return err
			}
		case s.Wiped:
			if err := tx.Delete(kv.StorageRoots, addrHash[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func putNode(tx kv.RwTx, table string, key []byte, n *BranchNodeCompact) error {
	if n == nil {
		return tx.Delete(table, key)
	}
	return tx.Put(table, key, n.Marshal())
}
