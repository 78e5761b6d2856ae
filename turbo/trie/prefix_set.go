package trie

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/common/nibbles"
)

// PrefixSet - keys changed since the last calculated root, used to decide which
// subtrees of the trie must be re-hashed.
//
// Lifecycle: Insert in any order, then Freeze (sort and deduplicate), then query.
// Queries of one kind must come in non-decreasing order, it allows answering them with
// a cursor which never goes back: the walker visits the trie in depth-first order,
// which is exactly non-decreasing order of paths.
type PrefixSet struct {
	keys   []nibbles.Nibbles
	all    bool
	frozen bool

	// Contains cursor
	index int
	last  nibbles.Nibbles
	used  bool

	// ContainsPrefixOf cursor: keys before pIndex are passed, matched are the passed keys
	// which are prefixes of the last query, shortest first
	pIndex  int
	matched []nibbles.Nibbles
	pLast   nibbles.Nibbles
	pUsed   bool
}

func NewPrefixSet() *PrefixSet {
	return &PrefixSet{}
}

// NewPrefixSetAll - every query answers true. Used when there is no incremental information,
// the calculation degrades to full re-hashing.
func NewPrefixSetAll() *PrefixSet {
	return &PrefixSet{all: true, frozen: true}
}

// NewPrefixSetFromKeys - frozen set of given hashed keys
func NewPrefixSetFromKeys(keys ...common.Hash) *PrefixSet {
	ps := NewPrefixSet()
	for _, k := range keys {
		ps.keys = append(ps.keys, nibbles.Unpack(k[:]))
	}
	ps.Freeze()
	return ps
}

func (ps *PrefixSet) Insert(key nibbles.Nibbles) error {
	if ps.frozen {
		return fmt.Errorf("%w: insert %x into frozen prefix set", ErrPrefixSetMisuse, key)
	}
	ps.keys = append(ps.keys, key.Clone())
	return nil
}

func (ps *PrefixSet) InsertKey(key common.Hash) error {
	return ps.Insert(nibbles.Unpack(key[:]))
}

// Freeze - sorts and deduplicates keys, after it the set is read-only. Idempotent.
func (ps *PrefixSet) Freeze() {
	if ps.frozen {
		return
	}
	sort.Slice(ps.keys, func(i, j int) bool { return ps.keys[i].Compare(ps.keys[j]) < 0 })
	ps.keys = slices.CompactFunc(ps.keys, func(a, b nibbles.Nibbles) bool { return a.Equal(b) })
	ps.frozen = true
}

func (ps *PrefixSet) IsAll() bool   { return ps.all }
func (ps *PrefixSet) IsEmpty() bool { return !ps.all && len(ps.keys) == 0 }
func (ps *PrefixSet) Len() int      { return len(ps.keys) }

// Keys - sorted keys of frozen set, must not be modified
func (ps *PrefixSet) Keys() []nibbles.Nibbles { return ps.keys }

// Clone - set sharing keys, but with own query cursors. Frozen sets only.
func (ps *PrefixSet) Clone() *PrefixSet {
	return &PrefixSet{keys: ps.keys, all: ps.all, frozen: ps.frozen}
}

// Rewind - reset query cursors, to start a new walk over the same set
func (ps *PrefixSet) Rewind() {
	ps.index, ps.last, ps.used = 0, nil, false
	ps.pIndex, ps.matched, ps.pLast, ps.pUsed = 0, nil, nil, false
}

func (ps *PrefixSet) checkQuery(last nibbles.Nibbles, used bool, q nibbles.Nibbles) error {
	if !ps.frozen {
		return fmt.Errorf("%w: query %x before freeze", ErrPrefixSetMisuse, q)
	}
	if used && q.Compare(last) < 0 {
		return fmt.Errorf("%w: query %x after %x", ErrPrefixSetMisuse, q, last)
	}
	return nil
}

// Contains - true if some changed key has given prefix, i.e. subtree under prefix has changes.
func (ps *PrefixSet) Contains(prefix nibbles.Nibbles) (bool, error) {
	if ps.all {
		return true, nil
	}
	if err := ps.checkQuery(ps.last, ps.used, prefix); err != nil {
		return false, err
	}
	ps.last, ps.used = append(ps.last[:0], prefix...), true

	// keys having prefix are contiguous and start from first key >= prefix
	rest := ps.keys[ps.index:]
	i := sort.Search(len(rest), func(i int) bool { return rest[i].Compare(prefix) >= 0 })
	ps.index += i
	return ps.index < len(ps.keys) && ps.keys[ps.index].HasPrefix(prefix), nil
}

// ContainsPrefixOf - true if some changed key is a prefix of (or equal to) path.
func (ps *PrefixSet) ContainsPrefixOf(path nibbles.Nibbles) (bool, error) {
	if ps.all {
		return true, nil
	}
	if err := ps.checkQuery(ps.pLast, ps.pUsed, path); err != nil {
		return false, err
	}
	ps.pLast, ps.pUsed = append(ps.pLast[:0], path...), true

	// A key which is not a prefix of path while being <= path diverges from it to the smaller
	// side, so it's not a prefix of any later query either.
	for len(ps.matched) > 0 && !path.HasPrefix(ps.matched[len(ps.matched)-1]) {
		ps.matched = ps.matched[:len(ps.matched)-1]
	}
	for ; ps.pIndex < len(ps.keys) && ps.keys[ps.pIndex].Compare(path) <= 0; ps.pIndex++ {
		if path.HasPrefix(ps.keys[ps.pIndex]) {
			ps.matched = append(ps.matched, ps.keys[ps.pIndex])
		}
	}
	return len(ps.matched) > 0, nil
}

// TriePrefixSets - all changes of one state root calculation
type TriePrefixSets struct {
	AccountPrefixSet  *PrefixSet
	StoragePrefixSets map[common.Hash]*PrefixSet
	DestroyedAccounts map[common.Hash]struct{}
}

func NewTriePrefixSets() *TriePrefixSets {
	return &TriePrefixSets{
		AccountPrefixSet:  NewPrefixSet(),
		StoragePrefixSets: map[common.Hash]*PrefixSet{},
		DestroyedAccounts: map[common.Hash]struct{}{},
	}
}

// NewTriePrefixSetsAll - full re-calculation of all tries
func NewTriePrefixSetsAll() *TriePrefixSets {
	return &TriePrefixSets{
		AccountPrefixSet:  NewPrefixSetAll(),
		StoragePrefixSets: map[common.Hash]*PrefixSet{},
		DestroyedAccounts: map[common.Hash]struct{}{},
	}
}

func (s *TriePrefixSets) AddAccount(addrHash common.Hash) error {
	if s.AccountPrefixSet.IsAll() {
		return nil
	}
	return s.AccountPrefixSet.InsertKey(addrHash)
}

// AddStorage - the account is marked as changed too: its leaf must be re-hashed with the new storage root.
func (s *TriePrefixSets) AddStorage(addrHash, slotHash common.Hash) error {
	if !s.AccountPrefixSet.IsAll() {
		if err := s.AccountPrefixSet.InsertKey(addrHash); err != nil {
			return err
		}
	}
	ps, ok := s.StoragePrefixSets[addrHash]
	if !ok {
		ps = NewPrefixSet()
		s.StoragePrefixSets[addrHash] = ps
	}
	return ps.InsertKey(slotHash)
}

// AddDestroyed - account was deleted, its storage trie must be wiped
func (s *TriePrefixSets) AddDestroyed(addrHash common.Hash) error {
	s.DestroyedAccounts[addrHash] = struct{}{}
	if s.AccountPrefixSet.IsAll() {
		return nil
	}
	return s.AccountPrefixSet.InsertKey(addrHash)
}

func (s *TriePrefixSets) Freeze() {
	s.AccountPrefixSet.Freeze()
	for _, ps := range s.StoragePrefixSets {
		ps.Freeze()
	}
}
