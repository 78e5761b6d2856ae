package trie

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerwatch/log/v3"
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/stateroot/common/nibbles"
	"github.com/erigontech/stateroot/core/types/accounts"
	"github.com/erigontech/stateroot/kv"
)

/*
**Theoretically:** "Merkle trie root calculation" starts from state, builds the trie from state keys,
on each level of the trie calculates intermediate hash of underlying data.

**Practically:** it's a preorder traversal of the trie (visit root, then children from left to right).
Two observations make the traversal over huge state cheap.

**Observation 1:** `HashedAccount` keeps state keys sorted. Iteration over the table retrieves
leaves in the same order as preorder traversal visits them.

**Observation 2:** one block changes a small part of the state, so most of the intermediate hashes
don't change. `TrieAccount` keeps branch nodes with hashes of their children, also sorted by path.

**Implementation:** TrieWalker goes over `TrieAccount` and stops at every child slot. If no changed
key is under the slot (PrefixSet), the stored hash of the slot is reused and the whole subtree is
jumped over. Otherwise the walker goes deeper and NodeIter reads leaves of that subtree from `HashedAccount`.
Both cursors only do sequential reads and jumps forward. HashBuilder folds the resulting stream
into the root: it keeps only the references of the currently open path.

Imagine that account with key 0000....00 (64 zero nibbles) changed, the sequence of elements is:
```
0       // stored slot, can't use it - changed key is under it
00      // stored slot, can't use it
...
{63 zeroes}0   // leaf from hashed state
{63 zeroes}1   // stored slot, reused, jump to next sub-trie
...
{62 zeroes}1   // stored slot (1 nibble shorter), reused
...
f       // stored slot, reused
nil     // done
```
Tries are not full, so after `{63 zeroes}0` comes something like `{9 zeroes}1` and the amount of
iterations stays small.

Account leaf needs the storage root of the account. Storage tries with changes are re-hashed by
a pool of goroutines while the account trie is walked, other storage roots are read from
`StorageRoot` table.
*/

// StateRootCfg - settings of one state root calculation
type StateRootCfg struct {
	LogPrefix string
	// Workers - amount of storage tries hashed in parallel, <= 0 means GOMAXPROCS
	Workers int
	Trace   bool
	Logger  log.Logger
}

func (cfg StateRootCfg) workers() int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// StateRoot calculates the state root: root of the account trie, where each account leaf commits to the
// root of its own storage trie.
type StateRoot struct {
	factory CursorFactory
	sets    *TriePrefixSets
	cfg     StateRootCfg
	logger  log.Logger
}

func NewStateRoot(factory CursorFactory, sets *TriePrefixSets, cfg StateRootCfg) *StateRoot {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Root()
	}
	if sets == nil {
		sets = NewTriePrefixSetsAll()
	}
	return &StateRoot{factory: factory, sets: sets, cfg: cfg, logger: logger}
}

// Root - state root without collecting trie updates
func (sr *StateRoot) Root(ctx context.Context) (common.Hash, error) {
	root, _, err := sr.calculate(ctx, false)
	return root, err
}

// RootWithUpdates - state root and all trie changes the caller must persist (see TrieUpdates.Flush) to
// calculate the next root incrementally. Updates are returned only if calculation succeeded.
func (sr *StateRoot) RootWithUpdates(ctx context.Context) (common.Hash, *TrieUpdates, error) {
	return sr.calculate(ctx, true)
}

// ComputeRoot - root of the state in factory, given the keys changed since the previous calculation
func ComputeRoot(ctx context.Context, factory CursorFactory, sets *TriePrefixSets) (common.Hash, *TrieUpdates, error) {
	return NewStateRoot(factory, sets, StateRootCfg{}).RootWithUpdates(ctx)
}

// CalcRoot - full re-hashing of the state in tx, stored trie nodes are not used
func CalcRoot(ctx context.Context, logPrefix string, tx kv.Tx) (common.Hash, error) {
	return NewStateRoot(NewDBCursorFactory(tx), NewTriePrefixSetsAll(), StateRootCfg{LogPrefix: logPrefix}).Root(ctx)
}

func (sr *StateRoot) calculate(ctx context.Context, retainUpdates bool) (common.Hash, *TrieUpdates, error) {
	defer mxStateRootDuration.UpdateDuration(time.Now())
	sr.sets.Freeze()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sr.cfg.workers())

	roots := &storageTasks{
		storageRootReader: storageRootReader{factory: sr.factory, retain: retainUpdates, trace: sr.cfg.Trace},
		dispatched:        make(chan struct{}),
	}
	if retainUpdates {
		roots.updates = NewTrieUpdates()
	}
	var dispatchErr error
	if sr.sets.AccountPrefixSet.IsAll() {
		// every account is visited, in order of hashed state
		roots.stream = make(chan *storageRootFuture, 2*sr.cfg.workers())
		go func() {
			defer close(roots.dispatched)
			defer close(roots.stream)
			dispatchErr = sr.dispatchAll(gctx, g, roots, retainUpdates)
		}()
	} else {
		roots.futures = make(map[common.Hash]*storageRootFuture, len(sr.sets.StoragePrefixSets))
		addrs := make([]common.Hash, 0, len(sr.sets.StoragePrefixSets))
		for addrHash := range sr.sets.StoragePrefixSets {
			addrs = append(addrs, addrHash)
			roots.futures[addrHash] = newStorageRootFuture(addrHash)
		}
		sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
		go func() {
			defer close(roots.dispatched)
			for _, addrHash := range addrs {
				if gctx.Err() != nil {
					return
				}
				sr.dispatch(gctx, g, roots.futures[addrHash], sr.sets.StoragePrefixSets[addrHash].Clone(), retainUpdates)
			}
		}()
	}

	hb := NewHashBuilder(sr.cfg.Trace)
	if retainUpdates {
		hb.WithUpdates()
	}
	root, deletions, err := accountPass(gctx, sr.factory, sr.sets.AccountPrefixSet.Clone(), hb, roots, retainUpdates, sr.progress())
	if err != nil && gctx.Err() == nil {
		// account pass failed on its own, background tasks are not needed anymore
		cancel()
		<-roots.dispatched
		_ = g.Wait()
		if dispatchErr != nil {
			return common.Hash{}, nil, dispatchErr
		}
		return common.Hash{}, nil, err
	}
	if err == nil && roots.stream != nil {
		for f := range roots.stream {
			err = fmt.Errorf("%w: account %x is not visited by the account pass", ErrStructuralInconsistency, f.addrHash)
			cancel()
		}
	}
	<-roots.dispatched
	if werr := g.Wait(); werr != nil {
		return common.Hash{}, nil, werr
	}
	if err != nil {
		return common.Hash{}, nil, err
	}
	if dispatchErr != nil {
		return common.Hash{}, nil, dispatchErr
	}
	if !retainUpdates {
		return root, nil, nil
	}

	updates := roots.updates
	updates.AddAccountTrie(deletions, hb.Updates())
	// storage tries of accounts which leaves weren't visited, e.g. destroyed ones
	for _, f := range roots.futures {
		if f.awaited {
			continue
		}
		res := <-f.ch
		updates.Merge(res.updates)
	}
	for addrHash := range sr.sets.DestroyedAccounts {
		updates.WipeStorage(addrHash)
	}
	return root, updates, nil
}

func (sr *StateRoot) dispatch(ctx context.Context, g *errgroup.Group, f *storageRootFuture, changes *PrefixSet, retainUpdates bool) {
	g.Go(func() error {
		root, updates, err := NewStorageRoot(sr.factory, f.addrHash, changes).withTrace(sr.cfg.Trace).calculate(ctx, retainUpdates)
		f.ch <- storageRootResult{root: root, updates: updates, err: err}
		if err != nil {
			return fmt.Errorf("storage root of %x: %w", f.addrHash, err)
		}
		mxStorageRootsComputed.Inc()
		return nil
	})
}

// dispatchAll - one storage task per account of hashed state, futures are streamed in the
// same order the account pass visits leaves
func (sr *StateRoot) dispatchAll(ctx context.Context, g *errgroup.Group, roots *storageTasks, retainUpdates bool) error {
	c, err := sr.factory.HashedAccountCursor()
	if err != nil {
		return err
	}
	defer c.Close()
	k, _, err := c.Seek(common.Hash{})
	for ; k != nil && err == nil; k, _, err = c.Next() {
		f := newStorageRootFuture(common.BytesToHash(k))
		sr.dispatch(ctx, g, f, NewPrefixSetAll(), retainUpdates)
		select {
		case roots.stream <- f:
		case <-ctx.Done():
			return nil
		}
	}
	return err
}

func (sr *StateRoot) progress() func(k []byte) {
	return func(k []byte) {
		sr.logger.Info(fmt.Sprintf("[%s] Calculating Merkle root", sr.cfg.LogPrefix), "current key", makeCurrentKeyStr(k))
	}
}

// accountPass - walks the account trie, storage roots of visited accounts are taken from roots
func accountPass(ctx context.Context, factory CursorFactory, changes *PrefixSet, hb *HashBuilder, roots storageRootSource, retainUpdates bool, logProgress func(k []byte)) (common.Hash, []nibbles.Nibbles, error) {
	trieCursor, err := factory.AccountTrieCursor()
	if err != nil {
		return common.Hash{}, nil, err
	}
	defer trieCursor.Close()
	hashed, err := factory.HashedAccountCursor()
	if err != nil {
		return common.Hash{}, nil, err
	}
	defer hashed.Close()

	walker, err := NewTrieWalker(trieCursor, changes)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if retainUpdates {
		walker.WithDeletions()
	}
	iter := NewNodeIter(walker, hashed)

	logEvery := time.NewTicker(30 * time.Second)
	defer logEvery.Stop()

	var acc accounts.Account
	for {
		if err := ctx.Err(); err != nil {
			return common.Hash{}, nil, err
		}
		el, err := iter.Next()
		if err != nil {
			return common.Hash{}, nil, err
		}
		if el == nil {
			break
		}
		if !el.Leaf {
			mxBranchesReused.Inc()
			if err := hb.AddBranch(el.Key, el.Hash, el.ChildrenInTrie); err != nil {
				return common.Hash{}, nil, err
			}
			continue
		}

		if err := acc.DecodeForStorage(el.LeafValue); err != nil {
			return common.Hash{}, nil, fmt.Errorf("%w: account %x: %w", ErrStructuralInconsistency, el.LeafKey, err)
		}
		storageRoot, err := roots.storageRoot(ctx, el.LeafKey)
		if err != nil {
			return common.Hash{}, nil, err
		}
		mxLeavesHashed.Inc()
		if err := hb.AddLeaf(el.Key, acc.EncodeForHashing(storageRoot)); err != nil {
			return common.Hash{}, nil, err
		}

		select {
		default:
		case <-logEvery.C:
			if logProgress != nil {
				logProgress(el.LeafKey[:])
			}
		}
	}

	root, err := hb.Root()
	if err != nil {
		return common.Hash{}, nil, err
	}
	return root, walker.Deletions(), nil
}

type storageRootSource interface {
	storageRoot(ctx context.Context, addrHash common.Hash) (common.Hash, error)
}

// storageRootReader - storage roots of accounts which storage didn't change: recorded by previous
// calculation, or computed from scratch if there is no record
type storageRootReader struct {
	factory CursorFactory
	retain  bool
	updates *TrieUpdates
	trace   bool
}

func (r *storageRootReader) storageRoot(ctx context.Context, addrHash common.Hash) (common.Hash, error) {
	root, ok, err := r.factory.StorageRoot(addrHash)
	if err != nil {
		return common.Hash{}, err
	}
	if ok {
		mxStorageRootsReused.Inc()
		return root, nil
	}
	mxStorageRootsMissing.Inc()
	root, updates, err := NewStorageRoot(r.factory, addrHash, NewPrefixSetAll()).withTrace(r.trace).calculate(ctx, r.retain)
	if err != nil {
		return common.Hash{}, fmt.Errorf("storage root of %x: %w", addrHash, err)
	}
	if r.updates != nil {
		r.updates.Merge(updates)
	}
	return root, nil
}

type storageRootResult struct {
	root    common.Hash
	updates *TrieUpdates
	err     error
}

type storageRootFuture struct {
	addrHash common.Hash
	ch       chan storageRootResult
	awaited  bool
}

func newStorageRootFuture(addrHash common.Hash) *storageRootFuture {
	return &storageRootFuture{addrHash: addrHash, ch: make(chan storageRootResult, 1)}
}

// storageTasks - storage roots computed by background goroutines. Owned by the account pass,
// only result channels are shared with workers.
type storageTasks struct {
	storageRootReader

	futures    map[common.Hash]*storageRootFuture // incremental: accounts with storage changes
	stream     chan *storageRootFuture            // full: every account, in order
	dispatched chan struct{}
}

func (t *storageTasks) storageRoot(ctx context.Context, addrHash common.Hash) (common.Hash, error) {
	var f *storageRootFuture
	if t.stream != nil {
		select {
		case next, ok := <-t.stream:
			if !ok {
				if err := ctx.Err(); err != nil {
					return common.Hash{}, err
				}
				return common.Hash{}, fmt.Errorf("%w: no storage task for account %x", ErrStructuralInconsistency, addrHash)
			}
			f = next
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
		if f.addrHash != addrHash {
			return common.Hash{}, fmt.Errorf("%w: storage task for %x, but account %x is visited", ErrStructuralInconsistency, f.addrHash, addrHash)
		}
	} else if f = t.futures[addrHash]; f == nil {
		return t.storageRootReader.storageRoot(ctx, addrHash)
	}

	var res storageRootResult
	select {
	case res = <-f.ch:
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}
	f.awaited = true
	if res.err != nil {
		return common.Hash{}, res.err
	}
	if t.updates != nil {
		t.updates.Merge(res.updates)
	}
	return res.root, nil
}

// StorageRoot calculates root of one account's storage trie
type StorageRoot struct {
	factory  CursorFactory
	addrHash common.Hash
	changes  *PrefixSet
	trace    bool

	hb *HashBuilder
}

func NewStorageRoot(factory CursorFactory, addrHash common.Hash, changes *PrefixSet) *StorageRoot {
	if changes == nil {
		changes = NewPrefixSetAll()
	}
	return &StorageRoot{factory: factory, addrHash: addrHash, changes: changes}
}

func (s *StorageRoot) withTrace(trace bool) *StorageRoot {
	s.trace = trace
	return s
}

// withHashBuilder - calculate with given HashBuilder, e.g. one retaining proof nodes
func (s *StorageRoot) withHashBuilder(hb *HashBuilder) *StorageRoot {
	s.hb = hb
	return s
}

// Root - storage root, without collecting updates
func (s *StorageRoot) Root(ctx context.Context) (common.Hash, error) {
	root, _, err := s.calculate(ctx, false)
	return root, err
}

func (s *StorageRoot) RootWithUpdates(ctx context.Context) (common.Hash, *TrieUpdates, error) {
	return s.calculate(ctx, true)
}

func (s *StorageRoot) calculate(ctx context.Context, retainUpdates bool) (common.Hash, *TrieUpdates, error) {
	s.changes.Freeze()
	updates := NewTrieUpdates()

	hashed, err := s.factory.HashedStorageCursor(s.addrHash)
	if err != nil {
		return common.Hash{}, nil, err
	}
	defer hashed.Close()
	first, _, err := hashed.Seek(common.Hash{})
	if err != nil {
		return common.Hash{}, nil, err
	}
	if first == nil {
		// nothing to hash, persisted nodes (if any) are stale
		st := updates.storage(s.addrHash)
		st.Wiped = !s.changes.IsEmpty()
		root := accounts.EmptyRoot
		st.Root = &root
		return accounts.EmptyRoot, updates, nil
	}

	trieCursor, err := s.factory.StorageTrieCursor(s.addrHash)
	if err != nil {
		return common.Hash{}, nil, err
	}
	defer trieCursor.Close()
	walker, err := NewTrieWalker(trieCursor, s.changes)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if retainUpdates {
		walker.WithDeletions()
	}

	hb := s.hb
	if hb == nil {
		hb = NewHashBuilder(s.trace)
	}
	if retainUpdates {
		hb.WithUpdates()
	}
	iter := NewNodeIter(walker, hashed)
	for {
		if err := ctx.Err(); err != nil {
			return common.Hash{}, nil, err
		}
		el, err := iter.Next()
		if err != nil {
			return common.Hash{}, nil, err
		}
		if el == nil {
			break
		}
		if el.Leaf {
			mxStorageLeavesHashed.Inc()
			err = hb.AddLeaf(el.Key, storageValueRLP(el.LeafValue))
		} else {
			mxBranchesReused.Inc()
			err = hb.AddBranch(el.Key, el.Hash, el.ChildrenInTrie)
		}
		if err != nil {
			return common.Hash{}, nil, err
		}
	}

	root, err := hb.Root()
	if err != nil {
		return common.Hash{}, nil, err
	}
	updates.AddStorageTrie(s.addrHash, walker.Deletions(), hb.Updates(), root)
	return root, updates, nil
}

func makeCurrentKeyStr(k []byte) string {
	var currentKeyStr string
	if k == nil {
		currentKeyStr = "final"
	} else if len(k) < 4 {
		currentKeyStr = hex.EncodeToString(k)
	} else {
		currentKeyStr = hex.EncodeToString(k[:4])
	}
	return currentKeyStr
}
