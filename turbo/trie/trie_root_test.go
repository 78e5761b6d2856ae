package trie_test

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateroot/core/types/accounts"
	"github.com/erigontech/stateroot/kv"
	"github.com/erigontech/stateroot/kv/ldb"
	"github.com/erigontech/stateroot/kv/memdb"
	"github.com/erigontech/stateroot/turbo/trie"
)

// referenceRoot - state root of hashed state in tx by go-ethereum's StackTrie
func referenceRoot(t *testing.T, tx kv.Tx) common.Hash {
	t.Helper()
	accTrie := gethtrie.NewStackTrie(nil)
	err := tx.ForEach(kv.HashedAccounts, nil, func(k, v []byte) error {
		var acc accounts.Account
		if err := acc.DecodeForStorage(v); err != nil {
			return err
		}
		st := gethtrie.NewStackTrie(nil)
		if err := tx.ForPrefix(kv.HashedStorage, k, func(sk, sv []byte) error {
			enc, err := rlp.EncodeToBytes(sv)
			if err != nil {
				return err
			}
			return st.Update(common.CopyBytes(sk[common.HashLength:]), enc)
		}); err != nil {
			return err
		}
		enc, err := rlp.EncodeToBytes(&types.StateAccount{
			Nonce:    acc.Nonce,
			Balance:  acc.Balance.Clone(),
			Root:     st.Hash(),
			CodeHash: acc.CodeHash.Bytes(),
		})
		if err != nil {
			return err
		}
		return accTrie.Update(common.CopyBytes(k), enc)
	})
	require.NoError(t, err)
	return accTrie.Hash()
}

// fixture - random hashed state with a record of changes since the last root calculation
type fixture struct {
	rnd       *rand.Rand
	accounts  []common.Hash
	slots     map[common.Hash][]common.Hash
	destroyed map[common.Hash]struct{}
}

func newFixture(seed int64) *fixture {
	return &fixture{rnd: rand.New(rand.NewSource(seed)), slots: map[common.Hash][]common.Hash{}}
}

// randomKey - half of keys share long prefixes, to have deep tries with extension nodes
func (f *fixture) randomKey() common.Hash {
	var k common.Hash
	if f.rnd.Intn(2) == 0 {
		f.rnd.Read(k[:])
		return k
	}
	prefixes := []byte{0x00, 0x01, 0x10, 0xaa, 0xab, 0xff}
	k[0] = prefixes[f.rnd.Intn(len(prefixes))]
	k[1] = prefixes[f.rnd.Intn(len(prefixes))]
	k[2] = prefixes[f.rnd.Intn(len(prefixes))]
	k[31] = byte(f.rnd.Intn(256))
	return k
}

func (f *fixture) randomValue() []byte {
	v := make([]byte, 1+f.rnd.Intn(32))
	f.rnd.Read(v)
	v[0] |= 1 // trimmed
	return v
}

func (f *fixture) putAccount(t testing.TB, tx kv.RwTx, sets *trie.TriePrefixSets, addrHash common.Hash) {
	acc := accounts.NewAccount()
	acc.Nonce = f.rnd.Uint64() % 1000
	acc.Balance.SetUint64(f.rnd.Uint64())
	if f.rnd.Intn(4) == 0 {
		acc.CodeHash = f.randomKey()
	}
	require.NoError(t, tx.Put(kv.HashedAccounts, addrHash[:], acc.EncodeForStorage()))
	require.NoError(t, sets.AddAccount(addrHash))
}

func (f *fixture) putSlot(t testing.TB, tx kv.RwTx, sets *trie.TriePrefixSets, addrHash, slot common.Hash, value []byte) {
	key := append(common.CopyBytes(addrHash[:]), slot[:]...)
	if value == nil {
		require.NoError(t, tx.Delete(kv.HashedStorage, key))
	} else {
		require.NoError(t, tx.Put(kv.HashedStorage, key, value))
	}
	require.NoError(t, sets.AddStorage(addrHash, slot))
}

func (f *fixture) createAccount(t testing.TB, tx kv.RwTx, sets *trie.TriePrefixSets, slots int) {
	addrHash := f.randomKey()
	if _, ok := f.slots[addrHash]; ok {
		return
	}
	if _, ok := f.destroyed[addrHash]; ok {
		return
	}
	f.accounts = append(f.accounts, addrHash)
	f.slots[addrHash] = nil
	f.putAccount(t, tx, sets, addrHash)
	for i := 0; i < slots; i++ {
		f.setSlot(t, tx, sets, addrHash)
	}
}

func (f *fixture) setSlot(t testing.TB, tx kv.RwTx, sets *trie.TriePrefixSets, addrHash common.Hash) {
	slot := f.randomKey()
	if existing := f.slots[addrHash]; len(existing) > 0 && f.rnd.Intn(3) == 0 {
		slot = existing[f.rnd.Intn(len(existing))]
	} else {
		for _, s := range existing {
			if s == slot {
				return
			}
		}
		f.slots[addrHash] = append(existing, slot)
	}
	f.putSlot(t, tx, sets, addrHash, slot, f.randomValue())
}

func (f *fixture) deleteSlot(t testing.TB, tx kv.RwTx, sets *trie.TriePrefixSets, addrHash common.Hash) {
	existing := f.slots[addrHash]
	if len(existing) == 0 {
		return
	}
	i := f.rnd.Intn(len(existing))
	slot := existing[i]
	existing[i] = existing[len(existing)-1]
	f.slots[addrHash] = existing[:len(existing)-1]
	f.putSlot(t, tx, sets, addrHash, slot, nil)
}

func (f *fixture) deleteAccount(t testing.TB, tx kv.RwTx, sets *trie.TriePrefixSets, i int) {
	addrHash := f.accounts[i]
	f.accounts[i] = f.accounts[len(f.accounts)-1]
	f.accounts = f.accounts[:len(f.accounts)-1]
	delete(f.slots, addrHash)
	f.destroyed[addrHash] = struct{}{}

	require.NoError(t, tx.Delete(kv.HashedAccounts, addrHash[:]))
	_, err := kv.DeletePrefix(tx, kv.HashedStorage, addrHash[:])
	require.NoError(t, err)
	require.NoError(t, sets.AddDestroyed(addrHash))
}

// mutate - random changes of one block
func (f *fixture) mutate(t testing.TB, tx kv.RwTx, ops int) *trie.TriePrefixSets {
	sets := trie.NewTriePrefixSets()
	f.destroyed = map[common.Hash]struct{}{}
	for i := 0; i < ops; i++ {
		if len(f.accounts) == 0 {
			f.createAccount(t, tx, sets, 0)
			continue
		}
		idx := f.rnd.Intn(len(f.accounts))
		addrHash := f.accounts[idx]
		switch f.rnd.Intn(7) {
		case 0:
			f.createAccount(t, tx, sets, f.rnd.Intn(3))
		case 1:
			f.putAccount(t, tx, sets, addrHash)
		case 2:
			f.deleteAccount(t, tx, sets, idx)
		case 3, 4:
			f.setSlot(t, tx, sets, addrHash)
		case 5:
			f.deleteSlot(t, tx, sets, addrHash)
		case 6:
			for len(f.slots[addrHash]) > 0 {
				f.deleteSlot(t, tx, sets, addrHash)
			}
		}
	}
	return sets
}

func (f *fixture) seed(t testing.TB, tx kv.RwTx, accounts, contracts int) {
	sets := trie.NewTriePrefixSets()
	f.destroyed = map[common.Hash]struct{}{}
	for i := 0; i < accounts; i++ {
		slots := 0
		if i < contracts {
			slots = 1 + f.rnd.Intn(50)
		}
		f.createAccount(t, tx, sets, slots)
	}
}

func calcRoot(t *testing.T, tx kv.RwTx, sets *trie.TriePrefixSets, workers int) common.Hash {
	t.Helper()
	cfg := trie.StateRootCfg{LogPrefix: "test", Workers: workers, Logger: log.New()}
	root, updates, err := trie.NewStateRoot(trie.NewDBCursorFactory(tx), sets, cfg).RootWithUpdates(context.Background())
	require.NoError(t, err)
	require.NotNil(t, updates)
	require.NoError(t, updates.Flush(tx))
	return root
}

func dumpTable(t *testing.T, tx kv.Tx, table string) map[string]string {
	t.Helper()
	res := map[string]string{}
	require.NoError(t, tx.ForEach(table, nil, func(k, v []byte) error {
		res[string(k)] = string(v)
		return nil
	}))
	return res
}

func copyHashedState(t *testing.T, from kv.Tx, to kv.RwTx) {
	t.Helper()
	for _, table := range []string{kv.HashedAccounts, kv.HashedStorage} {
		require.NoError(t, from.ForEach(table, nil, func(k, v []byte) error {
			return to.Put(table, common.CopyBytes(k), common.CopyBytes(v))
		}))
	}
}

func TestStateRootEmpty(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	root := calcRoot(t, tx, trie.NewTriePrefixSetsAll(), 1)
	require.Equal(t, accounts.EmptyRoot, root)

	root, err := trie.CalcRoot(context.Background(), "test", tx)
	require.NoError(t, err)
	require.Equal(t, accounts.EmptyRoot, root)
}

func TestStateRootSingleAccount(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	acc := accounts.NewAccount()
	acc.Nonce = 1
	require.NoError(t, tx.Put(kv.HashedAccounts, common.Hash{0x12}.Bytes(), acc.EncodeForStorage()))
	require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, nil, 1))
}

func TestStateRootMatchesStackTrie(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	f := newFixture(1)
	f.seed(t, tx, 1000, 100)
	expected := referenceRoot(t, tx)

	for _, workers := range []int{1, 3, 16} {
		root, err := trie.NewStateRoot(trie.NewDBCursorFactory(tx), trie.NewTriePrefixSetsAll(), trie.StateRootCfg{Workers: workers}).Root(context.Background())
		require.NoError(t, err)
		require.Equal(t, expected, root, "workers=%d", workers)
	}
	root, err := trie.CalcRoot(context.Background(), "test", tx)
	require.NoError(t, err)
	require.Equal(t, expected, root)
}

func TestStateRootIncremental(t *testing.T) {
	db := memdb.NewTestDB(t)
	tx := memdb.BeginRw(t, db)
	f := newFixture(2)
	f.seed(t, tx, 500, 50)
	require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, trie.NewTriePrefixSetsAll(), 4))

	for block := 0; block < 30; block++ {
		sets := f.mutate(t, tx, 1+f.rnd.Intn(40))
		root := calcRoot(t, tx, sets, 4)
		require.Equal(t, referenceRoot(t, tx), root, "block %d", block)
	}

	// persisted tries are the same as ones built from scratch
	fresh := memdb.BeginRw(t, memdb.NewTestDB(t))
	copyHashedState(t, tx, fresh)
	calcRoot(t, fresh, trie.NewTriePrefixSetsAll(), 1)
	for _, table := range []string{kv.TrieOfAccounts, kv.TrieOfStorage, kv.StorageRoots} {
		require.Equal(t, dumpTable(t, fresh, table), dumpTable(t, tx, table), table)
	}
}

// root of stored trie is an extension: there is no node at empty path, and the new key
// goes before the first stored subtree
func TestStateRootInsertBeforeStoredSubtree(t *testing.T) {
	for _, storage := range []bool{false, true} {
		_, tx := memdb.NewTestTx(t)
		contract := common.Hash{0xcc}
		acc := accounts.NewAccount()
		require.NoError(t, tx.Put(kv.HashedAccounts, contract[:], acc.EncodeForStorage()))
		put := func(k common.Hash) {
			if storage {
				require.NoError(t, tx.Put(kv.HashedStorage, append(common.CopyBytes(contract[:]), k[:]...), []byte{0x01}))
				return
			}
			a := accounts.NewAccount()
			a.Nonce = 1
			require.NoError(t, tx.Put(kv.HashedAccounts, k[:], a.EncodeForStorage()))
		}
		for _, k := range []common.Hash{{0xa0, 0x30}, {0xa0, 0x41}, {0xaa, 0x30}} {
			put(k)
		}
		require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, nil, 2))

		sets := trie.NewTriePrefixSets()
		inserted := common.Hash{0x30, 0x30}
		put(inserted)
		if storage {
			require.NoError(t, sets.AddStorage(contract, inserted))
		} else {
			require.NoError(t, sets.AddAccount(inserted))
		}
		require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, sets, 2), "storage=%t", storage)
	}
}

func TestStateRootNoChanges(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	f := newFixture(3)
	f.seed(t, tx, 300, 30)
	expected := calcRoot(t, tx, trie.NewTriePrefixSetsAll(), 2)

	root, updates, err := trie.ComputeRoot(context.Background(), trie.NewDBCursorFactory(tx), trie.NewTriePrefixSets())
	require.NoError(t, err)
	require.Equal(t, expected, root)
	require.Zero(t, updates.Len(), "nothing to persist")
}

func TestStateRootDeleteEverything(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	f := newFixture(4)
	f.seed(t, tx, 100, 10)
	calcRoot(t, tx, trie.NewTriePrefixSetsAll(), 2)

	sets := trie.NewTriePrefixSets()
	f.destroyed = map[common.Hash]struct{}{}
	for len(f.accounts) > 0 {
		f.deleteAccount(t, tx, sets, 0)
	}
	require.Equal(t, accounts.EmptyRoot, calcRoot(t, tx, sets, 2))
	for _, table := range []string{kv.TrieOfAccounts, kv.TrieOfStorage, kv.StorageRoots} {
		n, err := kv.Count(tx, table)
		require.NoError(t, err)
		require.Zero(t, n, table)
	}
}

func TestStateRootLdb(t *testing.T) {
	db := ldb.New(log.New()).InMem().MustOpen()
	defer db.Close()
	tx, err := db.BeginRw(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	f := newFixture(5)
	f.seed(t, tx, 200, 20)
	require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, nil, 4))
	for block := 0; block < 5; block++ {
		sets := f.mutate(t, tx, 20)
		require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, sets, 4), "block %d", block)
	}
}

func TestStateRootCancelled(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	newFixture(6).seed(t, tx, 100, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, updates, err := trie.NewStateRoot(trie.NewDBCursorFactory(tx), nil, trie.StateRootCfg{Workers: 2}).RootWithUpdates(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, updates)
}

func TestStateRootStorageUnavailable(t *testing.T) {
	db := memdb.NewTestDB(t)
	tx := memdb.BeginRw(t, db)
	newFixture(7).seed(t, tx, 10, 2)
	require.NoError(t, tx.Commit())

	roTx, err := db.BeginRo(context.Background())
	require.NoError(t, err)
	roTx.Rollback()
	_, updates, err := trie.ComputeRoot(context.Background(), trie.NewDBCursorFactory(roTx), nil)
	require.ErrorIs(t, err, trie.ErrStorageUnavailable)
	require.Nil(t, updates)
}

func TestStorageRoot(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	f := newFixture(8)
	f.seed(t, tx, 3, 3)
	calcRoot(t, tx, nil, 1)

	for _, addrHash := range f.accounts {
		st := gethtrie.NewStackTrie(nil)
		require.NoError(t, tx.ForPrefix(kv.HashedStorage, addrHash[:], func(k, v []byte) error {
			enc, err := rlp.EncodeToBytes(v)
			if err != nil {
				return err
			}
			return st.Update(common.CopyBytes(k[common.HashLength:]), enc)
		}))
		root, err := trie.NewStorageRoot(trie.NewDBCursorFactory(tx), addrHash, nil).Root(context.Background())
		require.NoError(t, err)
		require.Equal(t, st.Hash(), root)

		stored, err := tx.GetOne(kv.StorageRoots, addrHash[:])
		require.NoError(t, err)
		require.Equal(t, root[:], stored)
	}

	root, err := trie.NewStorageRoot(trie.NewDBCursorFactory(tx), common.Hash{0xde, 0xad}, trie.NewPrefixSet()).Root(context.Background())
	require.NoError(t, err)
	require.Equal(t, accounts.EmptyRoot, root)
}

// fuzzKeys - every 2 bytes of data is a key prefix, the rest of the key is zeroes
func fuzzKeys(data []byte) []common.Hash {
	var keys []common.Hash
	seen := map[common.Hash]struct{}{}
	for i := 0; i+1 < len(data); i += 2 {
		var k common.Hash
		copy(k[:], data[i:i+2])
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func FuzzTrieRootIncremental(f *testing.F) {
	seeds := []struct{ initial, modified string }{
		{"0a000bc00bd0", ""},
		{"ff00fff0ffff", ""},
		{"a000aa00aaa0b000cc00ccc0cdd0", ""},
		{"a000aa00bb00bbb0bbbb", ""},
		{"aa", "bb"},
		{"a000a0aaaaaa", "a00a"},
		{"a000b000b0b0bbb0", "b0bb"},
		{"0a00", "0a000b00"},
		{"a030a041aa30", "3030"},
	}
	for _, s := range seeds {
		f.Add(common.FromHex(s.initial), common.FromHex(s.modified), false)
		f.Add(common.FromHex(s.initial), common.FromHex(s.modified), true)
	}

	f.Fuzz(func(t *testing.T, initial, modified []byte, storage bool) {
		_, tx := memdb.NewTestTx(t)
		contract := common.Hash{0xcc}
		acc := accounts.NewAccount()
		acc.Nonce = 1
		require.NoError(t, tx.Put(kv.HashedAccounts, contract[:], acc.EncodeForStorage()))

		put := func(k common.Hash, v []byte) {
			if storage {
				require.NoError(t, tx.Put(kv.HashedStorage, append(common.CopyBytes(contract[:]), k[:]...), v))
			} else {
				a := accounts.NewAccount()
				a.Nonce = uint64(v[0])
				require.NoError(t, tx.Put(kv.HashedAccounts, k[:], a.EncodeForStorage()))
			}
		}
		for _, k := range fuzzKeys(initial) {
			put(k, []byte{0x01})
		}
		require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, nil, 2))

		sets := trie.NewTriePrefixSets()
		for _, k := range fuzzKeys(modified) {
			put(k, []byte{0x02})
			if storage {
				require.NoError(t, sets.AddStorage(contract, k))
			} else {
				require.NoError(t, sets.AddAccount(k))
			}
		}
		require.Equal(t, referenceRoot(t, tx), calcRoot(t, tx, sets, 2))
	})
}

func TestFuzzKeys(t *testing.T) {
	keys := fuzzKeys(common.FromHex("a000a000b0"))
	require.Len(t, keys, 1)
	require.True(t, bytes.Equal(keys[0][:2], []byte{0xa0, 0x00}))
}

func BenchmarkStateRootIncremental(b *testing.B) {
	db := memdb.New()
	tx, err := db.BeginRw(context.Background())
	require.NoError(b, err)
	defer tx.Rollback()

	f := newFixture(9)
	f.seed(b, tx, 10_000, 500)
	_, updates, err := trie.ComputeRoot(context.Background(), trie.NewDBCursorFactory(tx), trie.NewTriePrefixSetsAll())
	require.NoError(b, err)
	require.NoError(b, updates.Flush(tx))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sets := trie.NewTriePrefixSets()
		for j := 0; j < 100; j++ {
			require.NoError(b, sets.AddAccount(f.accounts[f.rnd.Intn(len(f.accounts))]))
		}
		_, _, err := trie.ComputeRoot(context.Background(), trie.NewDBCursorFactory(tx), sets)
		require.NoError(b, err)
	}
}
