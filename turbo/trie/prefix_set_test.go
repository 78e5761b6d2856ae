package trie

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateroot/common/nibbles"
)

func mustNibbles(t *testing.T, hex ...byte) nibbles.Nibbles {
	t.Helper()
	n, err := nibbles.FromHex(hex)
	require.NoError(t, err)
	return n
}

func TestPrefixSetContains(t *testing.T) {
	ps := NewPrefixSet()
	require.NoError(t, ps.Insert(mustNibbles(t, 1, 2, 3)))
	require.NoError(t, ps.Insert(mustNibbles(t, 1, 2, 4)))
	require.NoError(t, ps.Insert(mustNibbles(t, 1, 2, 3))) // duplicate
	require.NoError(t, ps.Insert(mustNibbles(t, 4, 5)))
	ps.Freeze()
	require.Equal(t, 3, ps.Len())

	for _, tc := range []struct {
		prefix []byte
		exp    bool
	}{
		{[]byte{}, true},
		{[]byte{1}, true},
		{[]byte{1, 2}, true},
		{[]byte{1, 2, 3}, true},
		{[]byte{1, 2, 3, 0}, false},
		{[]byte{1, 2, 5}, false},
		{[]byte{3}, false},
		{[]byte{4, 5}, true},
		{[]byte{4, 5, 6}, false},
		{[]byte{5}, false},
	} {
		ok, err := ps.Contains(mustNibbles(t, tc.prefix...))
		require.NoError(t, err)
		assert.Equal(t, tc.exp, ok, "prefix %x", tc.prefix)
	}
}

func TestPrefixSetContainsPrefixOf(t *testing.T) {
	ps := NewPrefixSet()
	require.NoError(t, ps.Insert(mustNibbles(t, 1, 2)))
	require.NoError(t, ps.Insert(mustNibbles(t, 1, 2, 3, 4)))
	require.NoError(t, ps.Insert(mustNibbles(t, 7)))
	ps.Freeze()

	for _, tc := range []struct {
		path []byte
		exp  bool
	}{
		{[]byte{1}, false},
		{[]byte{1, 2}, true},
		{[]byte{1, 2, 0, 0}, true},
		{[]byte{1, 3}, false},
		{[]byte{6, 15}, false},
		{[]byte{7}, true},
		{[]byte{7, 1, 2}, true},
		{[]byte{8}, false},
	} {
		ok, err := ps.ContainsPrefixOf(mustNibbles(t, tc.path...))
		require.NoError(t, err)
		assert.Equal(t, tc.exp, ok, "path %x", tc.path)
	}
}

func TestPrefixSetMisuse(t *testing.T) {
	ps := NewPrefixSet()
	require.NoError(t, ps.Insert(mustNibbles(t, 1)))

	_, err := ps.Contains(mustNibbles(t, 1))
	require.ErrorIs(t, err, ErrPrefixSetMisuse, "query before freeze")

	ps.Freeze()
	require.ErrorIs(t, ps.Insert(mustNibbles(t, 2)), ErrPrefixSetMisuse, "insert after freeze")

	_, err = ps.Contains(mustNibbles(t, 5))
	require.NoError(t, err)
	_, err = ps.Contains(mustNibbles(t, 4))
	require.ErrorIs(t, err, ErrPrefixSetMisuse, "decreasing query")

	ps.Rewind()
	ok, err := ps.Contains(mustNibbles(t, 1))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPrefixSetAll(t *testing.T) {
	ps := NewPrefixSetAll()
	require.True(t, ps.IsAll())
	require.False(t, ps.IsEmpty())
	for _, p := range [][]byte{{}, {15}, {0, 0, 0}} {
		ok, err := ps.Contains(mustNibbles(t, p...))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, NewPrefixSetFromKeys().IsEmpty())
}

// answers must not depend on the cursor: compare with the full scan over random sorted queries
func TestPrefixSetAgainstScan(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	randPath := func(maxLen int) nibbles.Nibbles {
		n := make(nibbles.Nibbles, rnd.Intn(maxLen+1))
		for i := range n {
			n[i] = byte(rnd.Intn(3)) // small alphabet, to have shared prefixes
		}
		return n
	}

	for round := 0; round < 50; round++ {
		var keys []nibbles.Nibbles
		ps := NewPrefixSet()
		for i := 0; i < 20; i++ {
			k := randPath(6)
			keys = append(keys, k)
			require.NoError(t, ps.Insert(k))
		}
		ps.Freeze()

		queries := make([]nibbles.Nibbles, 40)
		for i := range queries {
			queries[i] = randPath(6)
		}
		sortNibbles(queries)

		cps := ps.Clone()
		for _, q := range queries {
			var expContains, expPrefixOf bool
			for _, k := range keys {
				expContains = expContains || k.HasPrefix(q)
				expPrefixOf = expPrefixOf || q.HasPrefix(k)
			}
			ok, err := ps.Contains(q)
			require.NoError(t, err)
			require.Equal(t, expContains, ok, "contains %x", q)
			ok, err = cps.ContainsPrefixOf(q)
			require.NoError(t, err)
			require.Equal(t, expPrefixOf, ok, "prefix of %x", q)
		}
	}
}

func sortNibbles(list []nibbles.Nibbles) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].Compare(list[j-1]) < 0; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func TestTriePrefixSets(t *testing.T) {
	sets := NewTriePrefixSets()
	acc, slot := common.Hash{0xaa}, common.Hash{0x01}
	require.NoError(t, sets.AddStorage(acc, slot))
	require.NoError(t, sets.AddDestroyed(common.Hash{0xbb}))
	sets.Freeze()

	ok, err := sets.AccountPrefixSet.Contains(nibbles.Unpack(acc[:]))
	require.NoError(t, err)
	require.True(t, ok, "storage change marks the account")
	require.Len(t, sets.StoragePrefixSets, 1)
	require.Contains(t, sets.DestroyedAccounts, common.Hash{0xbb})

	all := NewTriePrefixSetsAll()
	require.NoError(t, all.AddAccount(acc))
	require.NoError(t, all.AddDestroyed(acc))
	require.True(t, all.AccountPrefixSet.IsAll())
}
