package ldb

import (
	"context"
	"testing"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateroot/kv"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db := New(log.New()).InMem().MustOpen()
	t.Cleanup(db.Close)
	return db
}

func TestTablesDoNotOverlap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for _, table := range []string{kv.TrieOfAccounts, kv.TrieOfStorage, kv.StorageRoots} {
			if err := tx.Put(table, nil, []byte(table)); err != nil {
				return err
			}
			if err := tx.Put(table, []byte{0xff}, []byte(table)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		c, err := tx.Cursor(kv.TrieOfStorage)
		require.NoError(t, err)
		defer c.Close()
		k, v, err := c.First()
		require.NoError(t, err)
		require.NotNil(t, k)
		require.Empty(t, k)
		require.Equal(t, []byte(kv.TrieOfStorage), v)
		k, _, err = c.Next()
		require.NoError(t, err)
		require.Equal(t, []byte{0xff}, k)
		k, _, err = c.Next()
		require.NoError(t, err)
		require.Nil(t, k)
		return nil
	}))
}

func TestReadOwnWritesAndSnapshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ro, err := db.BeginRo(ctx)
	require.NoError(t, err)
	defer ro.Rollback()

	tx, err := db.BeginRw(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(kv.HashedStorage, []byte{1, 2}, []byte{7}))
	v, err := tx.GetOne(kv.HashedStorage, []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, []byte{7}, v)

	var seen int
	require.NoError(t, tx.ForPrefix(kv.HashedStorage, []byte{1}, func(k, v []byte) error {
		seen++
		return nil
	}))
	require.Equal(t, 1, seen)
	require.NoError(t, tx.Commit())

	v, err = ro.GetOne(kv.HashedStorage, []byte{1, 2})
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.ClearTable(kv.HashedStorage)
	}))
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		n, err := kv.Count(tx, kv.HashedStorage)
		require.Zero(t, n)
		return err
	}))
}
