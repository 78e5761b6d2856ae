package rawdbreset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
	"github.com/erigontech/stateroot/kv/memdb"
)

func fill(t *testing.T, tx kv.RwTx) {
	t.Helper()
	for _, tables := range Tables {
		for _, table := range tables {
			require.NoError(t, tx.Put(table, []byte{0x01}, []byte{0x02}))
		}
	}
	for _, st := range stages.AllStages {
		require.NoError(t, stages.SaveStageProgress(tx, st, 10))
	}
}

func count(t *testing.T, tx kv.Tx, table string) uint64 {
	t.Helper()
	n, err := kv.Count(tx, table)
	require.NoError(t, err)
	return n
}

func progress(t *testing.T, tx kv.Tx, st stages.SyncStage) uint64 {
	t.Helper()
	n, err := stages.GetStageProgress(tx, st)
	require.NoError(t, err)
	return n
}

func TestResetIH(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	fill(t, tx)
	require.NoError(t, ResetIH(context.Background(), tx))

	for _, table := range Tables[stages.IntermediateHashes] {
		require.Zero(t, count(t, tx, table), table)
	}
	for _, table := range Tables[stages.HashState] {
		require.Equal(t, uint64(1), count(t, tx, table), table)
	}
	require.Zero(t, progress(t, tx, stages.IntermediateHashes))
	require.Equal(t, uint64(10), progress(t, tx, stages.HashState))
}

func TestResetHashState(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	fill(t, tx)
	require.NoError(t, ResetHashState(context.Background(), tx))
	for _, tables := range Tables {
		for _, table := range tables {
			require.Zero(t, count(t, tx, table), table)
		}
	}
	for _, st := range stages.AllStages {
		require.Zero(t, progress(t, tx, st))
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	db := memdb.NewTestDB(t)
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		fill(t, tx)
		return nil
	}))
	require.NoError(t, Reset(ctx, db, stages.IntermediateHashes))
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		require.Zero(t, count(t, tx, kv.TrieOfAccounts))
		require.Equal(t, uint64(1), count(t, tx, kv.HashedAccounts))
		return nil
	}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, Reset(cancelled, db, stages.HashState), context.Canceled)
}
