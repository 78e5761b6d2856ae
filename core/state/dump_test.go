package state

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateroot/core/types/accounts"
	"github.com/erigontech/stateroot/kv"
	"github.com/erigontech/stateroot/kv/memdb"
)

func TestDumpImport(t *testing.T) {
	ctx := context.Background()
	_, tx := memdb.NewTestTx(t)

	w := NewHashedStateWriter(tx, 0)
	for i := byte(1); i <= 10; i++ {
		acc := accounts.NewAccount()
		acc.Nonce = uint64(i)
		acc.Balance.SetUint64(uint64(i) * 1000)
		if i%3 == 0 {
			acc.CodeHash = common.Hash{i, 0xc0}
		}
		addrHash := common.Hash{i}
		require.NoError(t, w.UpdateAccountData(ctx, addrHash, &acc))
		if i%2 == 0 {
			require.NoError(t, w.WriteAccountStorage(ctx, addrHash, common.Hash{0x0a}, uint256.NewInt(uint64(i))))
			require.NoError(t, w.WriteAccountStorage(ctx, addrHash, common.Hash{0x0b}, uint256.NewInt(0xffff)))
		}
	}

	dump, err := RawDump(tx)
	require.NoError(t, err)
	require.Len(t, dump.Accounts, 10)
	require.Equal(t, "0x2", dump.Accounts[common.Hash{2}.Hex()].Storage[common.Hash{0x0a}.Hex()])

	var buf bytes.Buffer
	require.NoError(t, dump.Write(&buf))
	read, err := ReadDump(&buf)
	require.NoError(t, err)

	_, tx2 := memdb.NewTestTx(t)
	require.NoError(t, read.Import(ctx, NewHashedStateWriter(tx2, 0)))
	for _, table := range []string{kv.HashedAccounts, kv.HashedStorage} {
		want := map[string]string{}
		require.NoError(t, tx.ForEach(table, nil, func(k, v []byte) error {
			want[string(k)] = string(v)
			return nil
		}))
		got := map[string]string{}
		require.NoError(t, tx2.ForEach(table, nil, func(k, v []byte) error {
			got[string(k)] = string(v)
			return nil
		}))
		require.Equal(t, want, got, table)
	}
}

func TestReadDumpBadBalance(t *testing.T) {
	d, err := ReadDump(bytes.NewBufferString(`{"accounts": {"0x01": {"balance": "100", "nonce": 1}}}`))
	require.NoError(t, err)
	_, tx := memdb.NewTestTx(t)
	require.Error(t, d.Import(context.Background(), NewHashedStateWriter(tx, 0)))
}
