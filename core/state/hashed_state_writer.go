package state

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/erigontech/stateroot/common/changeset"
	"github.com/erigontech/stateroot/core/types/accounts"
	"github.com/erigontech/stateroot/kv"
)

// HashedStateWriter applies changes of one block to the hashed state tables
// and records what the changed keys were before the block.
// Changesets are what the trie stage reads to know which paths to re-hash.
type HashedStateWriter struct {
	tx          kv.RwTx
	csw         *ChangeSetWriter
	blockNumber uint64
}

func NewHashedStateWriter(tx kv.RwTx, blockNumber uint64) *HashedStateWriter {
	return &HashedStateWriter{
		tx:          tx,
		csw:         NewChangeSetWriter(),
		blockNumber: blockNumber,
	}
}

func (w *HashedStateWriter) UpdateAccountData(ctx context.Context, addrHash common.Hash, account *accounts.Account) error {
	original, err := w.tx.GetOne(kv.HashedAccounts, addrHash[:])
	if err != nil {
		return err
	}
	w.csw.UpdateAccountData(addrHash, original)
	return w.tx.Put(kv.HashedAccounts, addrHash[:], account.EncodeForStorage())
}

// DeleteAccount - removes the account together with its storage: the account trie leaf and
// the whole storage trie go away.
func (w *HashedStateWriter) DeleteAccount(ctx context.Context, addrHash common.Hash) error {
	original, err := w.tx.GetOne(kv.HashedAccounts, addrHash[:])
	if err != nil {
		return err
	}
	if original == nil {
		return nil
	}
	w.csw.UpdateAccountData(addrHash, original)

	var slots []common.Hash
	if err := w.tx.ForPrefix(kv.HashedStorage, addrHash[:], func(k, v []byte) error {
		slot := common.BytesToHash(k[common.HashLength:])
		w.csw.WriteAccountStorage(addrHash, slot, v)
		slots = append(slots, slot)
		return nil
	}); err != nil {
		return err
	}
	for _, slot := range slots {
		if err := w.tx.Delete(kv.HashedStorage, compositeStorageKey(addrHash, slot)); err != nil {
			return err
		}
	}
	return w.tx.Delete(kv.HashedAccounts, addrHash[:])
}

// WriteAccountStorage - zero value deletes the slot
func (w *HashedStateWriter) WriteAccountStorage(ctx context.Context, addrHash, slot common.Hash, value *uint256.Int) error {
	compositeKey := compositeStorageKey(addrHash, slot)
	original, err := w.tx.GetOne(kv.HashedStorage, compositeKey)
	if err != nil {
		return err
	}
	v := value.Bytes()
	if bytes.Equal(original, v) {
		return nil
	}
	w.csw.WriteAccountStorage(addrHash, slot, original)
	if len(v) == 0 {
		return w.tx.Delete(kv.HashedStorage, compositeKey)
	}
	return w.tx.Put(kv.HashedStorage, compositeKey, v)
}

func (w *HashedStateWriter) WriteChangeSets() error {
	accountChanges, err := w.csw.GetAccountChanges()
	if err != nil {
		return err
	}
	if err = changeset.Mapper[kv.AccountChangeSet].Encode(w.blockNumber, accountChanges, func(k, v []byte) error {
		return w.tx.Put(kv.AccountChangeSet, k, v)
	}); err != nil {
		return fmt.Errorf("account changes of block %d: %w", w.blockNumber, err)
	}

	storageChanges, err := w.csw.GetStorageChanges()
	if err != nil {
		return err
	}
	if storageChanges.Len() == 0 {
		return nil
	}
	if err = changeset.Mapper[kv.StorageChangeSet].Encode(w.blockNumber, storageChanges, func(k, v []byte) error {
		return w.tx.Put(kv.StorageChangeSet, k, v)
	}); err != nil {
		return fmt.Errorf("storage changes of block %d: %w", w.blockNumber, err)
	}
	return nil
}

func (w *HashedStateWriter) ChangeSetWriter() *ChangeSetWriter {
	return w.csw
}

func compositeStorageKey(addrHash, slot common.Hash) []byte {
	k := make([]byte, 0, 2*common.HashLength)
	return append(append(k, addrHash[:]...), slot[:]...)
}
