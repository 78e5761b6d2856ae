package state

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/common/changeset"
)

// ChangeSetWriter accumulates original values of keys changed by one block.
// The first write of a key in the block wins: later writes don't change what the key was before the block.
type ChangeSetWriter struct {
	accountChanges map[common.Hash][]byte
	storageChanges map[string][]byte
}

func NewChangeSetWriter() *ChangeSetWriter {
	return &ChangeSetWriter{
		accountChanges: make(map[common.Hash][]byte),
		storageChanges: make(map[string][]byte),
	}
}

func (w *ChangeSetWriter) accountTouched(addrHash common.Hash) bool {
	_, ok := w.accountChanges[addrHash]
	return ok
}

func (w *ChangeSetWriter) UpdateAccountData(addrHash common.Hash, original []byte) {
	if !w.accountTouched(addrHash) {
		w.accountChanges[addrHash] = common.CopyBytes(original)
	}
}

func storageKey(addrHash, slot common.Hash) string {
	return string(addrHash[:]) + string(slot[:])
}

func (w *ChangeSetWriter) WriteAccountStorage(addrHash, slot common.Hash, original []byte) {
	k := storageKey(addrHash, slot)
	if _, ok := w.storageChanges[k]; !ok {
		w.storageChanges[k] = common.CopyBytes(original)
	}
}

func (w *ChangeSetWriter) GetAccountChanges() (*changeset.ChangeSet, error) {
	cs := changeset.NewAccountChangeSet()
	for addrHash, val := range w.accountChanges {
		if err := cs.Add(common.CopyBytes(addrHash[:]), val); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func (w *ChangeSetWriter) GetStorageChanges() (*changeset.ChangeSet, error) {
	cs := changeset.NewStorageChangeSet()
	for k, val := range w.storageChanges {
		if err := cs.Add([]byte(k), val); err != nil {
			return nil, err
		}
	}
	return cs, nil
}
