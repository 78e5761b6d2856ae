package state

import (
	"math"

	"github.com/erigontech/stateroot/common/changeset"
	"github.com/erigontech/stateroot/kv"
)

// RevertHashedState - puts hashed state back to how it was after block unwindPoint.
// Changesets are left in place: callers read them to know what to re-hash, then Truncate.
func RevertHashedState(tx kv.RwTx, unwindPoint uint64) error {
	for table, target := range map[string]string{
		kv.AccountChangeSet: kv.HashedAccounts,
		kv.StorageChangeSet: kv.HashedStorage,
	} {
		// the earliest change of a key holds its value as of unwindPoint
		original := map[string][]byte{}
		var keys []string
		if err := changeset.ForRange(tx, table, unwindPoint+1, math.MaxUint64, func(_ uint64, k, v []byte) error {
			if _, ok := original[string(k)]; ok {
				return nil
			}
			original[string(k)] = append([]byte{}, v...)
			keys = append(keys, string(k))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			var err error
			if v := original[k]; len(v) == 0 {
				err = tx.Delete(target, []byte(k))
			} else {
				err = tx.Put(target, []byte(k), v)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// TruncateChangeSets - removes changesets of blocks after unwindPoint
func TruncateChangeSets(tx kv.RwTx, unwindPoint uint64) error {
	for _, table := range []string{kv.AccountChangeSet, kv.StorageChangeSet} {
		if err := changeset.Truncate(tx, table, unwindPoint+1); err != nil {
			return err
		}
	}
	return nil
}
