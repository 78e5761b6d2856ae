package trie

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/common/nibbles"
	"github.com/erigontech/stateroot/kv"
)

//go:generate mockgen -destination=./mock_cursor_test.go -package=trie . TrieCursor,HashedCursor

// TrieCursor - navigation over persisted branch nodes of one trie, ordered by nibble path.
// nil node means end of the trie.
type TrieCursor interface {
	SeekExact(key nibbles.Nibbles) (nibbles.Nibbles, *BranchNodeCompact, error)
	Seek(key nibbles.Nibbles) (nibbles.Nibbles, *BranchNodeCompact, error)
	Close()
}

// HashedCursor - navigation over hashed state of one trie: accounts, or storage of one account.
// Keys are 32-byte hashes, nil key means end.
type HashedCursor interface {
	Seek(key common.Hash) (k []byte, v []byte, err error)
	Next() (k []byte, v []byte, err error)
	Close()
}

// CursorFactory - source of cursors for one state root calculation. Implementations must
// allow creating and using cursors from several goroutines: storage tries are hashed in parallel.
type CursorFactory interface {
	AccountTrieCursor() (TrieCursor, error)
	StorageTrieCursor(addrHash common.Hash) (TrieCursor, error)
	HashedAccountCursor() (HashedCursor, error)
	HashedStorageCursor(addrHash common.Hash) (HashedCursor, error)
	// StorageRoot - storage root recorded by previous calculation
	StorageRoot(addrHash common.Hash) (root common.Hash, ok bool, err error)
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// DBCursorFactory - CursorFactory over kv tables, see kv/tables.go
type DBCursorFactory struct {
	tx kv.Tx
}

func NewDBCursorFactory(tx kv.Tx) *DBCursorFactory {
	return &DBCursorFactory{tx: tx}
}

func (f *DBCursorFactory) trieCursor(table string, prefix []byte) (TrieCursor, error) {
	c, err := f.tx.Cursor(table)
	if err != nil {
		return nil, storageErr(err)
	}
	return &dbTrieCursor{c: c, prefix: prefix}, nil
}

func (f *DBCursorFactory) hashedCursor(table string, prefix []byte) (HashedCursor, error) {
	c, err := f.tx.Cursor(table)
	if err != nil {
		return nil, storageErr(err)
	}
	return &dbHashedCursor{c: c, prefix: prefix}, nil
}

func (f *DBCursorFactory) AccountTrieCursor() (TrieCursor, error) {
	return f.trieCursor(kv.TrieOfAccounts, nil)
}

func (f *DBCursorFactory) StorageTrieCursor(addrHash common.Hash) (TrieCursor, error) {
	return f.trieCursor(kv.TrieOfStorage, common.CopyBytes(addrHash[:]))
}

func (f *DBCursorFactory) HashedAccountCursor() (HashedCursor, error) {
	return f.hashedCursor(kv.HashedAccounts, nil)
}

func (f *DBCursorFactory) HashedStorageCursor(addrHash common.Hash) (HashedCursor, error) {
	return f.hashedCursor(kv.HashedStorage, common.CopyBytes(addrHash[:]))
}

func (f *DBCursorFactory) StorageRoot(addrHash common.Hash) (common.Hash, bool, error) {
	v, err := f.tx.GetOne(kv.StorageRoots, addrHash[:])
	if err != nil {
		return common.Hash{}, false, storageErr(err)
	}
	if v == nil {
		return common.Hash{}, false, nil
	}
	if len(v) != common.HashLength {
		return common.Hash{}, false, fmt.Errorf("%w: storage root record of %x has length %d", ErrStructuralInconsistency, addrHash, len(v))
	}
	return common.BytesToHash(v), true, nil
}

type dbTrieCursor struct {
	c      kv.Cursor
	prefix []byte
}

func (c *dbTrieCursor) decode(k, v []byte) (nibbles.Nibbles, *BranchNodeCompact, error) {
	if k == nil || !bytes.HasPrefix(k, c.prefix) {
		return nil, nil, nil
	}
	path, err := nibbles.FromHex(k[len(c.prefix):])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: trie key %x: %w", ErrStructuralInconsistency, k, err)
	}
	n, err := UnmarshalBranchNode(v)
	if err != nil {
		return nil, nil, fmt.Errorf("node %x: %w", k, err)
	}
	return path, n, nil
}

func (c *dbTrieCursor) dbKey(key nibbles.Nibbles) []byte {
	dbKey := make([]byte, len(c.prefix)+len(key))
	copy(dbKey, c.prefix)
	copy(dbKey[len(c.prefix):], key)
	return dbKey
}

func (c *dbTrieCursor) SeekExact(key nibbles.Nibbles) (nibbles.Nibbles, *BranchNodeCompact, error) {
	k, v, err := c.c.SeekExact(c.dbKey(key))
	if err != nil {
		return nil, nil, storageErr(err)
	}
	return c.decode(k, v)
}

func (c *dbTrieCursor) Seek(key nibbles.Nibbles) (nibbles.Nibbles, *BranchNodeCompact, error) {
	k, v, err := c.c.Seek(c.dbKey(key))
	if err != nil {
		return nil, nil, storageErr(err)
	}
	return c.decode(k, v)
}

func (c *dbTrieCursor) Close() { c.c.Close() }

type dbHashedCursor struct {
	c      kv.Cursor
	prefix []byte
}

func (c *dbHashedCursor) strip(k, v []byte, err error) ([]byte, []byte, error) {
	if err != nil {
		return nil, nil, storageErr(err)
	}
	if k == nil || !bytes.HasPrefix(k, c.prefix) {
		return nil, nil, nil
	}
	if len(k) != len(c.prefix)+common.HashLength {
		return nil, nil, fmt.Errorf("%w: hashed state key %x has wrong length", ErrStructuralInconsistency, k)
	}
	return k[len(c.prefix):], v, nil
}

func (c *dbHashedCursor) Seek(key common.Hash) ([]byte, []byte, error) {
	seek := make([]byte, len(c.prefix)+common.HashLength)
	copy(seek, c.prefix)
	copy(seek[len(c.prefix):], key[:])
	return c.strip(c.c.Seek(seek))
}

func (c *dbHashedCursor) Next() ([]byte, []byte, error) {
	return c.strip(c.c.Next())
}

func (c *dbHashedCursor) Close() { c.c.Close() }
