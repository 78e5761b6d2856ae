package kv

import (
	"context"
	"errors"
)

/*
Naming:

	tx - Database Transaction
	RoTx - Read-Only Database Transaction. RwTx - read-write
	k, v - key, value
	Table - collection of key-value pairs. Keys are sorted bytewise and unique
	Cursor - low-level api to navigate over Table

Backends:

	kv/memdb - in-memory b-tree, copy-on-write snapshot per transaction. Tests and small imports.
	kv/ldb   - goleveldb on disk, snapshot per read transaction.

Unlike mdbx transactions, transactions of both backends may be shared between
goroutines for reading: cursors can be opened and used concurrently as long as
no goroutine writes through the same transaction at that time. The state root
calculation relies on this to hash storage tries in parallel.
*/

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrTxClosed     = errors.New("transaction already committed or rolled back")
)

type Closer interface {
	Close()
}

/*
RoDB low-level interface.
Lifetime: read data valid until end of transaction.
Example:

	tx, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() // it's safe to Rollback after `tx.Commit()`

	... application logic using `tx`
*/
type RoDB interface {
	Closer
	BeginRo(ctx context.Context) (Tx, error)

	// View like BeginRo but for short-living transactions. Example:
	//	 if err := db.View(ctx, func(tx kv.Tx) error {
	//	    ... code which uses database in transaction
	//	 }); err != nil {
	//			return err
	//	}
	View(ctx context.Context, f func(tx Tx) error) error
}

type RwDB interface {
	RoDB

	Update(ctx context.Context, f func(tx RwTx) error) error

	// BeginRw - creates transaction. Only one RwTx can be open at a time, BeginRw blocks
	// until the previous one is committed or rolled back.
	BeginRw(ctx context.Context) (RwTx, error)
}

type Getter interface {
	// Has indicates whether a key exists in the database.
	Has(table string, key []byte) (bool, error)

	// GetOne references a readonly section of memory that must not be accessed after txn has terminated
	GetOne(table string, key []byte) (val []byte, err error)

	// ForEach iterates over entries with keys greater or equal to fromPrefix.
	// walker is called for each eligible entry.
	// If walker returns an error:
	//   - implementations of local db - stop
	ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error
	ForPrefix(table string, prefix []byte, walker func(k, v []byte) error) error
}

// Putter wraps the database write operations.
type Putter interface {
	// Put inserts or updates a single entry.
	Put(table string, k, v []byte) error

	// Delete removes a single entry.
	Delete(table string, k []byte) error
}

type Tx interface {
	Getter

	// Cursor - creates cursor object on top of given table.
	Cursor(table string) (Cursor, error)

	// Rollback - abandon all the operations of the transaction instead of saving them.
	Rollback()
}

type RwTx interface {
	Tx
	Putter

	// ClearTable - removes all entries of the table, the table itself stays.
	ClearTable(table string) error

	Commit() error // Commit all the operations of a transaction into the database.
}

/*
Cursor - low-level api to navigate through a db table
Example iterate table:

	c, err := tx.Cursor(tableName)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
	   if err != nil {
		   return err
	   }
	   ... logic using `k` and `v` (key and value)
	}
*/
type Cursor interface {
	First() ([]byte, []byte, error)               // First - position at first key/data item
	Seek(seek []byte) ([]byte, []byte, error)     // Seek - position at first key greater than or equal to specified key
	SeekExact(key []byte) ([]byte, []byte, error) // SeekExact - position at exact matching key if exists
	Next() ([]byte, []byte, error)                // Next - position at next key/value
	Last() ([]byte, []byte, error)                // Last - position at last key
	Current() ([]byte, []byte, error)             // Current - return key/data at current cursor position

	Close()
}
