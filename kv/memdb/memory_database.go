package memdb

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/tidwall/btree"

	"github.com/erigontech/stateroot/kv"
)

type kvItem struct {
	k, v []byte
}

func lessItem(a, b kvItem) bool { return bytes.Compare(a.k, b.k) < 0 }

func newTable() *btree.BTreeG[kvItem] {
	return btree.NewBTreeGOptions(lessItem, btree.Options{NoLocks: true})
}

// MemoryDB - in-memory kv.RwDB. Every transaction works on a copy-on-write
// snapshot of all tables, RwTx publishes its snapshot on Commit.
type MemoryDB struct {
	mu     sync.Mutex // guards tables
	tables map[string]*btree.BTreeG[kvItem]
	wlock  sync.Mutex // single writer
}

func New() *MemoryDB {
	db := &MemoryDB{tables: make(map[string]*btree.BTreeG[kvItem], len(kv.ChaindataTables))}
	for _, name := range kv.ChaindataTables {
		db.tables[name] = newTable()
	}
	return db
}

func NewTestDB(tb testing.TB) *MemoryDB {
	tb.Helper()
	db := New()
	tb.Cleanup(db.Close)
	return db
}

func BeginRw(tb testing.TB, db kv.RwDB) kv.RwTx {
	tb.Helper()
	tx, err := db.BeginRw(context.Background())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(tx.Rollback)
	return tx
}

func NewTestTx(tb testing.TB) (kv.RwDB, kv.RwTx) {
	tb.Helper()
	db := NewTestDB(tb)
	return db, BeginRw(tb, db)
}

func (db *MemoryDB) Close() {}

func (db *MemoryDB) snapshot() map[string]*btree.BTreeG[kvItem] {
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := make(map[string]*btree.BTreeG[kvItem], len(db.tables))
	for name, t := range db.tables {
		snap[name] = t.Copy()
	}
	return snap
}

func (db *MemoryDB) BeginRo(ctx context.Context) (kv.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{db: db, tables: db.snapshot(), readOnly: true}, nil
}

func (db *MemoryDB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.wlock.Lock()
	return &memTx{db: db, tables: db.snapshot()}, nil
}

func (db *MemoryDB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	tx, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (db *MemoryDB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	tx, err := db.BeginRw(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type memTx struct {
	db       *MemoryDB
	tables   map[string]*btree.BTreeG[kvItem]
	readOnly bool
	done     bool
}

func (tx *memTx) table(name string) (*btree.BTreeG[kvItem], error) {
	if tx.done {
		return nil, kv.ErrTxClosed
	}
	t, ok := tx.tables[name]
	if !ok {
		return nil, kv.ErrUnknownTable
	}
	return t, nil
}

func (tx *memTx) Has(table string, key []byte) (bool, error) {
	t, err := tx.table(table)
	if err != nil {
		return false, err
	}
	_, ok := t.Get(kvItem{k: key})
	return ok, nil
}

func (tx *memTx) GetOne(table string, key []byte) ([]byte, error) {
	t, err := tx.table(table)
	if err != nil {
		return nil, err
	}
	it, ok := t.Get(kvItem{k: key})
	if !ok {
		return nil, nil
	}
	return it.v, nil
}

func (tx *memTx) ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error {
	c, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	return kv.CursorForEach(c, fromPrefix, walker)
}

func (tx *memTx) ForPrefix(table string, prefix []byte, walker func(k, v []byte) error) error {
	c, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	return kv.CursorForPrefix(c, prefix, walker)
}

func (tx *memTx) Cursor(table string) (kv.Cursor, error) {
	t, err := tx.table(table)
	if err != nil {
		return nil, err
	}
	return &memCursor{t: t}, nil
}

func (tx *memTx) Put(table string, k, v []byte) error {
	if tx.readOnly {
		return kv.ErrTxClosed
	}
	t, err := tx.table(table)
	if err != nil {
		return err
	}
	// keys are never nil, so the root trie record (empty key) is distinguishable from end of table
	t.Set(kvItem{k: append([]byte{}, k...), v: append([]byte{}, v...)})
	return nil
}

func (tx *memTx) Delete(table string, k []byte) error {
	if tx.readOnly {
		return kv.ErrTxClosed
	}
	t, err := tx.table(table)
	if err != nil {
		return err
	}
	t.Delete(kvItem{k: k})
	return nil
}

func (tx *memTx) ClearTable(table string) error {
	if _, err := tx.table(table); err != nil {
		return err
	}
	tx.tables[table] = newTable()
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return kv.ErrTxClosed
	}
	tx.done = true
	if tx.readOnly {
		return nil
	}
	tx.db.mu.Lock()
	tx.db.tables = tx.tables
	tx.db.mu.Unlock()
	tx.db.wlock.Unlock()
	return nil
}

func (tx *memTx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	if !tx.readOnly {
		tx.db.wlock.Unlock()
	}
}

// memCursor re-seeks the tree on every step, so it stays valid when the
// transaction writes to the table while the cursor is open.
type memCursor struct {
	t   *btree.BTreeG[kvItem]
	cur *kvItem
	eof bool
}

func (c *memCursor) set(it kvItem, ok bool) ([]byte, []byte, error) {
	c.eof = !ok
	if !ok {
		c.cur = nil
		return nil, nil, nil
	}
	c.cur = &it
	return it.k, it.v, nil
}

func (c *memCursor) First() ([]byte, []byte, error) { return c.set(c.t.Min()) }

func (c *memCursor) Last() ([]byte, []byte, error) { return c.set(c.t.Max()) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte, error) {
	var found kvItem
	var ok bool
	c.t.Ascend(kvItem{k: seek}, func(it kvItem) bool {
		found, ok = it, true
		return false
	})
	return c.set(found, ok)
}

func (c *memCursor) SeekExact(key []byte) ([]byte, []byte, error) {
	return c.set(c.t.Get(kvItem{k: key}))
}

func (c *memCursor) Next() ([]byte, []byte, error) {
	if c.eof {
		return nil, nil, nil
	}
	if c.cur == nil {
		return c.First()
	}
	var found kvItem
	var ok bool
	prev := c.cur.k
	c.t.Ascend(kvItem{k: prev}, func(it kvItem) bool {
		if bytes.Equal(it.k, prev) {
			return true
		}
		found, ok = it, true
		return false
	})
	return c.set(found, ok)
}

func (c *memCursor) Current() ([]byte, []byte, error) {
	if c.cur == nil {
		return nil, nil, nil
	}
	return c.cur.k, c.cur.v, nil
}

func (c *memCursor) Close() {}
