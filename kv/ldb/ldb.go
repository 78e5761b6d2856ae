package ldb

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/erigontech/stateroot/kv"
)

// Physical layout: all tables share one leveldb keyspace, every key is
// prefixed by kv.TableID of its table.

type Opts struct {
	log         log.Logger
	path        string
	inMem       bool
	readOnly    bool
	cacheSize   datasize.ByteSize
	writeBuffer datasize.ByteSize
}

func New(logger log.Logger) Opts {
	return Opts{
		log:         logger,
		cacheSize:   64 * datasize.MB,
		writeBuffer: 32 * datasize.MB,
	}
}

func (opts Opts) Path(path string) Opts {
	opts.path = path
	return opts
}

func (opts Opts) InMem() Opts {
	opts.inMem = true
	return opts
}

func (opts Opts) Readonly() Opts {
	opts.readOnly = true
	return opts
}

func (opts Opts) BlockCacheSize(sz datasize.ByteSize) Opts {
	opts.cacheSize = sz
	return opts
}

func (opts Opts) WriteBuffer(sz datasize.ByteSize) Opts {
	opts.writeBuffer = sz
	return opts
}

func (opts Opts) Open() (*DB, error) {
	o := &opt.Options{
		BlockCacheCapacity: int(opts.cacheSize.Bytes()),
		WriteBuffer:        int(opts.writeBuffer.Bytes()),
		ReadOnly:           opts.readOnly,
	}
	var (
		db  *leveldb.DB
		err error
	)
	if opts.inMem {
		db, err = leveldb.Open(storage.NewMemStorage(), o)
	} else {
		if opts.path == "" {
			return nil, errors.New("ldb: path is not set")
		}
		db, err = leveldb.OpenFile(opts.path, o)
	}
	if err != nil {
		return nil, fmt.Errorf("ldb: open %q: %w", opts.path, err)
	}
	opts.log.Debug("[db] opened leveldb", "path", opts.path, "inMem", opts.inMem,
		"cache", opts.cacheSize.HumanReadable(), "writeBuffer", opts.writeBuffer.HumanReadable())
	return &DB{db: db, opts: opts}, nil
}

func (opts Opts) MustOpen() *DB {
	db, err := opts.Open()
	if err != nil {
		panic(err)
	}
	return db
}

type DB struct {
	db   *leveldb.DB
	opts Opts
}

func (db *DB) Close() {
	if err := db.db.Close(); err != nil {
		db.opts.log.Warn("[db] close", "err", err)
	}
}

func (db *DB) BeginRo(ctx context.Context) (kv.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := db.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &tx{r: snap, snap: snap}, nil
}

// BeginRw - leveldb allows one open transaction, next one waits for Commit/Rollback of previous.
func (db *DB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr, err := db.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &tx{r: tr, tr: tr}, nil
}

func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	tx, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
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

// reader - common part of *leveldb.Snapshot and *leveldb.Transaction
type reader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type tx struct {
	r    reader
	snap *leveldb.Snapshot
	tr   *leveldb.Transaction
	done bool
}

func tableKey(table string, k []byte) ([]byte, error) {
	id, ok := kv.TableID(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", kv.ErrUnknownTable, table)
	}
	key := make([]byte, 1+len(k))
	key[0] = id
	copy(key[1:], k)
	return key, nil
}

func (t *tx) Has(table string, key []byte) (bool, error) {
	if t.done {
		return false, kv.ErrTxClosed
	}
	dbKey, err := tableKey(table, key)
	if err != nil {
		return false, err
	}
	return t.r.Has(dbKey, nil)
}

func (t *tx) GetOne(table string, key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrTxClosed
	}
	dbKey, err := tableKey(table, key)
	if err != nil {
		return nil, err
	}
	v, err := t.r.Get(dbKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (t *tx) ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error {
	c, err := t.Cursor(table)
	if err != nil {
		return err
	}
	return kv.CursorForEach(c, fromPrefix, walker)
}

func (t *tx) ForPrefix(table string, prefix []byte, walker func(k, v []byte) error) error {
	c, err := t.Cursor(table)
	if err != nil {
		return err
	}
	return kv.CursorForPrefix(c, prefix, walker)
}

func (t *tx) Cursor(table string) (kv.Cursor, error) {
	if t.done {
		return nil, kv.ErrTxClosed
	}
	prefix, err := tableKey(table, nil)
	if err != nil {
		return nil, err
	}
	return &cursor{it: t.r.NewIterator(util.BytesPrefix(prefix), nil), prefix: prefix}, nil
}

func (t *tx) Put(table string, k, v []byte) error {
	if t.done || t.tr == nil {
		return kv.ErrTxClosed
	}
	dbKey, err := tableKey(table, k)
	if err != nil {
		return err
	}
	return t.tr.Put(dbKey, v, nil)
}

func (t *tx) Delete(table string, k []byte) error {
	if t.done || t.tr == nil {
		return kv.ErrTxClosed
	}
	dbKey, err := tableKey(table, k)
	if err != nil {
		return err
	}
	return t.tr.Delete(dbKey, nil)
}

func (t *tx) ClearTable(table string) error {
	_, err := kv.DeletePrefix(t, table, nil)
	return err
}

func (t *tx) Commit() error {
	if t.done {
		return kv.ErrTxClosed
	}
	t.done = true
	if t.tr == nil {
		t.snap.Release()
		return nil
	}
	return t.tr.Commit()
}

func (t *tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if t.tr != nil {
		t.tr.Discard()
		return
	}
	t.snap.Release()
}

type cursor struct {
	it     iterator.Iterator
	prefix []byte
}

func (c *cursor) current(ok bool) ([]byte, []byte, error) {
	if !ok {
		return nil, nil, c.it.Error()
	}
	k := bytes.Clone(c.it.Key()[len(c.prefix):])
	v := bytes.Clone(c.it.Value())
	return k, v, nil
}

func (c *cursor) First() ([]byte, []byte, error) { return c.current(c.it.First()) }

func (c *cursor) Last() ([]byte, []byte, error) { return c.current(c.it.Last()) }

func (c *cursor) Next() ([]byte, []byte, error) { return c.current(c.it.Next()) }

func (c *cursor) Current() ([]byte, []byte, error) { return c.current(c.it.Valid()) }

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	key := make([]byte, len(c.prefix)+len(seek))
	copy(key, c.prefix)
	copy(key[len(c.prefix):], seek)
	return c.current(c.it.Seek(key))
}

func (c *cursor) SeekExact(key []byte) ([]byte, []byte, error) {
	k, v, err := c.Seek(key)
	if err != nil || k == nil {
		return nil, nil, err
	}
	if !bytes.Equal(k, key) {
		return nil, nil, nil
	}
	return k, v, nil
}

func (c *cursor) Close() { c.it.Release() }
