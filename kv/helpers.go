package kv

import (
	"bytes"
)

// NextSubtree does []byte++. Returns false if overflow.
func NextSubtree(in []byte) ([]byte, bool) {
	r := make([]byte, len(in))
	copy(r, in)
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] != 255 {
			r[i]++
			return r[:i+1], true
		}
	}
	return nil, false
}

// CursorForEach - helper used by backends to implement Getter.ForEach on top of a Cursor.
func CursorForEach(c Cursor, fromPrefix []byte, walker func(k, v []byte) error) error {
	defer c.Close()
	k, v, err := c.Seek(fromPrefix)
	for ; k != nil && err == nil; k, v, err = c.Next() {
		if err := walker(k, v); err != nil {
			return err
		}
	}
	return err
}

// CursorForPrefix - helper used by backends to implement Getter.ForPrefix on top of a Cursor.
func CursorForPrefix(c Cursor, prefix []byte, walker func(k, v []byte) error) error {
	defer c.Close()
	k, v, err := c.Seek(prefix)
	for ; k != nil && err == nil; k, v, err = c.Next() {
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if err := walker(k, v); err != nil {
			return err
		}
	}
	return err
}

// DeletePrefix - removes all entries of table with given key prefix.
// Keys are collected first, so backends don't need to support deletes under an open cursor.
func DeletePrefix(tx RwTx, table string, prefix []byte) (int, error) {
	var keys [][]byte
	if err := tx.ForPrefix(table, prefix, func(k, _ []byte) error {
		keys = append(keys, bytes.Clone(k))
		return nil
	}); err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := tx.Delete(table, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Count - number of entries in the table, used by progress logs and tests.
func Count(tx Tx, table string) (uint64, error) {
	var n uint64
	err := tx.ForEach(table, nil, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}
