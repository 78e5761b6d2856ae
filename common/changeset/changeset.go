package changeset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/kv"
)

/*
ChangeSets keep values as they were before the block, one record per changed key:

	AccountChangeSet: blockNum(8) + addrHash(32)              -> account encoded for storage, empty if absent
	StorageChangeSet: blockNum(8) + addrHash(32) + slot(32)   -> storage value, empty if absent

Records of one block are contiguous, so changes of a range of blocks is a range scan.
*/

const BlockNumberLength = 8

var ErrDecode = errors.New("changeset decode")

func EncodeBlockNumber(number uint64) []byte {
	enc := make([]byte, BlockNumberLength)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func DecodeBlockNumber(enc []byte) (uint64, error) {
	if len(enc) != BlockNumberLength {
		return 0, fmt.Errorf("%w: block number length %d", ErrDecode, len(enc))
	}
	return binary.BigEndian.Uint64(enc), nil
}

type Change struct {
	Key   []byte
	Value []byte
}

// ChangeSet - changes of one block, Key is addrHash for accounts and addrHash+slot for storage
type ChangeSet struct {
	Changes []Change
	keyLen  int
}

func NewAccountChangeSet() *ChangeSet {
	return &ChangeSet{keyLen: common.HashLength}
}

func NewStorageChangeSet() *ChangeSet {
	return &ChangeSet{keyLen: 2 * common.HashLength}
}

func (s *ChangeSet) Len() int           { return len(s.Changes) }
func (s *ChangeSet) Swap(i, j int)      { s.Changes[i], s.Changes[j] = s.Changes[j], s.Changes[i] }
func (s *ChangeSet) Less(i, j int) bool { return bytes.Compare(s.Changes[i].Key, s.Changes[j].Key) < 0 }

func (s *ChangeSet) Add(key []byte, value []byte) error {
	if len(key) != s.keyLen {
		return fmt.Errorf("changeset key has wrong length %d, expected %d", len(key), s.keyLen)
	}
	s.Changes = append(s.Changes, Change{Key: key, Value: value})
	return nil
}

func (s *ChangeSet) Walk(f func(k, v []byte) error) error {
	for i := range s.Changes {
		if err := f(s.Changes[i].Key, s.Changes[i].Value); err != nil {
			return err
		}
	}
	return nil
}

type Encoder func(blockNumber uint64, s *ChangeSet, f func(k, v []byte) error) error
type Decoder func(dbKey, dbValue []byte) (blockNumber uint64, k, v []byte, err error)

// Mapper - codec per changeset table
var Mapper = map[string]struct {
	Encode Encoder
	Decode Decoder
	KeyLen int
}{
	kv.AccountChangeSet: {
		Encode: encode,
		Decode: decoder(common.HashLength),
		KeyLen: common.HashLength,
	},
	kv.StorageChangeSet: {
		Encode: encode,
		Decode: decoder(2 * common.HashLength),
		KeyLen: 2 * common.HashLength,
	},
}

// encode - sorted records of the block
func encode(blockNumber uint64, s *ChangeSet, f func(k, v []byte) error) error {
	sort.Sort(s)
	prefix := EncodeBlockNumber(blockNumber)
	for _, ch := range s.Changes {
		k := make([]byte, 0, len(prefix)+len(ch.Key))
		k = append(append(k, prefix...), ch.Key...)
		if err := f(k, ch.Value); err != nil {
			return err
		}
	}
	return nil
}

func decoder(keyLen int) Decoder {
	return func(dbKey, dbValue []byte) (uint64, []byte, []byte, error) {
		if len(dbKey) != BlockNumberLength+keyLen {
			return 0, nil, nil, fmt.Errorf("%w: key %x has length %d, expected %d", ErrDecode, dbKey, len(dbKey), BlockNumberLength+keyLen)
		}
		return binary.BigEndian.Uint64(dbKey), dbKey[BlockNumberLength:], dbValue, nil
	}
}

// ForRange - walks changes of blocks in [from, to], in order of block number then key.
func ForRange(tx kv.Tx, table string, from, to uint64, walker func(blockNumber uint64, k, v []byte) error) error {
	m, ok := Mapper[table]
	if !ok {
		return fmt.Errorf("%w: %s is not a changeset", kv.ErrUnknownTable, table)
	}
	errStop := errors.New("stop")
	err := tx.ForEach(table, EncodeBlockNumber(from), func(dbKey, dbValue []byte) error {
		blockNumber, k, v, err := m.Decode(dbKey, dbValue)
		if err != nil {
			return err
		}
		if blockNumber > to {
			return errStop
		}
		return walker(blockNumber, k, v)
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

// Truncate - removes changes of blocks >= from
func Truncate(tx kv.RwTx, table string, from uint64) error {
	var keys [][]byte
	if err := tx.ForEach(table, EncodeBlockNumber(from), func(k, _ []byte) error {
		keys = append(keys, bytes.Clone(k))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.Delete(table, k); err != nil {
			return err
		}
	}
	return nil
}
