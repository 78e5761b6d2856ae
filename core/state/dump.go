// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package state

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	jsoniter "github.com/json-iterator/go"

	"github.com/erigontech/stateroot/core/types/accounts"
	"github.com/erigontech/stateroot/kv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DumpAccount - account of the hashed state, storage is keyed by slot hash
type DumpAccount struct {
	Balance  string            `json:"balance"`
	Nonce    uint64            `json:"nonce"`
	CodeHash string            `json:"codeHash,omitempty"`
	Storage  map[string]string `json:"storage,omitempty"`
}

// Dump - hashed state keyed by address hash. Root is informational, import ignores it.
type Dump struct {
	Root     string                 `json:"root,omitempty"`
	Accounts map[string]DumpAccount `json:"accounts"`
}

func RawDump(tx kv.Tx) (*Dump, error) {
	dump := &Dump{Accounts: map[string]DumpAccount{}}
	var acc accounts.Account
	if err := tx.ForEach(kv.HashedAccounts, nil, func(k, v []byte) error {
		if err := acc.DecodeForStorage(v); err != nil {
			return fmt.Errorf("account %x: %w", k, err)
		}
		account := DumpAccount{
			Balance: acc.Balance.Hex(),
			Nonce:   acc.Nonce,
		}
		if !acc.IsEmptyCodeHash() {
			account.CodeHash = acc.CodeHash.Hex()
		}
		if err := tx.ForPrefix(kv.HashedStorage, k, func(sk, sv []byte) error {
			if account.Storage == nil {
				account.Storage = map[string]string{}
			}
			account.Storage[common.BytesToHash(sk[common.HashLength:]).Hex()] = new(uint256.Int).SetBytes(sv).Hex()
			return nil
		}); err != nil {
			return err
		}
		dump.Accounts[common.BytesToHash(k).Hex()] = account
		return nil
	}); err != nil {
		return nil, err
	}
	return dump, nil
}

func (d *Dump) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func ReadDump(r io.Reader) (*Dump, error) {
	var d Dump
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	return &d, nil
}

// Import - writes all accounts of the dump through w, in address hash order
func (d *Dump) Import(ctx context.Context, w *HashedStateWriter) error {
	keys := make([]string, 0, len(d.Accounts))
	for k := range d.Accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		da := d.Accounts[k]
		addrHash := common.HexToHash(k)
		acc := accounts.NewAccount()
		acc.Nonce = da.Nonce
		balance, err := uint256.FromHex(da.Balance)
		if err != nil {
			return fmt.Errorf("account %s balance %q: %w", k, da.Balance, err)
		}
		acc.Balance = *balance
		if da.CodeHash != "" {
			acc.CodeHash = common.HexToHash(da.CodeHash)
		}
		if err := w.UpdateAccountData(ctx, addrHash, &acc); err != nil {
			return err
		}
		for slot, value := range da.Storage {
			v, err := uint256.FromHex(value)
			if err != nil {
				return fmt.Errorf("account %s slot %s value %q: %w", k, slot, value, err)
			}
			if err := w.WriteAccountStorage(ctx, addrHash, common.HexToHash(slot), v); err != nil {
				return err
			}
		}
	}
	return nil
}
