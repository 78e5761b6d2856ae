// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package rawdbreset

import (
	"context"
	"fmt"

	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
)

// ResetIH - drops trie tables: the next run of the stage regenerates them from hashed state
func ResetIH(ctx context.Context, tx kv.RwTx) error {
	if err := clearTables(ctx, tx, Tables[stages.IntermediateHashes]...); err != nil {
		return err
	}
	return clearStageProgress(tx, stages.IntermediateHashes)
}

// ResetHashState - drops hashed state with its changesets, and the trie built over it
func ResetHashState(ctx context.Context, tx kv.RwTx) error {
	if err := clearTables(ctx, tx, Tables[stages.HashState]...); err != nil {
		return err
	}
	if err := clearStageProgress(tx, stages.HashState); err != nil {
		return err
	}
	return ResetIH(ctx, tx)
}

var Tables = map[stages.SyncStage][]string{
	stages.HashState:          {kv.HashedAccounts, kv.HashedStorage, kv.AccountChangeSet, kv.StorageChangeSet},
	stages.IntermediateHashes: {kv.TrieOfAccounts, kv.TrieOfStorage, kv.StorageRoots},
}

func clearTables(ctx context.Context, tx kv.RwTx, tables ...string) error {
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.ClearTable(table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func clearStageProgress(tx kv.RwTx, stagesList ...stages.SyncStage) error {
	for _, stage := range stagesList {
		if err := stages.SaveStageProgress(tx, stage, 0); err != nil {
			return err
		}
	}
	return nil
}

func Reset(ctx context.Context, db kv.RwDB, stagesList ...stages.SyncStage) error {
	return db.Update(ctx, func(tx kv.RwTx) error {
		for _, st := range stagesList {
			if err := clearTables(ctx, tx, Tables[st]...); err != nil {
				return err
			}
		}
		return clearStageProgress(tx, stagesList...)
	})
}
