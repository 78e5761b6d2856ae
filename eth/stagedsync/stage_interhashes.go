package stagedsync

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/stateroot/common/changeset"
	"github.com/erigontech/stateroot/core/state"
	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
	"github.com/erigontech/stateroot/turbo/trie"
)

type TrieCfg struct {
	db        kv.RwDB
	checkRoot bool
	workers   int
	trace     bool
	logger    log.Logger
}

func StageTrieCfg(db kv.RwDB, checkRoot bool, workers int, trace bool, logger log.Logger) TrieCfg {
	if logger == nil {
		logger = log.Root()
	}
	return TrieCfg{
		db:        db,
		checkRoot: checkRoot,
		workers:   workers,
		trace:     trace,
		logger:    logger,
	}
}

func (cfg TrieCfg) stateRootCfg(logPrefix string) trie.StateRootCfg {
	return trie.StateRootCfg{LogPrefix: logPrefix, Workers: cfg.workers, Trace: cfg.trace, Logger: cfg.logger}
}

// SpawnIntermediateHashesStage - brings trie tables up to the hashed state: from stage progress to the HashState progress.
// If tx is nil, the stage runs in its own transaction. Nothing is written if the root doesn't match expectedRootHash.
func SpawnIntermediateHashesStage(ctx context.Context, s *StageState, tx kv.RwTx, cfg TrieCfg, expectedRootHash common.Hash) (common.Hash, error) {
	useExternalTx := tx != nil
	if !useExternalTx {
		var err error
		tx, err = cfg.db.BeginRw(ctx)
		if err != nil {
			return common.Hash{}, err
		}
		defer tx.Rollback()
	}

	to, err := stages.GetStageProgress(tx, stages.HashState)
	if err != nil {
		return common.Hash{}, err
	}
	if s.BlockNumber > to {
		return common.Hash{}, fmt.Errorf("%s: hashed state is at block %d, behind the trie at %d, unwind first", s.LogPrefix(), to, s.BlockNumber)
	}

	logPrefix := s.LogPrefix()
	var root common.Hash
	switch {
	case s.BlockNumber == to && to > 0:
		// we already did hash check for this block
		// we don't do the obvious `if s.BlockNumber > to` to support reorgs more naturally
		sets := trie.NewTriePrefixSets()
		sets.Freeze()
		if root, err = trie.NewStateRoot(trie.NewDBCursorFactory(tx), sets, cfg.stateRootCfg(logPrefix)).Root(ctx); err != nil {
			return common.Hash{}, err
		}
		return root, nil
	case s.BlockNumber == 0:
		cfg.logger.Info(fmt.Sprintf("[%s] Generating intermediate hashes", logPrefix), "from", s.BlockNumber, "to", to)
		if root, err = RegenerateIntermediateHashes(ctx, logPrefix, tx, cfg, expectedRootHash); err != nil {
			return common.Hash{}, err
		}
	default:
		cfg.logger.Info(fmt.Sprintf("[%s] Generating intermediate hashes", logPrefix), "from", s.BlockNumber, "to", to)
		if root, err = IncrementIntermediateHashes(ctx, logPrefix, s, tx, to, cfg, expectedRootHash); err != nil {
			return common.Hash{}, err
		}
	}

	if err = s.Update(tx, to); err != nil {
		return common.Hash{}, err
	}
	if !useExternalTx {
		if err := tx.Commit(); err != nil {
			return common.Hash{}, err
		}
	}
	return root, nil
}

func clearTrieTables(tx kv.RwTx) error {
	for _, table := range []string{kv.TrieOfAccounts, kv.TrieOfStorage, kv.StorageRoots} {
		if err := tx.ClearTable(table); err != nil {
			return err
		}
	}
	return nil
}

func RegenerateIntermediateHashes(ctx context.Context, logPrefix string, tx kv.RwTx, cfg TrieCfg, expectedRootHash common.Hash) (common.Hash, error) {
	cfg.logger.Info(fmt.Sprintf("[%s] Regeneration trie hashes started", logPrefix))
	defer cfg.logger.Info(fmt.Sprintf("[%s] Regeneration ended", logPrefix))
	if err := clearTrieTables(tx); err != nil {
		return common.Hash{}, err
	}
	return calcAndFlush(ctx, logPrefix, tx, cfg, trie.NewTriePrefixSetsAll(), expectedRootHash)
}

func IncrementIntermediateHashes(ctx context.Context, logPrefix string, s *StageState, tx kv.RwTx, to uint64, cfg TrieCfg, expectedRootHash common.Hash) (common.Hash, error) {
	sets, err := LoadPrefixSets(tx, s.BlockNumber, to)
	if err != nil {
		return common.Hash{}, err
	}
	cfg.logger.Info(fmt.Sprintf("[%s] Incremental trie hashes", logPrefix),
		"accounts", sets.AccountPrefixSet.Len(), "storage tries", len(sets.StoragePrefixSets), "destroyed", len(sets.DestroyedAccounts))
	return calcAndFlush(ctx, logPrefix, tx, cfg, sets, expectedRootHash)
}

func calcAndFlush(ctx context.Context, logPrefix string, tx kv.RwTx, cfg TrieCfg, sets *trie.TriePrefixSets, expectedRootHash common.Hash) (common.Hash, error) {
	t := time.Now()
	hash, updates, err := trie.NewStateRoot(trie.NewDBCursorFactory(tx), sets, cfg.stateRootCfg(logPrefix)).RootWithUpdates(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if cfg.checkRoot && hash != expectedRootHash {
		return common.Hash{}, fmt.Errorf("%s: wrong trie root: %x, expected: %x", logPrefix, hash, expectedRootHash)
	}
	if err := updates.Flush(tx); err != nil {
		return common.Hash{}, fmt.Errorf("%s: flush trie updates: %w", logPrefix, err)
	}
	cfg.logger.Debug("Collection finished",
		"root hash", hash.Hex(),
		"nodes", updates.Len(),
		"took", time.Since(t),
	)
	return hash, nil
}

// LoadPrefixSets - paths changed by blocks (from, to], read from changesets.
// Accounts changed in the range and absent from hashed state now are destroyed: their storage tries are wiped.
func LoadPrefixSets(tx kv.Tx, from, to uint64) (*trie.TriePrefixSets, error) {
	sets := trie.NewTriePrefixSets()
	if from >= to {
		sets.Freeze()
		return sets, nil
	}
	changed := map[common.Hash]struct{}{}
	if err := changeset.ForRange(tx, kv.AccountChangeSet, from+1, to, func(_ uint64, k, _ []byte) error {
		addrHash := common.BytesToHash(k)
		changed[addrHash] = struct{}{}
		return sets.AddAccount(addrHash)
	}); err != nil {
		return nil, err
	}
	if err := changeset.ForRange(tx, kv.StorageChangeSet, from+1, to, func(_ uint64, k, _ []byte) error {
		return sets.AddStorage(common.BytesToHash(k[:common.HashLength]), common.BytesToHash(k[common.HashLength:]))
	}); err != nil {
		return nil, err
	}
	for addrHash := range changed {
		exists, err := tx.Has(kv.HashedAccounts, addrHash[:])
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := sets.AddDestroyed(addrHash); err != nil {
				return nil, err
			}
		}
	}
	sets.Freeze()
	return sets, nil
}

// UnwindIntermediateHashesStage - reverts hashed state to u.UnwindPoint and re-hashes paths changed after it.
// Changesets of unwound blocks are removed.
func UnwindIntermediateHashesStage(ctx context.Context, u *UnwindState, s *StageState, tx kv.RwTx, cfg TrieCfg, expectedRootHash common.Hash) (common.Hash, error) {
	useExternalTx := tx != nil
	if !useExternalTx {
		var err error
		tx, err = cfg.db.BeginRw(ctx)
		if err != nil {
			return common.Hash{}, err
		}
		defer tx.Rollback()
	}
	if u.UnwindPoint >= s.BlockNumber {
		return common.Hash{}, fmt.Errorf("%s: unwind point %d is not below stage progress %d", u.LogPrefix(), u.UnwindPoint, s.BlockNumber)
	}

	logPrefix := u.LogPrefix()
	cfg.logger.Info(fmt.Sprintf("[%s] Unwinding intermediate hashes", logPrefix), "from", s.BlockNumber, "to", u.UnwindPoint)
	if err := state.RevertHashedState(tx, u.UnwindPoint); err != nil {
		return common.Hash{}, err
	}
	// hashed state may be ahead of the trie, all of it is reverted
	sets, err := LoadPrefixSets(tx, u.UnwindPoint, math.MaxUint64)
	if err != nil {
		return common.Hash{}, err
	}
	if err := state.TruncateChangeSets(tx, u.UnwindPoint); err != nil {
		return common.Hash{}, err
	}
	root, err := calcAndFlush(ctx, logPrefix, tx, cfg, sets, expectedRootHash)
	if err != nil {
		return common.Hash{}, err
	}
	if err := u.Done(tx); err != nil {
		return common.Hash{}, err
	}
	if err := stages.SaveStageProgress(tx, stages.HashState, u.UnwindPoint); err != nil {
		return common.Hash{}, err
	}
	if !useExternalTx {
		if err := tx.Commit(); err != nil {
			return common.Hash{}, err
		}
	}
	return root, nil
}
