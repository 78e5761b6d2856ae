package stagedsync

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
	"github.com/erigontech/stateroot/turbo/trie"
)

// NodeMismatch - persisted branch node which differs between incremental and clean calculation.
// nil node means the node is absent in that version.
type NodeMismatch struct {
	Table       string
	AddrHash    *common.Hash // storage trie only
	Path        []byte       // nibble path
	Incremental *trie.BranchNodeCompact
	Clean       *trie.BranchNodeCompact
}

func (m NodeMismatch) String() string {
	if m.AddrHash != nil {
		return fmt.Sprintf("%s %x/%x: incremental=%s clean=%s", m.Table, *m.AddrHash, m.Path, m.Incremental, m.Clean)
	}
	return fmt.Sprintf("%s %x: incremental=%s clean=%s", m.Table, m.Path, m.Incremental, m.Clean)
}

type MerkleDebugResult struct {
	IncrementalRoot common.Hash
	CleanRoot       common.Hash
	Mismatches      []NodeMismatch
}

// MerkleDebug - runs the incremental calculation of the stage, then the calculation from scratch,
// and compares persisted nodes of both. Nodes shallower than skipNodeDepth are not compared: they
// differ whenever a deeper node does.
// Both results are written to tx: callers must roll it back.
func MerkleDebug(ctx context.Context, s *StageState, tx kv.RwTx, cfg TrieCfg, skipNodeDepth int) (*MerkleDebugResult, error) {
	logPrefix := s.LogPrefix()
	to, err := stages.GetStageProgress(tx, stages.HashState)
	if err != nil {
		return nil, err
	}
	res := &MerkleDebugResult{}
	noCheck := cfg
	noCheck.checkRoot = false
	if s.BlockNumber == 0 {
		if res.IncrementalRoot, err = RegenerateIntermediateHashes(ctx, logPrefix, tx, noCheck, common.Hash{}); err != nil {
			return nil, err
		}
	} else if res.IncrementalRoot, err = IncrementIntermediateHashes(ctx, logPrefix, s, tx, to, noCheck, common.Hash{}); err != nil {
		return nil, err
	}
	incAccounts, incStorage, err := readTrieTables(tx)
	if err != nil {
		return nil, err
	}

	if res.CleanRoot, err = RegenerateIntermediateHashes(ctx, logPrefix, tx, noCheck, common.Hash{}); err != nil {
		return nil, err
	}
	cleanAccounts, cleanStorage, err := readTrieTables(tx)
	if err != nil {
		return nil, err
	}

	if res.Mismatches, err = diffNodes(kv.TrieOfAccounts, 0, incAccounts, cleanAccounts, skipNodeDepth); err != nil {
		return nil, err
	}
	storageMismatches, err := diffNodes(kv.TrieOfStorage, common.HashLength, incStorage, cleanStorage, skipNodeDepth)
	if err != nil {
		return nil, err
	}
	res.Mismatches = append(res.Mismatches, storageMismatches...)

	if res.IncrementalRoot != res.CleanRoot || len(res.Mismatches) > 0 {
		cfg.logger.Warn(fmt.Sprintf("[%s] Incremental trie differs from clean one", logPrefix),
			"incremental", res.IncrementalRoot, "clean", res.CleanRoot, "nodes", len(res.Mismatches))
	}
	return res, nil
}

func readTrieTables(tx kv.Tx) (accounts, storage map[string][]byte, err error) {
	read := func(table string) (map[string][]byte, error) {
		res := map[string][]byte{}
		err := tx.ForEach(table, nil, func(k, v []byte) error {
			res[string(k)] = common.CopyBytes(v)
			return nil
		})
		return res, err
	}
	if accounts, err = read(kv.TrieOfAccounts); err != nil {
		return nil, nil, err
	}
	if storage, err = read(kv.TrieOfStorage); err != nil {
		return nil, nil, err
	}
	return accounts, storage, nil
}

func decodeNode(v []byte) (*trie.BranchNodeCompact, error) {
	if v == nil {
		return nil, nil
	}
	return trie.UnmarshalBranchNode(v)
}

// diffNodes - keys are prefixLen bytes of the trie owner, then the nibble path
func diffNodes(table string, prefixLen int, incremental, clean map[string][]byte, skipNodeDepth int) ([]NodeMismatch, error) {
	keys := make([]string, 0, len(incremental)+len(clean))
	for k := range incremental {
		keys = append(keys, k)
	}
	for k := range clean {
		if _, ok := incremental[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var res []NodeMismatch
	for _, k := range keys {
		if len(k)-prefixLen < skipNodeDepth {
			continue
		}
		inc, cl := incremental[k], clean[k]
		if inc != nil && cl != nil && bytes.Equal(inc, cl) {
			continue
		}
		m := NodeMismatch{Table: table, Path: []byte(k[prefixLen:])}
		if prefixLen > 0 {
			addrHash := common.BytesToHash([]byte(k[:prefixLen]))
			m.AddrHash = &addrHash
		}
		var err error
		if m.Incremental, err = decodeNode(inc); err != nil {
			return nil, fmt.Errorf("%s %x: %w", table, k, err)
		}
		if m.Clean, err = decodeNode(cl); err != nil {
			return nil, fmt.Errorf("%s %x: %w", table, k, err)
		}
		res = append(res, m)
	}
	return res, nil
}
