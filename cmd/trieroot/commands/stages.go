package commands

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/erigontech/stateroot/eth/rawdbreset"
	"github.com/erigontech/stateroot/eth/stagedsync"
	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
)

var cmdStageTrie = &cobra.Command{
	Use:   "stage_trie",
	Short: "brings trie tables up to the hashed state",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(false)
		if err != nil {
			return err
		}
		defer db.Close()
		trieCfg := stagedsync.StageTrieCfg(db, checkRoot != "", cfg.Workers, trace, logger)
		var root common.Hash
		if err := db.Update(cmd.Context(), func(tx kv.RwTx) error {
			s, err := stagedsync.ReadStageState(tx, stages.IntermediateHashes)
			if err != nil {
				return err
			}
			root, err = stagedsync.SpawnIntermediateHashesStage(cmd.Context(), s, tx, trieCfg, common.HexToHash(checkRoot))
			return err
		}); err != nil {
			return err
		}
		fmt.Println(root.Hex())
		return nil
	},
}

var cmdUnwind = &cobra.Command{
	Use:   "unwind",
	Short: "reverts hashed state and trie tables by --unwind blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(false)
		if err != nil {
			return err
		}
		defer db.Close()
		trieCfg := stagedsync.StageTrieCfg(db, checkRoot != "", cfg.Workers, trace, logger)
		var root common.Hash
		if err := db.Update(cmd.Context(), func(tx kv.RwTx) error {
			s, err := stagedsync.ReadStageState(tx, stages.IntermediateHashes)
			if err != nil {
				return err
			}
			if unwind > s.BlockNumber {
				return fmt.Errorf("can't unwind %d blocks, stage is at block %d", unwind, s.BlockNumber)
			}
			u := &stagedsync.UnwindState{ID: stages.IntermediateHashes, UnwindPoint: s.BlockNumber - unwind}
			root, err = stagedsync.UnwindIntermediateHashesStage(cmd.Context(), u, s, tx, trieCfg, common.HexToHash(checkRoot))
			return err
		}); err != nil {
			return err
		}
		fmt.Println(root.Hex())
		return nil
	},
}

var cmdMerkleDebug = &cobra.Command{
	Use:   "merkle_debug",
	Short: "compares trie nodes of incremental run of the stage with the ones of regeneration, nothing is written",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(false)
		if err != nil {
			return err
		}
		defer db.Close()
		tx, err := db.BeginRw(cmd.Context())
		if err != nil {
			return err
		}
		defer tx.Rollback()

		s, err := stagedsync.ReadStageState(tx, stages.IntermediateHashes)
		if err != nil {
			return err
		}
		res, err := stagedsync.MerkleDebug(cmd.Context(), s, tx, stagedsync.StageTrieCfg(db, false, cfg.Workers, trace, logger), skipNodeDepth)
		if err != nil {
			return err
		}
		for _, m := range res.Mismatches {
			fmt.Println(m.String())
		}
		logger.Info("Merkle debug", "incremental", res.IncrementalRoot, "clean", res.CleanRoot, "mismatches", len(res.Mismatches))
		if res.IncrementalRoot != res.CleanRoot {
			return fmt.Errorf("incremental root %x differs from clean %x", res.IncrementalRoot, res.CleanRoot)
		}
		return nil
	},
}

var resetStages []string

var cmdReset = &cobra.Command{
	Use:   "reset",
	Short: "drops tables of given stages, trie tables are regenerated on the next stage_trie",
	RunE: func(cmd *cobra.Command, args []string) error {
		list := make([]stages.SyncStage, 0, len(resetStages))
		for _, name := range resetStages {
			st, err := parseStage(name)
			if err != nil {
				return err
			}
			list = append(list, st)
		}
		db, err := openDB(false)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := rawdbreset.Reset(cmd.Context(), db, list...); err != nil {
			return err
		}
		logger.Info("Reset", "stages", resetStages)
		return nil
	},
}

func parseStage(name string) (stages.SyncStage, error) {
	for _, st := range stages.AllStages {
		if strings.EqualFold(string(st), name) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q, known: %v", name, stages.AllStages)
}

func init() {
	withDatadir(cmdStageTrie)
	withWorkers(cmdStageTrie)
	withCheckRoot(cmdStageTrie)
	rootCmd.AddCommand(cmdStageTrie)

	withDatadir(cmdUnwind)
	withWorkers(cmdUnwind)
	withUnwind(cmdUnwind)
	withCheckRoot(cmdUnwind)
	rootCmd.AddCommand(cmdUnwind)

	withDatadir(cmdMerkleDebug)
	withWorkers(cmdMerkleDebug)
	withSkipNodeDepth(cmdMerkleDebug)
	rootCmd.AddCommand(cmdMerkleDebug)

	withDatadir(cmdReset)
	cmdReset.Flags().StringSliceVar(&resetStages, "stage", []string{string(stages.IntermediateHashes)}, "stages to reset: HashState, IntermediateHashes")
	rootCmd.AddCommand(cmdReset)
}
