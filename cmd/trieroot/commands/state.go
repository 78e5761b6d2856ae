package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/erigontech/stateroot/core/state"
	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
	"github.com/erigontech/stateroot/turbo/trie"
)

var cmdRoot = &cobra.Command{
	Use:   "root",
	Short: "calculates state root of hashed state from scratch, trie tables are not used nor written",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(true)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.View(cmd.Context(), func(tx kv.Tx) error {
			sr := trie.NewStateRoot(trie.NewDBCursorFactory(tx), trie.NewTriePrefixSetsAll(), trie.StateRootCfg{
				LogPrefix: "root",
				Workers:   cfg.Workers,
				Trace:     trace,
				Logger:    logger,
			})
			root, err := sr.Root(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(root.Hex())
			return nil
		})
	},
}

var cmdImport = &cobra.Command{
	Use:   "import",
	Short: "writes json dump into hashed state as changes of --block",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, closeFn, err := openDumpFile(false)
		if err != nil {
			return err
		}
		defer closeFn()
		dump, err := state.ReadDump(r)
		if err != nil {
			return err
		}

		db, err := openDB(false)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Update(cmd.Context(), func(tx kv.RwTx) error {
			progress, err := stages.GetStageProgress(tx, stages.HashState)
			if err != nil {
				return err
			}
			if progress > block {
				return fmt.Errorf("hashed state is at block %d, can't import at %d", progress, block)
			}
			w := state.NewHashedStateWriter(tx, block)
			if err := dump.Import(cmd.Context(), w); err != nil {
				return err
			}
			if err := w.WriteChangeSets(); err != nil {
				return err
			}
			logger.Info("Imported", "accounts", len(dump.Accounts), "block", block)
			return stages.SaveStageProgress(tx, stages.HashState, block)
		})
	},
}

var cmdDump = &cobra.Command{
	Use:   "dump",
	Short: "writes hashed state as json",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(true)
		if err != nil {
			return err
		}
		defer db.Close()
		w, closeFn, err := openDumpFile(true)
		if err != nil {
			return err
		}
		defer closeFn()
		return db.View(cmd.Context(), func(tx kv.Tx) error {
			dump, err := state.RawDump(tx)
			if err != nil {
				return err
			}
			root, err := trie.CalcRoot(cmd.Context(), "dump", tx)
			if err != nil {
				return err
			}
			dump.Root = root.Hex()
			return dump.Write(w)
		})
	},
}

var cmdProof = &cobra.Command{
	Use:   "proof",
	Short: "prints proof of the account and its storage slots, in the shape of eth_getProof",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := common.HexToHash(addrHash)
		if account != "" {
			key = crypto.Keccak256Hash(common.HexToAddress(account).Bytes())
		}
		slotKeys := make([]common.Hash, len(slots))
		for i, s := range slots {
			slotKeys[i] = common.HexToHash(s)
			if !hashedSlots {
				slotKeys[i] = crypto.Keccak256Hash(slotKeys[i].Bytes())
			}
		}

		db, err := openDB(true)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.View(cmd.Context(), func(tx kv.Tx) error {
			proof, err := trie.GenerateAccountProof(cmd.Context(), trie.NewDBCursorFactory(tx), key, slotKeys...)
			if err != nil {
				return err
			}
			if err := trie.VerifyAccountProof(proof.StateRoot, proof); err != nil {
				return fmt.Errorf("generated proof doesn't verify: %w", err)
			}
			out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(proof, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	},
}

func openDumpFile(write bool) (io.ReadWriter, func(), error) {
	if dumpFile == "-" {
		if write {
			return os.Stdout, func() {}, nil
		}
		return os.Stdin, func() {}, nil
	}
	var (
		f   *os.File
		err error
	)
	if write {
		f, err = os.Create(dumpFile)
	} else {
		f, err = os.Open(dumpFile)
	}
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func init() {
	withDatadir(cmdRoot)
	withWorkers(cmdRoot)
	rootCmd.AddCommand(cmdRoot)

	withDatadir(cmdImport)
	withDumpFile(cmdImport)
	withBlock(cmdImport)
	rootCmd.AddCommand(cmdImport)

	withDatadir(cmdDump)
	withDumpFile(cmdDump)
	rootCmd.AddCommand(cmdDump)

	withDatadir(cmdProof)
	withAccount(cmdProof)
	rootCmd.AddCommand(cmdProof)
}
