package commands

import (
	"github.com/spf13/cobra"
)

var (
	datadir       string
	configFile    string
	verbosity     string
	workers       int
	trace         bool
	metricsAddr   string
	block         uint64
	unwind        uint64
	checkRoot     string
	skipNodeDepth int
	dumpFile      string
	account       string
	addrHash      string
	slots         []string
	hashedSlots   bool
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func withDatadir(cmd *cobra.Command) {
	cmd.Flags().StringVar(&datadir, "datadir", "", "data directory, leveldb files live in <datadir>/chaindata")
	must(cmd.MarkFlagDirname("datadir"))
}

func withWorkers(cmd *cobra.Command) {
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel storage root calculations, 0 means number of CPUs")
	cmd.Flags().BoolVar(&trace, "trace", false, "log every hashed key")
}

func withBlock(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&block, "block", 0, "block number the changes are recorded at")
}

func withUnwind(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&unwind, "unwind", 1, "how much blocks unwind")
}

func withCheckRoot(cmd *cobra.Command) {
	cmd.Flags().StringVar(&checkRoot, "check_root", "", "expected state root, the stage fails and writes nothing if the result differs")
}

func withSkipNodeDepth(cmd *cobra.Command) {
	cmd.Flags().IntVar(&skipNodeDepth, "skip_node_depth", 0, "don't compare nodes with paths shorter than this")
}

func withDumpFile(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dumpFile, "file", "", "json dump of hashed state, '-' is stdin/stdout")
	must(cmd.MarkFlagFilename("file", "json"))
	must(cmd.MarkFlagRequired("file"))
}

func withAccount(cmd *cobra.Command) {
	cmd.Flags().StringVar(&account, "account", "", "address of the account, it's hashed")
	cmd.Flags().StringVar(&addrHash, "addr_hash", "", "hashed address of the account")
	cmd.MarkFlagsOneRequired("account", "addr_hash")
	cmd.MarkFlagsMutuallyExclusive("account", "addr_hash")
	cmd.Flags().StringSliceVar(&slots, "slot", nil, "storage slots to prove")
	cmd.Flags().BoolVar(&hashedSlots, "hashed_slots", false, "slots are given already hashed")
}
