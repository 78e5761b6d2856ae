package commands

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gofrs/flock"
	"github.com/ledgerwatch/log/v3"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/erigontech/stateroot/kv/ldb"
)

var (
	cfg    = defaultConfig()
	logger = log.New()
)

var rootCmd = &cobra.Command{
	Use:   "trieroot",
	Short: "state root of hashed state: calculation, proofs and trie stage maintenance",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(configFile); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("datadir") || cfg.Datadir == "" {
			cfg.Datadir = datadir
		}
		if flags.Changed("verbosity") {
			cfg.Verbosity = verbosity
		}
		if flags.Changed("workers") {
			cfg.Workers = workers
		}
		if flags.Changed("metrics.addr") {
			cfg.Metrics = metricsAddr
		}
		if err := setupLogger(cfg.Verbosity); err != nil {
			return err
		}
		if cfg.Metrics != "" {
			startMetrics(cfg.Metrics)
		}
		return nil
	},
}

func RootCommand() *cobra.Command {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "toml config file")
	rootCmd.PersistentFlags().StringVar(&verbosity, "verbosity", "info", "log level: crit, error, warn, info, debug, trace")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics.addr", "", "serve metrics at http://<addr>/debug/metrics/prometheus")
	return rootCmd
}

func setupLogger(lvlStr string) error {
	lvl, err := log.LvlFromString(lvlStr)
	if err != nil {
		return err
	}
	usecolor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	output, format := io.Writer(os.Stderr), log.TerminalFormatNoColor()
	if usecolor {
		output, format = colorable.NewColorableStderr(), log.TerminalFormat()
	}
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(output, format)))
	return nil
}

func startMetrics(address string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/metrics/prometheus", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		metrics.WritePrometheus(w, true)
	})
	logger.Info("Starting metrics server", "addr", fmt.Sprintf("http://%s/debug/metrics/prometheus", address))
	go func() {
		if err := http.ListenAndServe(address, mux); err != nil { // nolint:gosec
			logger.Error("Failure in running metrics server", "err", err)
		}
	}()
}

var ErrDataDirLocked = errors.New("datadir already used by another process")

// lockedDB - database which holds the datadir lock until Close
type lockedDB struct {
	*ldb.DB
	lock *flock.Flock
}

func (db *lockedDB) Close() {
	db.DB.Close()
	if err := db.lock.Unlock(); err != nil {
		logger.Warn("Failed to release datadir lock", "err", err)
	}
}

func tryFlock(dir string) (*flock.Flock, error) {
	l := flock.New(filepath.Join(dir, "LOCK"))
	locked, err := l.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirLocked, dir)
	}
	return l, nil
}

func openDB(readonly bool) (*lockedDB, error) {
	if cfg.Datadir == "" {
		return nil, fmt.Errorf("--datadir is not set")
	}
	if !readonly {
		if err := os.MkdirAll(cfg.Datadir, 0o755); err != nil {
			return nil, err
		}
	}
	lock, err := tryFlock(cfg.Datadir)
	if err != nil {
		return nil, err
	}
	opts := ldb.New(logger).
		Path(filepath.Join(cfg.Datadir, "chaindata")).
		BlockCacheSize(cfg.DB.BlockCache).
		WriteBuffer(cfg.DB.WriteBuffer)
	if readonly {
		opts = opts.Readonly()
	}
	db, err := opts.Open()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &lockedDB{DB: db, lock: lock}, nil
}
