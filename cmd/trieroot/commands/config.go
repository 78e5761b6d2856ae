package commands

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
)

// Config - optional toml file, command line flags override it
type Config struct {
	Datadir   string `toml:"datadir"`
	Verbosity string `toml:"verbosity"`
	Workers   int    `toml:"workers"`
	Metrics   string `toml:"metrics"`
	DB        struct {
		BlockCache  datasize.ByteSize `toml:"block_cache"`
		WriteBuffer datasize.ByteSize `toml:"write_buffer"`
	} `toml:"db"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Verbosity = "info"
	cfg.DB.BlockCache = 64 * datasize.MB
	cfg.DB.WriteBuffer = 32 * datasize.MB
	return cfg
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
