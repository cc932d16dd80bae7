package sys

import (
	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// 0.01 of a coin with 18 decimals.
const defaultEntryFee uint64 = 10000000000000000

var presets = map[string]Config{
	"local": {
		Network:          "local",
		EntryFee:         defaultEntryFee,
		Interval:         30,
		Confirmations:    1,
		CallbackGasLimit: 500000,
		NumWords:         1,
		AutoFulfill:      true,
		DKGTimeout:       5,
		KeeperPeriod:     1,
	},
	"testnet": {
		Network:          "testnet",
		EntryFee:         defaultEntryFee,
		Interval:         30,
		Confirmations:    3,
		CallbackGasLimit: 500000,
		NumWords:         1,
		AutoFulfill:      true,
		DKGTimeout:       20,
		KeeperPeriod:     5,
	},
}

// Preset returns the defaults of a network.
func Preset(network string) (Config, error) {
	cfg, ok := presets[network]
	if !ok {
		return Config{}, xerrors.Errorf("unknown network %q", network)
	}
	return cfg, nil
}

// LoadConfig reads path (skipped when empty) over the preset it names and
// applies the environment overrides last.
func LoadConfig(path string) (*Config, error) {
	var file Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			log.Errorf("Cannot decode config %s: %v", path, err)
			return nil, err
		}
	}
	network := file.Network
	if network == "" {
		network = "local"
	}
	cfg, err := Preset(network)
	if err != nil {
		return nil, err
	}
	if path != "" {
		// Decoding again only overwrites the keys present in the file.
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, xerrors.Errorf("parse env: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Interval < 0 {
		return xerrors.Errorf("invalid interval %d", c.Interval)
	}
	if c.NumWords == 0 {
		return xerrors.New("num_words must be positive")
	}
	if c.UpkeepPeriod < 0 || c.KeeperPeriod < 0 {
		return xerrors.New("keeper periods cannot be negative")
	}
	return nil
}
