package sys

import "time"

// Config is the client-side configuration of a raffle deployment. It is read
// from a TOML file and can be overridden by RAFFLE_* environment variables.
type Config struct {
	// Network selects the preset the file is applied on top of.
	Network string `toml:"network" env:"RAFFLE_NETWORK"`
	Roster  string `toml:"roster" env:"RAFFLE_ROSTER"`

	EntryFee uint64 `toml:"entry_fee" env:"RAFFLE_ENTRY_FEE"`
	// Interval is the round length in seconds.
	Interval int64 `toml:"interval" env:"RAFFLE_INTERVAL"`

	Confirmations    uint32 `toml:"confirmations" env:"RAFFLE_CONFIRMATIONS"`
	CallbackGasLimit uint32 `toml:"callback_gas_limit" env:"RAFFLE_CALLBACK_GAS_LIMIT"`
	NumWords         uint32 `toml:"num_words" env:"RAFFLE_NUM_WORDS"`
	AutoFulfill      bool   `toml:"auto_fulfill" env:"RAFFLE_AUTO_FULFILL"`
	DKGTimeout       int    `toml:"dkg_timeout" env:"RAFFLE_DKG_TIMEOUT"`

	// UpkeepPeriod in seconds starts a keeper inside the node when positive.
	UpkeepPeriod int64 `toml:"upkeep_period" env:"RAFFLE_UPKEEP_PERIOD"`
	// KeeperPeriod in seconds is used by the external keeper command.
	KeeperPeriod int64  `toml:"keeper_period" env:"RAFFLE_KEEPER_PERIOD"`
	MetricsAddr  string `toml:"metrics_addr" env:"RAFFLE_METRICS_ADDR"`
}

func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

func (c *Config) UpkeepDuration() time.Duration {
	return time.Duration(c.UpkeepPeriod) * time.Second
}

func (c *Config) KeeperDuration() time.Duration {
	return time.Duration(c.KeeperPeriod) * time.Second
}
