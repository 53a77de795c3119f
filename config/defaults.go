package config

import "runtime"

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		DataDir:    DefaultDataDir(),
		Difficulty: DefaultDifficulty,
		P2P: P2PConfig{
			ListenAddr: "0.0.0.0",
			Port:       0, // OS-assigned; peers find each other via discovery.
			MaxPeers:   50,
			Seeds:      []string{},
		},
		Mining: MiningConfig{
			Workers: runtime.NumCPU(),
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
