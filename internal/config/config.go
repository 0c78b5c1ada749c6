package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the environment-driven configuration shared by the duel
// server and the chain watcher. Only ListenAddr is mandatory for the
// server; Redis, Postgres and the asset API are optional mirrors.
type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	AssetAPIURL string
	RulesFile   string

	DuelLockWait time.Duration

	// chain watcher
	RPCURL         string
	BattleContract string
	BlockChunkSize uint64
	ScanInterval   time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     ":8080",
		DuelLockWait:   5 * time.Second,
		BlockChunkSize: 2500,
		ScanInterval:   750 * time.Millisecond,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AssetAPIURL = strings.TrimSpace(os.Getenv("ASSET_API_URL"))
	cfg.RulesFile = strings.TrimSpace(os.Getenv("RULES_FILE"))

	if v := strings.TrimSpace(os.Getenv("DUEL_LOCK_WAIT")); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			cfg.DuelLockWait = d
		}
	}

	cfg.RPCURL = strings.TrimSpace(os.Getenv("RPC_URL"))
	cfg.BattleContract = strings.TrimSpace(os.Getenv("BATTLE_CONTRACT"))
	if v := strings.TrimSpace(os.Getenv("BLOCK_CHUNK_SIZE")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.BlockChunkSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCAN_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			cfg.ScanInterval = d
		}
	}

	return cfg, nil
}

// ValidateWatcher checks the fields only the chain watcher needs.
func (c *AppConfig) ValidateWatcher() error {
	if c.RPCURL == "" {
		return errors.New("RPC_URL is required")
	}
	if c.BattleContract == "" {
		return errors.New("BATTLE_CONTRACT is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}
