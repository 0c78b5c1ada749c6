package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/varekhin/chainduel/internal/chainwatcher"
	appcfg "github.com/varekhin/chainduel/internal/config"
	"github.com/varekhin/chainduel/internal/obslog"
	"github.com/varekhin/chainduel/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.ValidateWatcher(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	if !common.IsHexAddress(cfg.BattleContract) {
		log.Fatalf("BATTLE_CONTRACT is not a hex address: %s", cfg.BattleContract)
	}

	repo, err := store.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer repo.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repo.EnsureSchema(sctx); err != nil {
		cancel()
		log.Fatalf("schema error: %v", err)
	}
	cancel()

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		log.Fatalf("rpc dial error: %v", err)
	}
	defer eth.Close()

	w, err := chainwatcher.New(eth, repo, common.HexToAddress(cfg.BattleContract), cfg.BlockChunkSize, cfg.ScanInterval)
	if err != nil {
		log.Fatalf("watcher init error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obslog.L().Info("chainwatcher_start",
		zap.String("contract", cfg.BattleContract),
		zap.Uint64("chunk", cfg.BlockChunkSize),
	)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		obslog.L().Error("chainwatcher_stopped", zap.Error(err))
	}
}
