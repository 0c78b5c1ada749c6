package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/varekhin/chainduel/internal/assets"
	appcfg "github.com/varekhin/chainduel/internal/config"
	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/match"
	"github.com/varekhin/chainduel/internal/notify"
	"github.com/varekhin/chainduel/internal/obslog"
	"github.com/varekhin/chainduel/internal/server"
	"github.com/varekhin/chainduel/internal/session"
	"github.com/varekhin/chainduel/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}

	rules, err := duel.LoadRuleset(cfg.RulesFile)
	if err != nil {
		log.Fatalf("rules error: %v", err)
	}

	dir := duel.NewDirectory()
	dir.SetLockWait(cfg.DuelLockWait)
	registry := session.NewRegistry()

	// Session key mirror (optional)
	if cfg.RedisURL != "" {
		opts, rerr := redis.ParseURL(cfg.RedisURL)
		if rerr != nil {
			log.Fatalf("redis url error: %v", rerr)
		}
		registry.AttachKeyStore(session.NewKeyStore(redis.NewClient(opts)))
	}

	// The notifier needs the hub for delivery and the managers need the
	// notifier; wire the hub last through the relay.
	relay := &senderRelay{}
	notifier := notify.New(registry, relay)

	engine := duel.NewEngine(dir, rules, notifier)
	matches := match.NewManager(dir, rules, notifier)

	// Durable mirror (optional)
	var repo *store.Repository
	if cfg.DatabaseURL != "" {
		repo, err = store.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("store init error: %v", err)
		}
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := repo.EnsureSchema(sctx); err != nil {
			cancel()
			log.Fatalf("schema error: %v", err)
		}
		cancel()
		engine.AttachStore(repo)
		matches.AttachStore(repo)
	}

	srv := server.New(registry, matches, engine, dir)
	relay.hub = srv
	if cfg.AssetAPIURL != "" {
		srv.AttachAssets(assets.NewClient(cfg.AssetAPIURL))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if lerr := httpSrv.ListenAndServe(); lerr != nil && lerr != http.ErrServerClosed {
			obslog.L().Fatal("server_listen_error", zap.Error(lerr))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("server_shutdown")
	srv.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = httpSrv.Shutdown(sctx)
	cancel()
	if repo != nil {
		_ = repo.Close()
	}
}

// senderRelay breaks the notifier/hub construction cycle: the notifier
// is built before the hub exists and sends through this indirection.
type senderRelay struct {
	hub *server.Server
}

func (r *senderRelay) Send(id session.ConnID, event string, data any) error {
	return r.hub.Send(id, event, data)
}
