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

	"vaultdesk.io/internal/config"
	"vaultdesk.io/internal/httpapi"
	"vaultdesk.io/internal/obs"
	"vaultdesk.io/internal/rbac"
	"vaultdesk.io/internal/store/pg"
	"vaultdesk.io/internal/token"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	warnings, err := cfg.Validate()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	for _, w := range warnings {
		log.Printf("config warning: %s", w)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Role and assignment storage: Postgres when a DSN is configured, the
	// in-memory store otherwise so local development boots without infra.
	var (
		store   rbac.Store
		pgStore *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		store = pgStore
	} else {
		log.Printf("no VAULTDESK_PG_DSN set, using in-memory store")
		store = rbac.NewMemoryStore()
	}

	rbacSvc, err := rbac.NewService(store)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	tokens, err := token.NewService(cfg.AuthSecret,
		token.WithIssuer(cfg.TokenIssuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// Revocation registry: shared Redis when configured, process-local memory
	// otherwise. The ceiling is the refresh TTL, the longest any entry can
	// matter.
	var (
		blacklist token.Blacklist
		memBL     *token.MemoryBlacklist
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		blacklist = token.NewRedisBlacklist(client, cfg.RefreshTTL)
		log.Printf("revocation registry backed by redis at %s", cfg.RedisAddr)
	} else {
		memBL = token.NewMemoryBlacklist(cfg.RefreshTTL)
		obs.RegisterBlacklistGauge(memBL.Len)
		blacklist = memBL
	}

	ready := httpapi.ReadyProbe{}
	if pgStore != nil {
		ready.DB = pgStore.DB()
	}
	api := httpapi.New(httpapi.Options{
		Ready:             ready,
		Version:           version,
		RBAC:              rbacSvc,
		Tokens:            tokens,
		Blacklist:         blacklist,
		AuthRatePerSecond: cfg.AuthRateLimit,
		AuthRateBurst:     cfg.AuthRateBurst,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Printf("starting vaultdesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if memBL != nil {
		memBL.Close()
	}
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("stopped")
}
