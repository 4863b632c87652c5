package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/config"
	"github.com/0gfoundation/0g-gasless/internal/devrelay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := cfg.ValidateRelay(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if !common.IsHexAddress(cfg.DevRelay.TokenAddress) || !common.IsHexAddress(cfg.DevRelay.DelegateAddress) {
		log.Fatal("invalid DEVRELAY_TOKEN_ADDRESS or DEVRELAY_DELEGATE_ADDRESS")
	}
	token := common.HexToAddress(cfg.DevRelay.TokenAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}
	store := devrelay.NewStore(rdb)

	// ── Metrics ───────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := devrelay.NewMetrics(reg)

	// ── Settler ───────────────────────────────────────────────────────────────
	// Recovery runs before the settler so crashed-in-flight txs are retried.
	if n, err := devrelay.RecoverPending(ctx, store, log); err != nil {
		log.Error("recover pending txs", zap.Error(err))
	} else if n > 0 {
		log.Info("re-queued pending txs", zap.Int("count", n))
	}
	go devrelay.RunSettler(ctx, store, token, metrics, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	devrelay.NewHandler(store, devrelay.Config{
		ChainID:         cfg.Chain.ChainID,
		APIKey:          cfg.DevRelay.APIKey,
		TokenAddress:    token,
		DelegateAddress: common.HexToAddress(cfg.DevRelay.DelegateAddress),
		GoldPrice:       cfg.DevRelay.GoldPrice,
		ChallengeTTL:    cfg.Cache.SessionTTL(),
	}, metrics, log).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.Uint64("chain_id", cfg.Chain.ChainID),
			zap.String("token", token.Hex()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
