package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg := LoadConfig()
	initLogging(cfg.LogLevel)

	reg := NewRegistry(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", reg.HealthHandler)
	mux.HandleFunc("GET /metrics", reg.MetricsHandler)
	mux.HandleFunc("GET /ws", reg.WebSocketHandler)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, draining connections")
		reg.closeAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown did not complete cleanly")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":               cfg.Addr,
		"token_idle_ttl":     cfg.TokenIdleTTL,
		"room_reconnect_ttl": cfg.RoomReconnectTTL,
		"room_hard_cap":      cfg.RoomHardCap,
		"relay_rate_limit":   cfg.RelayRateLimit,
	}).Info("signaling server starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
}
