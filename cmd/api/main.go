package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	httpx "github.com/splax/errwatch/internal/http"
	"github.com/splax/errwatch/internal/service/telemetry"
	"github.com/splax/errwatch/pkg/config"
	"github.com/splax/errwatch/pkg/jwt"
	"github.com/splax/errwatch/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("errwatch", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Environment == "development" {
		token, err := jwt.GenerateToken("dev-admin", "admin", cfg.AdminJWTSecret, cfg.AdminTokenTTL)
		if err != nil {
			log.Warn("could not issue development admin token", "error", err)
		} else {
			log.Info("development admin token issued", "token", token, "ttl", cfg.AdminTokenTTL)
		}
	}

	svc := telemetry.New(cfg.Telemetry, log)
	svc.StartSweeper()
	defer svc.StopSweeper()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, svc, limiter, cfg.AdminJWTSecret)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("errwatch server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("errwatch server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
