// ordkeyd serves an order-preserving key-value store over a small JSON
// HTTP API, alongside a Prometheus/pprof observability sidecar.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nainya/ordkey/internal/config"
	"github.com/nainya/ordkey/internal/logger"
	"github.com/nainya/ordkey/internal/server"
)

func main() {
	cfg := config.Parse()

	logger.InitGlobalLogger(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	log := logger.GetGlobalLogger()

	log.LogServerStart(cfg.Port, cfg.DBPath)

	srv, err := server.NewServer(cfg.DBPath)
	if err != nil {
		log.Fatal("failed to create server").Err(err).Send()
	}
	defer srv.Close()

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	obsServer := server.NewObservabilityServer(cfg.ObservabilityPort, log)

	go func() {
		if err := obsServer.Start(); err != nil {
			log.Error("observability server failed").Err(err).Send()
		}
	}()

	statsCtx, stopStats := context.WithCancel(context.Background())
	go srv.RunStatsLoop(statsCtx, 15*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.LogServerShutdown()
		stopStats()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			log.Error("error shutting down API server").Err(err).Send()
		}
		if err := obsServer.Shutdown(ctx); err != nil {
			log.Error("error shutting down observability server").Err(err).Send()
		}
	}()

	log.LogServerReady(cfg.Port)
	if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("API server failed").Err(err).Send()
	}
}
