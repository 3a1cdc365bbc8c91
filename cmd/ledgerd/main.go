/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asset-ledger-go/internal/common"
	"asset-ledger-go/internal/config"
	"asset-ledger-go/internal/events"
	"asset-ledger-go/internal/listener"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/reconcile"

	"github.com/kr/pretty"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_, loggerCleanup := common.InitializeLogger(config.LoadLogConfig())
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	zap.L().Debug("Effective configuration", zap.String("config", pretty.Sprint(cfg.Redacted())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting asset ledger")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var chainListener *listener.ChainListener
	if cfg.Kafka.Enabled() {
		chainListener = listener.NewChainListener(listener.ChainListenerConfig{
			Reader:      events.NewChainReader(cfg.Kafka),
			Deposits:    services.Deposits,
			Withdrawals: services.Withdrawals,
		})
		chainListener.Start(ctx)
	} else {
		zap.L().Warn("Kafka not configured, chain events will not be consumed")
	}

	var broadcastLoop *listener.BroadcastLoop
	if services.Broadcaster != nil {
		broadcastLoop = listener.NewBroadcastLoop(services.Withdrawals, cfg.Listener.PollingInterval)
		broadcastLoop.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.Handler(services.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		zap.L().Info("Serving metrics", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		runReconcileLoop(gctx, services.Reconciler, cfg.Listener.ReconcileInterval)
		return nil
	})

	zap.L().Info("Asset ledger running, press Ctrl+C to stop")
	if err := g.Wait(); err != nil {
		zap.L().Error("Service stopped with error", zap.Error(err))
	}

	zap.L().Info("Shutdown signal received, stopping background loops...")

	done := make(chan struct{})
	go func() {
		if chainListener != nil {
			chainListener.Stop()
		}
		if broadcastLoop != nil {
			broadcastLoop.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("All loops stopped gracefully")
	case <-time.After(30 * time.Second):
		zap.L().Warn("Forced shutdown after timeout")
		os.Exit(1)
	}
}

func runReconcileLoop(ctx context.Context, job *reconcile.Job, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := job.Run(ctx)
			if err != nil && ctx.Err() == nil {
				zap.L().Error("Reconciliation run failed", zap.Error(err))
				continue
			}
			if !summary.Clean() {
				zap.L().Error("Reconciliation found discrepancies",
					zap.Int("mismatched", len(summary.Mismatched)),
					zap.Int("failed", len(summary.Failed)))
			}
		}
	}
}
