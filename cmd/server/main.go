// cmd/server/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"custody-service/internal/chains"
	"custody-service/internal/config"
	"custody-service/internal/events"
	"custody-service/internal/handler"
	"custody-service/internal/router"
	"custody-service/internal/server"
	"custody-service/internal/usecase"
	"custody-service/internal/worker"

	"go.uber.org/zap"
)

func main() {
	// Load .env
	config.LoadEnv()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// Initialize chains
	chainRegistry, closeChains, err := chains.Setup(cfg.Chains, logger)
	if err != nil {
		logger.Fatal("failed to initialize chains", zap.Error(err))
	}
	defer closeChains()

	// Initialize storage
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Initialize usecases
	walletUC := usecase.NewWalletUsecase(store.keystore, store.index, chainRegistry, logger)
	balanceUC := usecase.NewBalanceUsecase(walletUC, store.balances, logger)
	transactionUC := usecase.NewTransactionUsecase(walletUC, chainRegistry, store.balances, store.kv, logger)
	refinanceUC := usecase.NewRefinanceUsecase(store.keystore, store.index, store.incoming, chainRegistry, logger)
	incomingUC := usecase.NewIncomingUsecase(walletUC, store.index, store.incoming, logger)
	capabilityUC := usecase.NewCapabilityUsecase(chainRegistry, cfg.PingTimeout, logger)

	// The keystore is the source of truth; the index may be a fresh cache.
	if _, err := walletUC.RebuildIndex(ctx); err != nil {
		logger.Fatal("failed to rebuild wallet index", zap.Error(err))
	}

	// Start incoming monitor
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.IncomingTopic, logger)
	}
	defer publisher.Close()

	var monitor *worker.IncomingMonitor
	if cfg.Monitor.Enabled {
		monitor = worker.NewIncomingMonitor(chainRegistry, store.index, store.incoming, publisher, worker.MonitorConfig{
			Interval:      cfg.Monitor.Interval,
			BackoffBase:   cfg.Monitor.BackoffBase,
			BackoffCap:    cfg.Monitor.BackoffCap,
			IncomingLimit: cfg.Monitor.IncomingLimit,
		}, logger)
		monitor.Start(ctx)
	}

	// HTTP
	routes := router.SetupRoutes(router.Handlers{
		Wallet:      handler.NewWalletHandler(walletUC, logger),
		Balance:     handler.NewBalanceHandler(balanceUC, logger),
		Transaction: handler.NewTransactionHandler(transactionUC, refinanceUC, logger),
		Incoming:    handler.NewIncomingHandler(incomingUC, logger),
		Chain:       handler.NewChainHandler(capabilityUC, logger),
	}, cfg.Server.CORSOrigins, logger)
	httpServer := server.NewHTTPServer(routes, cfg.Server.Port, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info("custody service started",
		zap.String("port", cfg.Server.Port),
		zap.Strings("chains", chainIDs(chainRegistry)))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if monitor != nil {
		monitor.Stop()
	}
	logger.Info("custody service stopped")
}

func chainIDs(r *chains.Registry) []string {
	ids := r.List()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
