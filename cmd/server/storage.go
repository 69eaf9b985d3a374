package main

import (
	"context"
	"fmt"

	"custody-service/internal/cache"
	"custody-service/internal/config"
	"custody-service/internal/repository"
	"custody-service/internal/security"

	"go.uber.org/zap"
)

type storage struct {
	keystore repository.Keystore
	index    repository.WalletIndex
	incoming repository.IncomingStore
	balances *repository.BalanceCache
	kv       cache.KV
	closers  []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStorage selects the in-process backend or postgres plus redis.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn("memory storage active, wallets are lost on restart")
		kv := cache.NewMemory()
		return &storage{
			keystore: repository.NewMemoryKeystore(),
			index:    repository.NewMemoryWalletIndex(),
			incoming: repository.NewMemoryIncomingStore(),
			balances: repository.NewBalanceCache(kv, cfg.BalanceCacheTTL),
			kv:       kv,
		}, nil
	case config.BackendRemote:
		return openRemote(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func openRemote(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	vault, err := openVault(cfg.Security, logger)
	if err != nil {
		return nil, err
	}
	encryption, err := vault.Encryption(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}

	s := &storage{}
	pool, err := config.ConnectDB(ctx, cfg.Storage.DB)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pool.Close)

	keystore := repository.NewPostgresKeystore(pool, encryption)
	if err := keystore.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate keystore: %w", err)
	}

	rc := cfg.Storage.Redis
	client, err := cache.NewRedisClient(ctx, rc.Addrs, rc.Password, rc.UseCluster, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = client.Close() })

	s.kv = cache.NewRedis(client)
	s.keystore = keystore
	s.index = repository.NewRedisWalletIndex(client)
	s.incoming = repository.NewRedisIncomingStore(client)
	s.balances = repository.NewBalanceCache(s.kv, cfg.BalanceCacheTTL)

	logger.Info("remote storage ready",
		zap.String("db_host", cfg.Storage.DB.Host),
		zap.Strings("redis", rc.Addrs),
		zap.String("encryption_version", encryption.Version()))
	return s, nil
}

func openVault(cfg config.SecurityConfig, logger *zap.Logger) (*security.Vault, error) {
	switch cfg.VaultProvider {
	case "file":
		provider, err := security.NewFileVaultProvider(cfg.FileVaultDir, cfg.FileVaultKey)
		if err != nil {
			return nil, fmt.Errorf("failed to open file vault: %w", err)
		}
		return security.NewVault(provider, logger), nil
	case "env", "":
		return security.NewVault(security.NewEnvVaultProvider(), logger), nil
	default:
		return nil, fmt.Errorf("unknown vault provider: %s", cfg.VaultProvider)
	}
}
