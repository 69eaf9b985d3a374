// internal/security/vault.go
package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const MasterKeyPath = "crypto/master-key"

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrSecretExists   = errors.New("secret already exists")
)

// VaultProvider is a secret storage backend.
type VaultProvider interface {
	GetSecret(ctx context.Context, path string) (string, error)
	SetSecret(ctx context.Context, path, value string) error
}

// Vault caches secrets read from a provider.
type Vault struct {
	provider   VaultProvider
	cache      map[string]*cachedSecret
	cacheMutex sync.RWMutex
	cacheTTL   time.Duration
	logger     *zap.Logger
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewVault(provider VaultProvider, logger *zap.Logger) *Vault {
	return &Vault{
		provider: provider,
		cache:    make(map[string]*cachedSecret),
		cacheTTL: 5 * time.Minute,
		logger:   logger,
	}
}

// MasterKey returns the key that seals wallet secrets.
func (v *Vault) MasterKey(ctx context.Context) (string, error) {
	return v.GetSecret(ctx, MasterKeyPath)
}

// StoreMasterKey writes key as the master key. An existing key is kept
// unless overwrite is set, since wallets sealed with it would become unreadable.
func (v *Vault) StoreMasterKey(ctx context.Context, key string, overwrite bool) error {
	if _, err := NewEncryption(key); err != nil {
		return err
	}
	if !overwrite {
		_, err := v.provider.GetSecret(ctx, MasterKeyPath)
		switch {
		case err == nil:
			return ErrSecretExists
		case !errors.Is(err, ErrSecretNotFound):
			return fmt.Errorf("failed to check master key: %w", err)
		}
	}
	if err := v.SetSecret(ctx, MasterKeyPath, key); err != nil {
		return err
	}
	stored, err := v.MasterKey(ctx)
	if err != nil {
		return err
	}
	if stored != key {
		return errors.New("master key read back does not match")
	}
	return nil
}

// Encryption builds the secrets cipher from the master key.
func (v *Vault) Encryption(ctx context.Context) (*Encryption, error) {
	key, err := v.MasterKey(ctx)
	if err != nil {
		return nil, err
	}
	return NewEncryption(key)
}

func (v *Vault) GetSecret(ctx context.Context, path string) (string, error) {
	v.cacheMutex.RLock()
	if cached, ok := v.cache[path]; ok && time.Now().Before(cached.expiresAt) {
		v.cacheMutex.RUnlock()
		return cached.value, nil
	}
	v.cacheMutex.RUnlock()

	v.logger.Debug("fetching secret from provider", zap.String("path", path))
	secret, err := v.provider.GetSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to get secret from vault: %w", err)
	}

	v.cacheMutex.Lock()
	v.cache[path] = &cachedSecret{value: secret, expiresAt: time.Now().Add(v.cacheTTL)}
	v.cacheMutex.Unlock()
	return secret, nil
}

func (v *Vault) SetSecret(ctx context.Context, path, value string) error {
	if err := v.provider.SetSecret(ctx, path, value); err != nil {
		return fmt.Errorf("failed to set secret in vault: %w", err)
	}
	v.invalidate(path)
	v.logger.Info("secret updated in vault", zap.String("path", path))
	return nil
}

func (v *Vault) invalidate(path string) {
	v.cacheMutex.Lock()
	delete(v.cache, path)
	v.cacheMutex.Unlock()
}

// EnvVaultProvider reads secrets from environment variables, for development.
// "crypto/master-key" maps to CRYPTO_MASTER_KEY.
type EnvVaultProvider struct{}

func NewEnvVaultProvider() *EnvVaultProvider {
	return &EnvVaultProvider{}
}

func pathToEnvKey(path string) string {
	key := strings.ToUpper(path)
	key = strings.ReplaceAll(key, "/", "_")
	return strings.ReplaceAll(key, "-", "_")
}

func (p *EnvVaultProvider) GetSecret(ctx context.Context, path string) (string, error) {
	envKey := pathToEnvKey(path)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("%w: %s (env: %s)", ErrSecretNotFound, path, envKey)
	}
	return value, nil
}

func (p *EnvVaultProvider) SetSecret(ctx context.Context, path, value string) error {
	return os.Setenv(pathToEnvKey(path), value)
}

// FileVaultProvider keeps each secret in its own file under baseDir,
// encrypted with a separate vault key.
type FileVaultProvider struct {
	baseDir    string
	encryption *Encryption
	mutex      sync.RWMutex
}

func NewFileVaultProvider(baseDir, vaultKey string) (*FileVaultProvider, error) {
	encryption, err := NewEncryption(vaultKey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileVaultProvider{baseDir: baseDir, encryption: encryption}, nil
}

func (p *FileVaultProvider) file(path string) string {
	return filepath.Join(p.baseDir, filepath.FromSlash(path)+".enc")
}

func (p *FileVaultProvider) GetSecret(ctx context.Context, path string) (string, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ciphertext, err := os.ReadFile(p.file(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	plaintext, err := p.encryption.DecryptBytes(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (p *FileVaultProvider) SetSecret(ctx context.Context, path, value string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ciphertext, err := p.encryption.EncryptBytes([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}
	filePath := p.file(path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filePath, ciphertext, 0o600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}
