// internal/chains/tron/wallet.go
package tron

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"go.uber.org/zap"
)

func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	addr := address.PubkeyToAddress(privateKey.PublicKey).String()
	a.logger.Info("wallet generated", zap.String("address", addr))

	return &domain.Wallet{
			Address:   addr,
			Chain:     domain.ChainTron,
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}, &domain.WalletSecrets{
			PrivateKey: hex.EncodeToString(crypto.FromECDSA(privateKey)),
		}, nil
}

// signingKey parses the hex key and checks it controls owner.
func signingKey(secrets *domain.WalletSecrets, owner string) (*ecdsa.PrivateKey, error) {
	if secrets.IsEmpty() || secrets.PrivateKey == "" {
		return nil, xerrors.ErrSecretsRequired
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(secrets.PrivateKey, "0x"))
	if err != nil {
		return nil, xerrors.BadRequest("invalid private key: %v", err)
	}
	if address.PubkeyToAddress(key.PublicKey).String() != owner {
		return nil, xerrors.BadRequest("private key does not match wallet address")
	}
	return key, nil
}
