// internal/chains/evm/wallet.go
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// CreateWallet generates a secp256k1 key and its checksummed address.
func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
	privateKeyHex := hexutil.Encode(crypto.FromECDSA(privateKey))[2:]

	a.logger.Info("wallet generated", zap.String("address", address))

	return &domain.Wallet{
			Address:   address,
			Chain:     a.cfg.Chain,
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}, &domain.WalletSecrets{
			PrivateKey: privateKeyHex,
		}, nil
}

func parsePrivateKey(secrets *domain.WalletSecrets) (*ecdsa.PrivateKey, error) {
	if secrets.IsEmpty() || secrets.PrivateKey == "" {
		return nil, xerrors.ErrSecretsRequired
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(secrets.PrivateKey, "0x"))
	if err != nil {
		return nil, xerrors.BadRequest("invalid private key: %v", err)
	}
	return key, nil
}
