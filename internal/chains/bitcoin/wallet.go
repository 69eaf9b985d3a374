// internal/chains/bitcoin/wallet.go
package bitcoin

import (
	"fmt"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// generateKey returns a fresh key with its native segwit address and WIF.
func generateKey(params *chaincfg.Params) (address, wif string, err error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate private key: %w", err)
	}
	addr, err := witnessAddress(privateKey.PubKey(), params)
	if err != nil {
		return "", "", err
	}
	w, err := btcutil.NewWIF(privateKey, params, true)
	if err != nil {
		return "", "", fmt.Errorf("failed to create WIF: %w", err)
	}
	return addr.EncodeAddress(), w.String(), nil
}

func witnessAddress(pub *btcec.PublicKey, params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
	if err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}
	return addr, nil
}

// decodeKey reads a WIF key and checks it controls address.
func decodeKey(secrets *domain.WalletSecrets, address string, params *chaincfg.Params) (*btcec.PrivateKey, error) {
	if secrets.IsEmpty() || secrets.PrivateKey == "" {
		return nil, xerrors.ErrSecretsRequired
	}
	w, err := btcutil.DecodeWIF(secrets.PrivateKey)
	if err != nil {
		return nil, xerrors.BadRequest("invalid WIF private key: %v", err)
	}
	addr, err := witnessAddress(w.PrivKey.PubKey(), params)
	if err != nil {
		return nil, err
	}
	if addr.EncodeAddress() != address {
		return nil, xerrors.BadRequest("private key does not match wallet address")
	}
	return w.PrivKey, nil
}

// getNetworkParams returns chaincfg params for network
func getNetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
}

func validateAddress(address string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil || !addr.IsForNet(params) {
		return xerrors.BadRequest("invalid bitcoin address: %s", address)
	}
	return nil
}
