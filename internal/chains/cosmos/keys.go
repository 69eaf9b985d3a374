// internal/chains/cosmos/keys.go
package cosmos

import (
	"encoding/hex"
	"fmt"
	"strings"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// m/44'/118'/0'/0/0
var derivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 118,
	bip32.FirstHardenedChild,
	0,
	0,
}

// newMnemonic returns a fresh 24 word mnemonic.
func newMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

func keyFromMnemonic(mnemonic string) (*secp256k1.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, xerrors.BadRequest("invalid mnemonic: %v", err)
	}
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, idx := range derivationPath {
		if key, err = key.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("failed to derive child %d: %w", idx, err)
		}
	}
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// signingKey prefers an explicit hex key and falls back to the mnemonic.
func signingKey(secrets *domain.WalletSecrets) (*secp256k1.PrivateKey, error) {
	if secrets.IsEmpty() {
		return nil, xerrors.ErrSecretsRequired
	}
	if secrets.PrivateKey != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(secrets.PrivateKey, "0x"))
		if err != nil || len(raw) != 32 {
			return nil, xerrors.BadRequest("invalid private key")
		}
		return secp256k1.PrivKeyFromBytes(raw), nil
	}
	if secrets.Mnemonic != "" {
		return keyFromMnemonic(secrets.Mnemonic)
	}
	return nil, xerrors.ErrSecretsRequired
}

// addressFor is bech32(prefix, ripemd160(sha256(compressed pubkey))).
func addressFor(prefix string, pub *secp256k1.PublicKey) (string, error) {
	conv, err := bech32.ConvertBits(btcutil.Hash160(pub.SerializeCompressed()), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, conv)
}

func validateAddress(prefix, address string) error {
	hrp, data, err := bech32.Decode(address)
	if err != nil || hrp != prefix {
		return xerrors.BadRequest("invalid %s address: %s", prefix, address)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil || len(raw) != 20 {
		return xerrors.BadRequest("invalid %s address: %s", prefix, address)
	}
	return nil
}
