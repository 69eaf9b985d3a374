package cardano

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

// Enterprise addresses carry a payment key hash and no stake part.
const (
	enterpriseMainnet byte = 0x61
	enterpriseTestnet byte = 0x60
)

func hrpFor(mainnet bool) string {
	if mainnet {
		return "addr"
	}
	return "addr_test"
}

// EnterpriseAddress builds the bech32 enterprise address of an ed25519
// payment key.
func EnterpriseAddress(pub ed25519.PublicKey, mainnet bool) (string, error) {
	hasher, err := blake2b.New(28, nil)
	if err != nil {
		return "", err
	}
	hasher.Write(pub)

	header := enterpriseTestnet
	if mainnet {
		header = enterpriseMainnet
	}
	payload := append([]byte{header}, hasher.Sum(nil)...)

	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrpFor(mainnet), conv)
}

// validateAddress accepts any Shelley address of the configured network.
// Base addresses exceed the classic 90 character bech32 limit.
func validateAddress(addr string, mainnet bool) error {
	hrp, data, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return fmt.Errorf("invalid bech32: %w", err)
	}
	if hrp != hrpFor(mainnet) {
		return fmt.Errorf("wrong network prefix %q", hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return err
	}
	if len(payload) < 29 {
		return fmt.Errorf("address payload too short")
	}
	network := payload[0] & 0x0f
	if mainnet != (network == 1) {
		return fmt.Errorf("address network id %d does not match", network)
	}
	return nil
}
