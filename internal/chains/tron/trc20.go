// internal/chains/tron/trc20.go
package tron

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"go.uber.org/zap"
)

const (
	transferSelector = "transfer(address,uint256)"

	// used when the energy simulation is unavailable
	defaultTokenEnergy int64 = 65000
	tokenBandwidth     int64 = 345
	nativeBandwidth    int64 = 270
	bandwidthPrice     int64 = 1000 // sun per byte
)

// transferParameter ABI encodes the arguments of transfer(address,uint256).
// TRON addresses drop their 0x41 prefix inside ABI words.
func transferParameter(to address.Address, amount *big.Int) string {
	addrWord := make([]byte, 32)
	raw := to.Bytes()
	copy(addrWord[32-20:], raw[len(raw)-20:])

	amountWord := make([]byte, 32)
	amount.FillBytes(amountWord)

	return hex.EncodeToString(addrWord) + hex.EncodeToString(amountWord)
}

// transferArgs is the JSON argument list accepted by the gRPC TriggerContract
// helper.
func transferArgs(to string, amount *big.Int) string {
	return fmt.Sprintf(`[{"address":"%s"},{"uint256":"%s"}]`, to, amount.String())
}

// tokenFee returns the sun burnt by a token transfer when the sender has no
// staked energy or bandwidth.
func (a *Adapter) tokenFee(ctx context.Context, endpoint, owner string, token *TokenConfig, to address.Address, amount *big.Int) int64 {
	energy, err := a.client.estimateEnergy(ctx, endpoint, owner, token.Contract, transferSelector, transferParameter(to, amount))
	if err != nil || energy == 0 {
		a.logger.Debug("energy simulation unavailable, using default",
			zap.String("token", token.Symbol),
			zap.Int64("energy", defaultTokenEnergy),
			zap.Error(err))
		energy = defaultTokenEnergy
	}
	return energy*a.cfg.EnergyPrice + tokenBandwidth*bandwidthPrice
}

func isHexTx(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
