// internal/chains/evm/erc20.go
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

func (a *Adapter) tokenBalance(ctx context.Context, c *ethclient.Client, token *TokenConfig, owner common.Address) (*big.Int, error) {
	data, err := a.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	contract := common.HexToAddress(token.Contract)
	result, err := c.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	// Empty result: address never touched the token.
	if len(result) == 0 {
		return new(big.Int), nil
	}

	out, err := a.erc20.Unpack("balanceOf", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balance: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok || balance == nil {
		return new(big.Int), nil
	}
	return balance, nil
}

func (a *Adapter) packTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := a.erc20.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return data, nil
}
