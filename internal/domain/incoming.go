// internal/domain/incoming.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var incomingNamespace = uuid.MustParse("6f1c7a4e-3b0d-5c2a-9e47-1d8b2f6a0c35")

// IncomingTx is an inbound payment observed on chain.
type IncomingTx struct {
	ID          string    `json:"id"`
	Chain       ChainID   `json:"chain"`
	TxHash      string    `json:"txHash"`
	Address     string    `json:"address"`
	Index       int       `json:"index"`
	Amount      string    `json:"amount"`
	Asset       string    `json:"asset"`
	Status      TxState   `json:"status"`
	From        string    `json:"from,omitempty"`
	WalletID    string    `json:"walletId,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IncomingID derives the stable id of one output of one transaction paying
// address. Re-observing the same payment yields the same id.
func IncomingID(chain ChainID, txHash, address string, index int) string {
	key := fmt.Sprintf("%s:%s:%s:%d", chain, txHash, address, index)
	return uuid.NewSHA1(incomingNamespace, []byte(key)).String()
}

// WithID fills the id when the adapter left it blank.
func (t IncomingTx) WithID() IncomingTx {
	if t.ID == "" {
		t.ID = IncomingID(t.Chain, t.TxHash, t.Address, t.Index)
	}
	return t
}
