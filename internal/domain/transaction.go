// internal/domain/transaction.go
package domain

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) OrDefault() Priority {
	switch p {
	case PriorityLow, PriorityHigh:
		return p
	}
	return PriorityNormal
}

type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
	TxUnknown   TxState = "unknown"
)

// TxDraft is a transfer request handed to an adapter. Wallet may be an
// unregistered stub carrying only chain and address.
type TxDraft struct {
	Wallet     Wallet         `json:"wallet"`
	To         string         `json:"to"`
	Amount     string         `json:"amount"`
	Asset      string         `json:"asset,omitempty"`
	SignedTx   string         `json:"signedTx,omitempty"`
	ClientTxID string         `json:"clientTxId,omitempty"`
	Priority   Priority       `json:"priority,omitempty"`
	Secrets    *WalletSecrets `json:"-"`
}

type FeeQuote struct {
	Amount   string   `json:"amount"`
	Currency string   `json:"currency"`
	Priority Priority `json:"priority"`
}

type SendResult struct {
	Chain      ChainID `json:"chain"`
	TxHash     string  `json:"txHash"`
	Status     TxState `json:"status"`
	ClientTxID string  `json:"clientTxId,omitempty"`
}

type TxStatus struct {
	TxHash        string  `json:"txHash"`
	Status        TxState `json:"status"`
	Error         string  `json:"error,omitempty"`
	Confirmations int64   `json:"confirmations,omitempty"`
	BlockNumber   uint64  `json:"blockNumber,omitempty"`
}

type Balance struct {
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
}
