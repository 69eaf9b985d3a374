// internal/domain/chain.go
package domain

import (
	"context"
	"sort"
	"strings"
	"time"
)

// ChainID identifies one supported blockchain. The set is closed.
type ChainID string

const (
	ChainEthereum  ChainID = "ethereum"
	ChainBSC       ChainID = "bsc"
	ChainPolygon   ChainID = "polygon"
	ChainArbitrum  ChainID = "arbitrum"
	ChainBitcoin   ChainID = "bitcoin"
	ChainCosmos    ChainID = "cosmos"
	ChainPolkadot  ChainID = "polkadot"
	ChainSolana    ChainID = "solana"
	ChainRipple    ChainID = "ripple"
	ChainTron      ChainID = "tron"
	ChainCardano   ChainID = "cardano"
	ChainLightning ChainID = "lightning"
)

// ChainInfo describes the native asset of a chain.
type ChainInfo struct {
	ID        ChainID `json:"chain"`
	Symbol    string  `json:"symbol"`
	Decimals  int     `json:"decimals"`
	MinorUnit string  `json:"minorUnit"`
}

var chainInfos = map[ChainID]ChainInfo{
	ChainEthereum:  {ChainEthereum, "ETH", 18, "wei"},
	ChainBSC:       {ChainBSC, "BNB", 18, "wei"},
	ChainPolygon:   {ChainPolygon, "POL", 18, "wei"},
	ChainArbitrum:  {ChainArbitrum, "ETH", 18, "wei"},
	ChainBitcoin:   {ChainBitcoin, "BTC", 8, "satoshi"},
	ChainCosmos:    {ChainCosmos, "ATOM", 6, "uatom"},
	ChainPolkadot:  {ChainPolkadot, "DOT", 10, "planck"},
	ChainSolana:    {ChainSolana, "SOL", 9, "lamport"},
	ChainRipple:    {ChainRipple, "XRP", 6, "drop"},
	ChainTron:      {ChainTron, "TRX", 6, "sun"},
	ChainCardano:   {ChainCardano, "ADA", 6, "lovelace"},
	ChainLightning: {ChainLightning, "SAT", 0, "sat"},
}

// AllChains returns every known chain id in a stable order.
func AllChains() []ChainID {
	ids := make([]ChainID, 0, len(chainInfos))
	for id := range chainInfos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// InfoFor returns the native asset description of a known chain.
func InfoFor(id ChainID) (ChainInfo, bool) {
	info, ok := chainInfos[id]
	return info, ok
}

// ParseChain normalizes a chain name. Unknown names are returned as is so the
// registry can reject them.
func ParseChain(s string) ChainID {
	return ChainID(strings.ToLower(strings.TrimSpace(s)))
}

func (c ChainID) Known() bool {
	_, ok := chainInfos[c]
	return ok
}

func (c ChainID) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBSC, ChainPolygon, ChainArbitrum:
		return true
	}
	return false
}

func (c ChainID) String() string {
	return string(c)
}

// Maturity is how complete a chain integration is.
type Maturity string

const (
	MaturityFull           Maturity = "full"
	MaturityPartial        Maturity = "partial"
	MaturityPlaceholder    Maturity = "placeholder"
	MaturityNotImplemented Maturity = "not_implemented"
)

// Capabilities is what an adapter reports about itself.
type Capabilities struct {
	Maturity     Maturity `json:"maturity"`
	SignedTxOnly bool     `json:"signedTxOnly"`
	Assets       []string `json:"assets"`
	Notes        string   `json:"notes,omitempty"`
}

// SupportsAsset reports whether symbol is one of the listed assets.
func (c Capabilities) SupportsAsset(symbol string) bool {
	for _, a := range c.Assets {
		if strings.EqualFold(a, symbol) {
			return true
		}
	}
	return false
}

// ChainRPCConfig is the endpoint set for one chain.
type ChainRPCConfig struct {
	Primary   string        `json:"primary"`
	Fallbacks []string      `json:"fallbacks"`
	Timeout   time.Duration `json:"timeout"`
}

// Endpoints returns primary followed by fallbacks, without blanks or repeats.
func (c ChainRPCConfig) Endpoints() []string {
	out := make([]string, 0, 1+len(c.Fallbacks))
	seen := make(map[string]bool)
	for _, e := range append([]string{c.Primary}, c.Fallbacks...) {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// Adapter is implemented once per chain.
type Adapter interface {
	// Chain returns the chain id served by this adapter
	Chain() ChainID

	// Info returns the native asset description
	Info() ChainInfo

	// Capabilities reports maturity and supported assets
	Capabilities() Capabilities

	// CreateWallet generates fresh key material. Secrets may be nil when the
	// chain keeps keys server side.
	CreateWallet(ctx context.Context, label string) (*Wallet, *WalletSecrets, error)

	// GetBalance reads a live balance. An empty asset means the native asset.
	GetBalance(ctx context.Context, wallet Wallet, asset string) (*Balance, error)

	// EstimateFee quotes the network fee for a draft
	EstimateFee(ctx context.Context, draft *TxDraft) (*FeeQuote, error)

	// SendTransaction signs (when needed) and broadcasts a draft
	SendTransaction(ctx context.Context, draft *TxDraft) (*SendResult, error)

	// GetStatus looks up a transaction by id or hash
	GetStatus(ctx context.Context, txID string) (*TxStatus, error)

	// ListIncoming returns recent inbound payments to address
	ListIncoming(ctx context.Context, address string, limit int) ([]IncomingTx, error)

	// Endpoints returns the configured endpoints, primary first
	Endpoints() []string

	// Ping issues one lightweight health request against endpoint
	Ping(ctx context.Context, endpoint string) error
}

// BlockScanner is implemented by adapters that find incoming payments by
// scanning block ranges for many addresses at once.
type BlockScanner interface {
	LatestBlock(ctx context.Context) (uint64, error)
	ScanIncoming(ctx context.Context, addresses []string, from, to uint64) ([]IncomingTx, error)
}
