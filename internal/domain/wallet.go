// internal/domain/wallet.go
package domain

import (
	"strings"
	"time"
)

type Wallet struct {
	ID        string         `json:"id"`
	Address   string         `json:"address"`
	Chain     ChainID        `json:"chain"`
	Label     string         `json:"label,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  WalletMetadata `json:"metadata"`
}

// WalletMetadata is the mutable part of a wallet.
type WalletMetadata struct {
	Institutional       bool              `json:"institutional,omitempty"`
	InstitutionalAssets []string          `json:"institutionalAssets,omitempty"`
	VirtualOwner        string            `json:"virtualOwner,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// AllowsAsset reports whether the wallet may operate on symbol. Non
// institutional wallets allow everything.
func (m WalletMetadata) AllowsAsset(symbol string) bool {
	if !m.Institutional {
		return true
	}
	for _, a := range m.InstitutionalAssets {
		if strings.EqualFold(a, symbol) {
			return true
		}
	}
	return false
}

// IsRegistered reports whether the wallet came from the keystore rather
// than a caller supplied stub.
func (w Wallet) IsRegistered() bool {
	return w.ID != ""
}

// WalletSecrets holds signing material. Never serialized into API responses.
type WalletSecrets struct {
	PrivateKey string `json:"privateKey,omitempty"`
	Mnemonic   string `json:"mnemonic,omitempty"`
	Seed       string `json:"seed,omitempty"`
	Raw        string `json:"raw,omitempty"`
}

func (s *WalletSecrets) IsEmpty() bool {
	return s == nil || (s.PrivateKey == "" && s.Mnemonic == "" && s.Seed == "" && s.Raw == "")
}

// WalletFilter narrows wallet listings. Empty fields match everything.
type WalletFilter struct {
	Chain   ChainID
	Address string
	Label   string
	Owner   string
}

func (f WalletFilter) Matches(w Wallet) bool {
	if f.Chain != "" && w.Chain != f.Chain {
		return false
	}
	if f.Address != "" && !strings.EqualFold(w.Address, f.Address) {
		return false
	}
	if f.Label != "" && w.Label != f.Label {
		return false
	}
	if f.Owner != "" && w.Metadata.VirtualOwner != f.Owner {
		return false
	}
	return true
}

// NormalizeAddress returns the form used for lookups. EVM addresses are case
// insensitive; every other supported format is case sensitive or already
// canonical.
func NormalizeAddress(chain ChainID, address string) string {
	address = strings.TrimSpace(address)
	if chain.IsEVM() {
		return strings.ToLower(address)
	}
	return address
}
