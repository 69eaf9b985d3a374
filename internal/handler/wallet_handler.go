// internal/handler/wallet_handler.go
package handler

import (
	"net/http"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletUC *usecase.WalletUsecase
	logger   *zap.Logger
}

func NewWalletHandler(walletUC *usecase.WalletUsecase, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		walletUC: walletUC,
		logger:   logger,
	}
}

// ============================================================================
// WALLET MANAGEMENT
// ============================================================================

// CreateWallet generates a wallet on one chain
// POST /api/v1/wallets
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chain string `json:"chain"`
		Label string `json:"label,omitempty"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}

	wallet, err := h.walletUC.CreateWallet(r.Context(), domain.ParseChain(req.Chain), req.Label)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, wallet)
}

// CreateInstitutionalWallet creates a wallet restricted to an asset allow list
// POST /api/v1/wallets/institutional
func (h *WalletHandler) CreateInstitutionalWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chain  string   `json:"chain"`
		Label  string   `json:"label,omitempty"`
		Assets []string `json:"assets"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}

	wallet, err := h.walletUC.CreateInstitutionalWallet(r.Context(), domain.ParseChain(req.Chain), req.Label, req.Assets)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, wallet)
}

// EnsureVirtualWallets returns one wallet per chain for an owner
// POST /api/v1/wallets/virtual
func (h *WalletHandler) EnsureVirtualWallets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner  string   `json:"owner"`
		Chains []string `json:"chains,omitempty"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}
	chainIDs := make([]domain.ChainID, 0, len(req.Chains))
	for _, c := range req.Chains {
		chainIDs = append(chainIDs, domain.ParseChain(c))
	}

	wallets, failures, err := h.walletUC.EnsureVirtualWallets(r.Context(), req.Owner, chainIDs)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	errs := make(map[domain.ChainID]string, len(failures))
	for chain, ferr := range failures {
		errs[chain] = ferr.Error()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"owner":   req.Owner,
		"wallets": wallets,
		"errors":  errs,
	})
}

// ListWallets lists wallets matching the query filters
// GET /api/v1/wallets?chain=&address=&label=&owner=
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.WalletFilter{
		Chain:   domain.ParseChain(q.Get("chain")),
		Address: q.Get("address"),
		Label:   q.Get("label"),
		Owner:   q.Get("owner"),
	}

	wallets, err := h.walletUC.ListWallets(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, wallets)
}

// GetWallet
// GET /api/v1/wallets/{id}
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.walletUC.GetWallet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

// UpdateWallet changes label and free form metadata
// PATCH /api/v1/wallets/{id}
func (h *WalletHandler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	var req usecase.WalletUpdate
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}

	wallet, err := h.walletUC.UpdateWallet(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}
