// internal/handler/balance_handler.go
package handler

import (
	"net/http"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"
	"custody-service/internal/xerrors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxReindexBatch caps one reindex request.
const maxReindexBatch = 500

type BalanceHandler struct {
	balanceUC *usecase.BalanceUsecase
	logger    *zap.Logger
}

func NewBalanceHandler(balanceUC *usecase.BalanceUsecase, logger *zap.Logger) *BalanceHandler {
	return &BalanceHandler{
		balanceUC: balanceUC,
		logger:    logger,
	}
}

// GetWalletBalance reads a registered wallet's balance from the chain
// GET /api/v1/wallets/{id}/balance?asset=
func (h *BalanceHandler) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	ref := usecase.WalletRef{ID: chi.URLParam(r, "id")}
	h.balance(w, r, ref)
}

// GetAddressBalance reads any address, registered or not
// GET /api/v1/balances/{chain}/{address}?asset=
func (h *BalanceHandler) GetAddressBalance(w http.ResponseWriter, r *http.Request) {
	ref := usecase.WalletRef{
		Chain:   domain.ParseChain(chi.URLParam(r, "chain")),
		Address: chi.URLParam(r, "address"),
	}
	h.balance(w, r, ref)
}

func (h *BalanceHandler) balance(w http.ResponseWriter, r *http.Request, ref usecase.WalletRef) {
	res, err := h.balanceUC.GetBalance(r.Context(), ref, r.URL.Query().Get("asset"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ReindexBalances refreshes cached balances for a batch of references
// POST /api/v1/balances/reindex
func (h *BalanceHandler) ReindexBalances(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallets []usecase.BalanceRequest `json:"wallets"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if len(req.Wallets) == 0 {
		respondError(w, h.logger, xerrors.BadRequest("wallets array cannot be empty"))
		return
	}
	if len(req.Wallets) > maxReindexBatch {
		respondError(w, h.logger, xerrors.BadRequest("at most %d wallets per request", maxReindexBatch))
		return
	}

	results := h.balanceUC.ReindexBalances(r.Context(), req.Wallets)
	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	h.logger.Info("balances reindexed",
		zap.Int("requested", len(results)),
		zap.Int("failed", failed))

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results":       results,
		"success_count": len(results) - failed,
		"failed_count":  failed,
	})
}
