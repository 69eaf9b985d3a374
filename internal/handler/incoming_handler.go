// internal/handler/incoming_handler.go
package handler

import (
	"net/http"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type IncomingHandler struct {
	incomingUC *usecase.IncomingUsecase
	logger     *zap.Logger
}

func NewIncomingHandler(incomingUC *usecase.IncomingUsecase, logger *zap.Logger) *IncomingHandler {
	return &IncomingHandler{
		incomingUC: incomingUC,
		logger:     logger,
	}
}

// ListForWallet
// GET /api/v1/wallets/{id}/incoming?limit=
func (h *IncomingHandler) ListForWallet(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, usecase.WalletRef{ID: chi.URLParam(r, "id")})
}

// ListForAddress
// GET /api/v1/incoming/{chain}/{address}?limit=
func (h *IncomingHandler) ListForAddress(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, usecase.WalletRef{
		Chain:   domain.ParseChain(chi.URLParam(r, "chain")),
		Address: chi.URLParam(r, "address"),
	})
}

func (h *IncomingHandler) list(w http.ResponseWriter, r *http.Request, ref usecase.WalletRef) {
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	txs, err := h.incomingUC.ListForWallet(r.Context(), ref, limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if txs == nil {
		txs = []domain.IncomingTx{}
	}
	respondJSON(w, http.StatusOK, txs)
}

// ListForOwner merges incoming transactions across an owner's wallets
// GET /api/v1/owners/{owner}/incoming?limit=
func (h *IncomingHandler) ListForOwner(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	txs, err := h.incomingUC.ListForOwner(r.Context(), chi.URLParam(r, "owner"), limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, txs)
}
