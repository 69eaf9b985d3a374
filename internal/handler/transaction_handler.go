// internal/handler/transaction_handler.go
package handler

import (
	"net/http"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type TransactionHandler struct {
	transactionUC *usecase.TransactionUsecase
	refinanceUC   *usecase.RefinanceUsecase
	logger        *zap.Logger
}

func NewTransactionHandler(
	transactionUC *usecase.TransactionUsecase,
	refinanceUC *usecase.RefinanceUsecase,
	logger *zap.Logger,
) *TransactionHandler {
	return &TransactionHandler{
		transactionUC: transactionUC,
		refinanceUC:   refinanceUC,
		logger:        logger,
	}
}

// EstimateFee
// POST /api/v1/transactions/fee
func (h *TransactionHandler) EstimateFee(w http.ResponseWriter, r *http.Request) {
	var req usecase.SendRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}

	quote, err := h.transactionUC.EstimateFee(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// SendTransaction signs and broadcasts, or broadcasts signedTx as is
// POST /api/v1/transactions/send
func (h *TransactionHandler) SendTransaction(w http.ResponseWriter, r *http.Request) {
	var req usecase.SendRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}

	result, err := h.transactionUC.Send(r.Context(), req)
	if err != nil {
		h.logger.Warn("send failed",
			zap.String("wallet_id", req.From.ID),
			zap.String("chain", string(req.From.Chain)),
			zap.Error(err))
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Refinance aggregates pool wallet liquidity into one destination
// POST /api/v1/transactions/refinance
func (h *TransactionHandler) Refinance(w http.ResponseWriter, r *http.Request) {
	var req usecase.RefinanceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, h.logger, err)
		return
	}

	result, err := h.refinanceUC.Refinance(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetStatus
// GET /api/v1/transactions/{chain}/{txId}
func (h *TransactionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	chain := domain.ParseChain(chi.URLParam(r, "chain"))
	status, err := h.transactionUC.GetStatus(r.Context(), chain, chi.URLParam(r, "txId"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
