// internal/handler/chain_handler.go
package handler

import (
	"net/http"
	"strconv"

	"custody-service/internal/usecase"

	"go.uber.org/zap"
)

type ChainHandler struct {
	capabilityUC *usecase.CapabilityUsecase
	logger       *zap.Logger
}

func NewChainHandler(capabilityUC *usecase.CapabilityUsecase, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{
		capabilityUC: capabilityUC,
		logger:       logger,
	}
}

// Capabilities lists every chain with its maturity. Live probing is opt in.
// GET /api/v1/chains?ping=true
func (h *ChainHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	ping, _ := strconv.ParseBool(r.URL.Query().Get("ping"))
	respondJSON(w, http.StatusOK, h.capabilityUC.Report(r.Context(), ping))
}

// Health pings every configured chain
// GET /api/v1/health
func (h *ChainHandler) Health(w http.ResponseWriter, r *http.Request) {
	reports := h.capabilityUC.Report(r.Context(), true)

	counts := make(map[usecase.Health]int)
	for _, rep := range reports {
		counts[rep.Health]++
	}
	status := "healthy"
	if counts[usecase.HealthDown] > 0 || counts[usecase.HealthDegraded] > 0 {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"counts": counts,
		"chains": reports,
	})
}
