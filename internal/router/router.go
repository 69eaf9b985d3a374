// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"custody-service/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Handlers struct {
	Wallet      *handler.WalletHandler
	Balance     *handler.BalanceHandler
	Transaction *handler.TransactionHandler
	Incoming    *handler.IncomingHandler
	Chain       *handler.ChainHandler
}

func SetupRoutes(h Handlers, allowedOrigins []string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// ============================================
		// WALLETS
		// ============================================
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", h.Wallet.CreateWallet)
			r.Get("/", h.Wallet.ListWallets)
			r.Post("/institutional", h.Wallet.CreateInstitutionalWallet)
			r.Post("/virtual", h.Wallet.EnsureVirtualWallets)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Wallet.GetWallet)
				r.Patch("/", h.Wallet.UpdateWallet)
				r.Get("/balance", h.Balance.GetWalletBalance)
				r.Get("/incoming", h.Incoming.ListForWallet)
			})
		})

		// ============================================
		// BALANCES
		// ============================================
		r.Post("/balances/reindex", h.Balance.ReindexBalances)
		r.Get("/balances/{chain}/{address}", h.Balance.GetAddressBalance)

		// ============================================
		// TRANSACTIONS
		// ============================================
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/fee", h.Transaction.EstimateFee)
			r.Post("/send", h.Transaction.SendTransaction)
			r.Post("/refinance", h.Transaction.Refinance)
			r.Get("/{chain}/{txId}", h.Transaction.GetStatus)
		})

		// ============================================
		// INCOMING
		// ============================================
		r.Get("/incoming/{chain}/{address}", h.Incoming.ListForAddress)
		r.Get("/owners/{owner}/incoming", h.Incoming.ListForOwner)

		// ============================================
		// CHAINS
		// ============================================
		r.Get("/chains", h.Chain.Capabilities)
		r.Get("/health", h.Chain.Health)
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
