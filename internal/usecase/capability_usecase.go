// internal/usecase/capability_usecase.go
package usecase

import (
	"context"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Health string

const (
	HealthUp       Health = "up"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
	HealthUnknown  Health = "unknown"
)

// ChainReport is the maturity and live health of one chain.
type ChainReport struct {
	Chain        domain.ChainID  `json:"chain"`
	Symbol       string          `json:"symbol"`
	Decimals     int             `json:"decimals"`
	Maturity     domain.Maturity `json:"maturity"`
	SignedTxOnly bool            `json:"signedTxOnly"`
	Assets       []string        `json:"assets,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Health       Health          `json:"health"`
	Endpoint     string          `json:"endpoint,omitempty"`
	Error        string          `json:"error,omitempty"`
	LatencyMs    int64           `json:"latencyMs,omitempty"`
}

type CapabilityUsecase struct {
	chainRegistry *chains.Registry
	pingTimeout   time.Duration
	logger        *zap.Logger
}

func NewCapabilityUsecase(chainRegistry *chains.Registry, pingTimeout time.Duration, logger *zap.Logger) *CapabilityUsecase {
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	return &CapabilityUsecase{
		chainRegistry: chainRegistry,
		pingTimeout:   pingTimeout,
		logger:        logger,
	}
}

// Report describes every known chain. With ping set each registered chain
// is health checked in parallel.
func (uc *CapabilityUsecase) Report(ctx context.Context, ping bool) []ChainReport {
	ids := domain.AllChains()
	reports := make([]ChainReport, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		info, _ := domain.InfoFor(id)
		reports[i] = ChainReport{
			Chain:    id,
			Symbol:   info.Symbol,
			Decimals: info.Decimals,
			Maturity: domain.MaturityNotImplemented,
			Health:   HealthUnknown,
		}

		adapter, err := uc.chainRegistry.Get(id)
		if err != nil {
			continue
		}
		caps := adapter.Capabilities()
		reports[i].Maturity = caps.Maturity
		reports[i].SignedTxOnly = caps.SignedTxOnly
		reports[i].Assets = caps.Assets
		reports[i].Notes = caps.Notes
		if len(adapter.Endpoints()) == 0 || adapter.Endpoints()[0] == "" {
			reports[i].Maturity = domain.MaturityPlaceholder
			continue
		}

		if ping {
			g.Go(func() error {
				uc.ping(gctx, adapter, &reports[i])
				return nil
			})
		}
	}
	_ = g.Wait()
	return reports
}

// ping checks the primary endpoint and, when it fails, one fallback.
func (uc *CapabilityUsecase) ping(ctx context.Context, adapter domain.Adapter, report *ChainReport) {
	endpoints := adapter.Endpoints()

	start := time.Now()
	err := uc.pingOne(ctx, adapter, endpoints[0])
	if err == nil {
		report.Health = HealthUp
		report.Endpoint = endpoints[0]
		report.LatencyMs = time.Since(start).Milliseconds()
		return
	}
	report.Error = err.Error()

	if len(endpoints) > 1 {
		start = time.Now()
		if ferr := uc.pingOne(ctx, adapter, endpoints[1]); ferr == nil {
			report.Health = HealthDegraded
			report.Endpoint = endpoints[1]
			report.LatencyMs = time.Since(start).Milliseconds()
			return
		}
	}

	report.Health = HealthDown
	uc.logger.Warn("chain health ping failed",
		zap.String("chain", string(adapter.Chain())),
		zap.Error(err))
}

func (uc *CapabilityUsecase) pingOne(ctx context.Context, adapter domain.Adapter, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, uc.pingTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- adapter.Ping(ctx, endpoint) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
