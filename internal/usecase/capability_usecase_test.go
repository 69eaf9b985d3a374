package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// slowPing never answers within the ping timeout.
type slowPing struct {
	*fakeAdapter
}

func (s slowPing) Ping(ctx context.Context, endpoint string) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestCapabilityUsecase_Report(t *testing.T) {
	registry := chains.NewRegistry()

	up := newFakeAdapter(domain.ChainEthereum)

	degraded := newFakeAdapter(domain.ChainBitcoin)
	degraded.pingErrs["http://primary"] = errors.New("connection refused")

	down := newFakeAdapter(domain.ChainSolana)
	down.pingErrs["http://primary"] = errors.New("503")
	down.pingErrs["http://fallback"] = errors.New("503")

	placeholder := newFakeAdapter(domain.ChainPolkadot)
	placeholder.endpoints = nil

	partial := newFakeAdapter(domain.ChainCardano)
	partial.caps = domain.Capabilities{Maturity: domain.MaturityPartial, SignedTxOnly: true, Assets: []string{"ADA"}}

	slow := slowPing{newFakeAdapter(domain.ChainTron)}
	slow.endpoints = []string{"http://primary"}

	for _, a := range []domain.Adapter{up, degraded, down, placeholder, partial, slow} {
		registry.Register(a)
	}

	uc := NewCapabilityUsecase(registry, 50*time.Millisecond, zap.NewNop())
	reports := uc.Report(context.Background(), true)
	require.Len(t, reports, len(domain.AllChains()))

	byChain := make(map[domain.ChainID]ChainReport)
	for _, r := range reports {
		byChain[r.Chain] = r
	}

	assert.Equal(t, HealthUp, byChain[domain.ChainEthereum].Health)
	assert.Equal(t, "http://primary", byChain[domain.ChainEthereum].Endpoint)

	assert.Equal(t, HealthDegraded, byChain[domain.ChainBitcoin].Health)
	assert.Equal(t, "http://fallback", byChain[domain.ChainBitcoin].Endpoint)
	assert.Contains(t, byChain[domain.ChainBitcoin].Error, "connection refused")

	assert.Equal(t, HealthDown, byChain[domain.ChainSolana].Health)
	assert.Equal(t, HealthDown, byChain[domain.ChainTron].Health, "timed out ping")

	assert.Equal(t, domain.MaturityPlaceholder, byChain[domain.ChainPolkadot].Maturity)
	assert.Equal(t, HealthUnknown, byChain[domain.ChainPolkadot].Health)

	assert.Equal(t, domain.MaturityPartial, byChain[domain.ChainCardano].Maturity)
	assert.True(t, byChain[domain.ChainCardano].SignedTxOnly)

	assert.Equal(t, domain.MaturityNotImplemented, byChain[domain.ChainRipple].Maturity)
	assert.Equal(t, "XRP", byChain[domain.ChainRipple].Symbol)
}

func TestCapabilityUsecase_ReportWithoutPing(t *testing.T) {
	registry := chains.NewRegistry()
	a := newFakeAdapter(domain.ChainEthereum)
	a.pingErrs["http://primary"] = errors.New("must not be called")
	registry.Register(a)

	reports := NewCapabilityUsecase(registry, time.Second, zap.NewNop()).Report(context.Background(), false)
	for _, r := range reports {
		if r.Chain == domain.ChainEthereum {
			assert.Equal(t, domain.MaturityFull, r.Maturity)
			assert.Equal(t, HealthUnknown, r.Health)
		}
	}
}
