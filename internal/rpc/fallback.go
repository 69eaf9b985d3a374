// Package rpc holds the outbound plumbing shared by every chain adapter.
package rpc

import (
	"context"
	"fmt"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"go.uber.org/zap"
)

// Endpoints is the ordered endpoint list of one chain.
type Endpoints struct {
	chain   domain.ChainID
	urls    []string
	timeout time.Duration
	logger  *zap.Logger
}

func NewEndpoints(chain domain.ChainID, cfg domain.ChainRPCConfig, logger *zap.Logger) *Endpoints {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Endpoints{
		chain:   chain,
		urls:    cfg.Endpoints(),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (e *Endpoints) List() []string {
	out := make([]string, len(e.urls))
	copy(out, e.urls)
	return out
}

func (e *Endpoints) Primary() string {
	if len(e.urls) == 0 {
		return ""
	}
	return e.urls[0]
}

func (e *Endpoints) Timeout() time.Duration {
	return e.timeout
}

// Do runs call against each endpoint in order and returns the first success.
// It makes a single pass; when every endpoint fails the last error is
// returned as an upstream failure. Errors that another endpoint cannot fix
// (bad input, insufficient funds) stop the pass immediately.
func Do[T any](ctx context.Context, e *Endpoints, call func(ctx context.Context, endpoint string) (T, error)) (T, error) {
	var zero T
	if len(e.urls) == 0 {
		return zero, xerrors.NotImplemented("%s: no endpoints configured", e.chain)
	}

	var lastErr error
	for i, endpoint := range e.urls {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		callCtx, cancel := e.withTimeout(ctx)
		res, err := call(callCtx, endpoint)
		cancel()
		if err == nil {
			if i > 0 {
				e.logger.Debug("served by fallback endpoint",
					zap.String("chain", string(e.chain)),
					zap.String("endpoint", endpoint))
			}
			return res, nil
		}
		if xerrors.Permanent(err) {
			return zero, err
		}

		e.logger.Warn("endpoint call failed",
			zap.String("chain", string(e.chain)),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", i+1),
			zap.Error(err))
		lastErr = err
	}

	return zero, xerrors.Upstream(lastErr, "%s: all %d endpoints failed", e.chain, len(e.urls))
}

// Exec is Do for calls without a result.
func Exec(ctx context.Context, e *Endpoints, call func(ctx context.Context, endpoint string) error) error {
	_, err := Do(ctx, e, func(ctx context.Context, endpoint string) (struct{}, error) {
		return struct{}{}, call(ctx, endpoint)
	})
	return err
}

func (e *Endpoints) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Endpoints) String() string {
	return fmt.Sprintf("%s%v", e.chain, e.urls)
}
