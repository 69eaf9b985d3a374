// internal/worker/incoming_monitor.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/events"
	"custody-service/internal/repository"
	"custody-service/internal/rpc"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultScanWindow = 20

type MonitorConfig struct {
	Interval      time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	IncomingLimit int
}

func (c *MonitorConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 15 * time.Minute
	}
	if c.IncomingLimit <= 0 {
		c.IncomingLimit = 25
	}
}

// backoffState pauses one chain after rate limit errors.
type backoffState struct {
	nextAttemptAt time.Time
	backoff       time.Duration
}

// IncomingMonitor polls every registered wallet for new inbound payments
// and records each one once.
type IncomingMonitor struct {
	chainRegistry *chains.Registry
	index         repository.WalletIndex
	store         repository.IncomingStore
	publisher     events.Publisher
	cfg           MonitorConfig
	logger        *zap.Logger
	now           func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	states  map[domain.ChainID]*backoffState
	cron    *cron.Cron
}

func NewIncomingMonitor(
	chainRegistry *chains.Registry,
	index repository.WalletIndex,
	store repository.IncomingStore,
	publisher events.Publisher,
	cfg MonitorConfig,
	logger *zap.Logger,
) *IncomingMonitor {
	cfg.setDefaults()
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &IncomingMonitor{
		chainRegistry: chainRegistry,
		index:         index,
		store:         store,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger.With(zap.String("worker", "incoming_monitor")),
		now:           time.Now,
		states:        make(map[domain.ChainID]*backoffState),
	}
}

// Start schedules a poll every interval. A cycle still running when the
// next one is due causes that one to be skipped.
func (m *IncomingMonitor) Start(ctx context.Context) {
	m.cron = cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(zap.NewStdLog(m.logger))),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	m.cron.Schedule(cron.Every(m.cfg.Interval), cron.FuncJob(func() {
		m.RunOnce(ctx)
	}))
	m.cron.Start()
	m.logger.Info("incoming monitor started", zap.Duration("interval", m.cfg.Interval))
}

// Stop waits for a running cycle to finish.
func (m *IncomingMonitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info("incoming monitor stopped")
}

// RunOnce polls every chain once and reports whether it ran.
func (m *IncomingMonitor) RunOnce(ctx context.Context) bool {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("previous cycle still running, skipping")
		return false
	}
	defer m.running.Store(false)

	wallets, err := m.index.List(ctx, domain.WalletFilter{})
	if err != nil {
		m.logger.Error("failed to list wallets", zap.Error(err))
		return true
	}
	byChain := make(map[domain.ChainID][]domain.Wallet)
	for _, w := range wallets {
		byChain[w.Chain] = append(byChain[w.Chain], w)
	}

	var g errgroup.Group
	for chain, group := range byChain {
		if !m.ready(chain) {
			m.logger.Debug("chain backing off", zap.String("chain", string(chain)))
			continue
		}
		g.Go(func() error {
			err := m.pollChain(ctx, chain, group)
			m.observe(chain, err)
			return nil
		})
	}
	_ = g.Wait()
	return true
}

// ready reports whether chain may be polled now.
func (m *IncomingMonitor) ready(chain domain.ChainID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[chain]
	return !ok || !m.now().Before(st.nextAttemptAt)
}

// observe updates the backoff of chain after a poll. Only rate limit errors
// extend it; success clears it.
func (m *IncomingMonitor) observe(chain domain.ChainID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[chain]
	if !ok {
		st = &backoffState{}
		m.states[chain] = st
	}

	switch {
	case err == nil:
		st.backoff = 0
		st.nextAttemptAt = time.Time{}
	case rpc.IsRateLimited(err):
		next := m.cfg.BackoffBase
		if st.backoff > 0 {
			next = st.backoff * 2
		}
		next = min(next, m.cfg.BackoffCap)
		next = max(next, m.cfg.Interval)
		st.backoff = next
		st.nextAttemptAt = m.now().Add(next)
		m.logger.Warn("chain rate limited, backing off",
			zap.String("chain", string(chain)),
			zap.Duration("backoff", next),
			zap.Error(err))
	default:
		m.logger.Error("chain poll failed",
			zap.String("chain", string(chain)),
			zap.Error(err))
	}
}

// Backoff returns the current pause of chain and when it ends.
func (m *IncomingMonitor) Backoff(chain domain.ChainID) (time.Duration, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[chain]
	if !ok {
		return 0, time.Time{}
	}
	return st.backoff, st.nextAttemptAt
}

// pollChain returns the first rate limit error it meets. Other per wallet
// errors do not stop the chain; they are reported once every wallet has been
// tried. The block cursor only moves after the whole window is stored.
func (m *IncomingMonitor) pollChain(ctx context.Context, chain domain.ChainID, wallets []domain.Wallet) error {
	adapter, err := m.chainRegistry.Get(chain)
	if err != nil {
		m.logger.Debug("no adapter for chain", zap.String("chain", string(chain)))
		return nil
	}

	byAddress := make(map[string]domain.Wallet, len(wallets))
	for _, w := range wallets {
		byAddress[domain.NormalizeAddress(chain, w.Address)] = w
	}

	var (
		found    []domain.IncomingTx
		scanned  *blockRange
		failed   int
		firstErr error
	)
	if scanner, ok := adapter.(domain.BlockScanner); ok && chain.IsEVM() {
		found, scanned, err = m.scanBlocks(ctx, chain, scanner, byAddress)
		if err != nil {
			return err
		}
	} else {
		for _, w := range wallets {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			txs, err := adapter.ListIncoming(ctx, w.Address, m.cfg.IncomingLimit)
			if rpc.IsRateLimited(err) {
				return err
			}
			if err != nil {
				m.logger.Warn("failed to list incoming",
					zap.String("chain", string(chain)),
					zap.String("address", w.Address),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				failed++
				continue
			}
			found = append(found, txs...)
		}
	}

	if err := m.record(ctx, chain, found, byAddress); err != nil {
		return err
	}
	if scanned != nil {
		if err := m.store.SetCursor(ctx, chain, scanned.to); err != nil {
			return fmt.Errorf("failed to store cursor: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d wallets failed: %w", failed, len(wallets), firstErr)
	}
	return nil
}

type blockRange struct {
	from, to uint64
}

// scanBlocks walks the next window of blocks after the stored cursor. A
// chain without a cursor starts one window behind the head. It returns a nil
// range when there is nothing new to scan.
func (m *IncomingMonitor) scanBlocks(
	ctx context.Context,
	chain domain.ChainID,
	scanner domain.BlockScanner,
	byAddress map[string]domain.Wallet,
) ([]domain.IncomingTx, *blockRange, error) {
	window := uint64(defaultScanWindow)
	if w, ok := scanner.(interface{ ScanWindow() uint64 }); ok && w.ScanWindow() > 0 {
		window = w.ScanWindow()
	}

	head, err := scanner.LatestBlock(ctx)
	if err != nil {
		return nil, nil, err
	}
	cursor, ok, err := m.store.Cursor(ctx, chain)
	if err != nil {
		return nil, nil, err
	}

	var from uint64
	switch {
	case ok:
		from = cursor + 1
	case head+1 > window:
		from = head + 1 - window
	}
	if from > head {
		return nil, nil, nil
	}
	to := min(from+window-1, head)

	addresses := make([]string, 0, len(byAddress))
	for _, w := range byAddress {
		addresses = append(addresses, w.Address)
	}
	txs, err := scanner.ScanIncoming(ctx, addresses, from, to)
	if err != nil {
		return nil, nil, err
	}
	m.logger.Debug("blocks scanned",
		zap.String("chain", string(chain)),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("found", len(txs)))
	return txs, &blockRange{from: from, to: to}, nil
}

// record stores txs, links them to their wallet and publishes the new ones.
// Every tx is attempted; the first store failure is returned.
func (m *IncomingMonitor) record(
	ctx context.Context,
	chain domain.ChainID,
	txs []domain.IncomingTx,
	byAddress map[string]domain.Wallet,
) error {
	var (
		fresh    []domain.IncomingTx
		firstErr error
	)
	for _, tx := range txs {
		tx.Chain = chain
		tx = tx.WithID()
		if w, ok := byAddress[domain.NormalizeAddress(chain, tx.Address)]; ok {
			tx.WalletID = w.ID
			tx.Owner = w.Metadata.VirtualOwner
		}
		inserted, err := m.store.Record(ctx, tx)
		if err != nil {
			m.logger.Error("failed to record incoming tx",
				zap.String("chain", string(chain)),
				zap.String("tx_hash", tx.TxHash),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to record %s: %w", tx.TxHash, err)
			}
			continue
		}
		if inserted {
			fresh = append(fresh, tx)
		}
	}

	if len(fresh) > 0 {
		m.logger.Info("incoming payments detected",
			zap.String("chain", string(chain)),
			zap.Int("count", len(fresh)))
		if err := m.publisher.PublishIncoming(ctx, fresh...); err != nil {
			m.logger.Warn("failed to publish incoming payments", zap.Error(err))
		}
	}
	return firstErr
}
