// Package mirror replicates trades observed on tracked wallets into the
// bot's own portfolio, proportionally sized, with deduplication, bounded
// batch concurrency and coalesced state persistence.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"pump-trader/internal/debounce"
	"pump-trader/internal/domain"
	"pump-trader/internal/idhash"
	"pump-trader/internal/observability"
	"pump-trader/internal/storage"
	"pump-trader/internal/trading"
)

// WalletTransactionFeed yields a batch of newly observed transactions per
// poll. Implementations track their own cursor per wallet.
type WalletTransactionFeed interface {
	Poll(ctx context.Context) ([]domain.WalletTransaction, error)
}

// Config holds pipeline tuning parameters.
type Config struct {
	// MaxStaleness rejects observed transactions older than this.
	MaxStaleness time.Duration

	// BatchSize caps how many transactions one drain processes in parallel.
	BatchSize int

	// SaveWindow is the coalescing window for state snapshot writes.
	SaveWindow time.Duration

	// PollInterval is how often the wallet feed is polled.
	PollInterval time.Duration

	// AllowedWallets restricts mirrored buys to these source wallets.
	// Empty means all tracked wallets.
	AllowedWallets []string

	// MinMarketCap and MaxMarketCap bound mirrored buys by market cap at
	// trade. Zero disables the respective bound. Transactions without a
	// known market cap pass.
	MinMarketCap float64
	MaxMarketCap float64

	// FirstBuyOnly skips mirrored buys into mints the bot already holds.
	FirstBuyOnly bool
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxStaleness: 30 * time.Second,
		BatchSize:    10,
		SaveWindow:   2 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

// Stats aggregates pipeline outcomes.
type Stats struct {
	Ingested int `json:"ingested"`
	Filtered int `json:"filtered"`
	Buys     int `json:"buys"`
	Sells    int `json:"sells"`
	Failures int `json:"failures"`
}

// snapshotKey is the SnapshotStore key for the pipeline state snapshot.
const snapshotKey = "mirror_state"

// stateSnapshot is the crash-safe state written by the coalescing saver.
type stateSnapshot struct {
	Stats     Stats     `json:"stats"`
	SavedAt   time.Time `json:"saved_at"`
	StartedAt time.Time `json:"started_at"`
}

// Pipeline ingests observed wallet transactions and mirrors them.
type Pipeline struct {
	config    Config
	executor  trading.Executor
	feed      WalletTransactionFeed
	sigs      storage.SignatureStore
	positions storage.MirrorPositionStore
	trades    storage.TradeLogStore
	snapshots storage.SnapshotStore
	metrics   *observability.Metrics
	logger    *log.Logger
	saver     *debounce.Saver
	now       func() time.Time

	mu        sync.Mutex
	queue     []domain.QueuedTransaction
	draining  bool
	startedAt time.Time
	stats     Stats
	stopped   bool

	pollCancel context.CancelFunc
	pollDone   chan struct{}
	drainWG    sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFeed attaches a wallet transaction feed polled on PollInterval.
func WithFeed(feed WalletTransactionFeed) Option {
	return func(p *Pipeline) { p.feed = feed }
}

// WithSnapshotStore attaches the snapshot sink for coalesced state saves.
func WithSnapshotStore(s storage.SnapshotStore) Option {
	return func(p *Pipeline) { p.snapshots = s }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a mirror pipeline. It is idle until Start.
func NewPipeline(config Config, executor trading.Executor, sigs storage.SignatureStore,
	positions storage.MirrorPositionStore, trades storage.TradeLogStore, opts ...Option) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	p := &Pipeline{
		config:    config,
		executor:  executor,
		sigs:      sigs,
		positions: positions,
		trades:    trades,
		logger:    log.New(os.Stdout, "[mirror] ", log.LstdFlags),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.saver = debounce.NewSaver(config.SaveWindow, p.saveSnapshot)
	return p
}

// Start records the cutoff time and begins polling the feed, if any.
// Transactions observed before Start are never mirrored.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	p.startedAt = p.now()
	p.mu.Unlock()

	if p.feed == nil {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.pollCancel = cancel
	p.pollDone = make(chan struct{})
	go p.pollLoop(pollCtx)
}

func (p *Pipeline) pollLoop(ctx context.Context) {
	defer close(p.pollDone)
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			txs, err := p.feed.Poll(ctx)
			if err != nil {
				p.logger.Printf("Feed poll failed: %v", err)
				continue
			}
			for _, tx := range txs {
				p.Enqueue(ctx, tx)
			}
		}
	}
}

// Enqueue applies the ingestion filter and buffers the transaction for the
// next drain. All rejection paths mark the signature processed so a
// late-arriving duplicate never re-triggers work.
func (p *Pipeline) Enqueue(ctx context.Context, tx domain.WalletTransaction) {
	processed, err := p.sigs.IsProcessed(ctx, tx.Signature)
	if err != nil {
		p.logger.Printf("Signature lookup for %s failed: %v", tx.Signature, err)
		return
	}
	if processed {
		return
	}

	now := p.now()
	p.mu.Lock()
	startedAt := p.startedAt
	p.mu.Unlock()

	if !startedAt.IsZero() && tx.BlockTime.Before(startedAt) {
		p.markProcessed(ctx, tx.Signature)
		p.filtered("pre_start")
		return
	}
	if now.Sub(tx.BlockTime) > p.config.MaxStaleness {
		p.markProcessed(ctx, tx.Signature)
		p.filtered("stale")
		return
	}

	p.markProcessed(ctx, tx.Signature)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, domain.QueuedTransaction{Tx: tx, ReceivedAt: now})
	p.stats.Ingested++
	depth := len(p.queue)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.MirrorTxIngested.Inc()
		p.metrics.MirrorQueueDepth.Set(float64(depth))
	}

	p.maybeDrain(ctx)
}

func (p *Pipeline) markProcessed(ctx context.Context, signature string) {
	if err := p.sigs.MarkProcessed(ctx, signature); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		p.logger.Printf("Mark processed %s failed: %v", signature, err)
	}
}

func (p *Pipeline) filtered(reason string) {
	p.mu.Lock()
	p.stats.Filtered++
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.MirrorTxFiltered.WithLabelValues(reason).Inc()
	}
}

// maybeDrain starts a drain goroutine unless one is already running.
// The single-flight flag caps concurrency at one drain; each drain
// processes up to BatchSize transactions in parallel and loops while the
// queue is non-empty, so bursts are absorbed without waiting for the next
// poll tick.
func (p *Pipeline) maybeDrain(ctx context.Context) {
	p.mu.Lock()
	if p.draining || p.stopped || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.drainWG.Add(1)
	p.mu.Unlock()

	go p.drainLoop(ctx)
}

func (p *Pipeline) drainLoop(ctx context.Context) {
	defer p.drainWG.Done()
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.draining = false
			p.mu.Unlock()
			return
		}
		n := p.config.BatchSize
		if n > len(p.queue) {
			n = len(p.queue)
		}
		batch := make([]domain.QueuedTransaction, n)
		copy(batch, p.queue[:n])
		p.queue = p.queue[n:]
		depth := len(p.queue)
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.DrainBatchSize.Observe(float64(n))
			p.metrics.MirrorQueueDepth.Set(float64(depth))
		}

		var wg sync.WaitGroup
		for _, qtx := range batch {
			wg.Add(1)
			go func(qtx domain.QueuedTransaction) {
				defer wg.Done()
				p.process(ctx, qtx.Tx)
			}(qtx)
		}
		wg.Wait()
	}
}

// process mirrors one observed transaction. A failure here is recorded on
// the trade record and counted; it never aborts sibling work.
func (p *Pipeline) process(ctx context.Context, tx domain.WalletTransaction) {
	switch tx.Side {
	case domain.TradeSideBuy:
		p.processBuy(ctx, tx)
	case domain.TradeSideSell:
		p.processSell(ctx, tx)
	default:
		p.logger.Printf("Unknown trade side %q on %s", tx.Side, tx.Signature)
		p.filtered("unknown_side")
	}
}

// walletAllowed reports whether tx's source wallet passes the allow-list.
// An empty list allows every wallet.
func (p *Pipeline) walletAllowed(wallet string) bool {
	if len(p.config.AllowedWallets) == 0 {
		return true
	}
	for _, allowed := range p.config.AllowedWallets {
		if allowed == wallet {
			return true
		}
	}
	return false
}

func (p *Pipeline) processBuy(ctx context.Context, tx domain.WalletTransaction) {
	if !p.walletAllowed(tx.Wallet) {
		p.filtered("wallet_not_allowed")
		return
	}
	if tx.MarketCap > 0 {
		if p.config.MinMarketCap > 0 && tx.MarketCap < p.config.MinMarketCap {
			p.filtered("market_cap_floor")
			return
		}
		if p.config.MaxMarketCap > 0 && tx.MarketCap > p.config.MaxMarketCap {
			p.filtered("market_cap_ceiling")
			return
		}
	}

	existing, err := p.positions.Get(ctx, tx.Mint)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Printf("Position lookup for %s failed: %v", tx.Mint, err)
		return
	}
	if p.config.FirstBuyOnly && existing != nil {
		p.filtered("first_buy_only")
		return
	}

	trade := &domain.MirrorTrade{
		TradeID:         idhash.ComputeMirrorTradeID(tx.Signature, tx.Mint, tx.Side),
		SourceSignature: tx.Signature,
		SourceWallet:    tx.Wallet,
		Mint:            tx.Mint,
		Symbol:          tx.Symbol,
		Side:            tx.Side,
		SOLAmount:       tx.SOLAmount,
		EntryMarketCap:  tx.MarketCap,
		ExecutedAt:      p.now(),
	}

	tags := []string{"mirror", tx.Wallet}
	result, err := p.executor.Buy(ctx, tx.Mint, tx.Symbol, tx.SOLAmount, tags)
	if err != nil {
		p.recordFailure(ctx, trade, err)
		return
	}
	if result != nil && !result.Success {
		p.recordFailure(ctx, trade, fmt.Errorf("%s", result.Error))
		return
	}
	trade.Success = true

	pos := p.mergePosition(existing, tx)
	if err := p.positions.Upsert(ctx, pos); err != nil {
		p.logger.Printf("Upsert position %s failed: %v", tx.Mint, err)
	}
	p.recordTrade(ctx, trade, domain.TradeSideBuy)
}

// mergePosition DCA-merges a new buy into an existing mirrored position.
// The entry market cap becomes the cost-weighted average of the old entry
// and the new buy.
func (p *Pipeline) mergePosition(existing *domain.MirrorPosition, tx domain.WalletTransaction) *domain.MirrorPosition {
	if existing == nil {
		return &domain.MirrorPosition{
			Mint:           tx.Mint,
			Symbol:         tx.Symbol,
			SourceWallet:   tx.Wallet,
			EntryTime:      p.now(),
			EntryMarketCap: tx.MarketCap,
			CostBasisSOL:   tx.SOLAmount,
		}
	}

	merged := *existing
	newCost := existing.CostBasisSOL + tx.SOLAmount
	if newCost > 0 {
		merged.EntryMarketCap = (existing.EntryMarketCap*existing.CostBasisSOL + tx.MarketCap*tx.SOLAmount) / newCost
	}
	merged.CostBasisSOL = newCost
	return &merged
}

func (p *Pipeline) processSell(ctx context.Context, tx domain.WalletTransaction) {
	pos, err := p.positions.Get(ctx, tx.Mint)
	if errors.Is(err, storage.ErrNotFound) {
		// Never create short positions.
		p.filtered("no_position")
		return
	}
	if err != nil {
		p.logger.Printf("Position lookup for %s failed: %v", tx.Mint, err)
		return
	}

	percent := SellPercent(tx.SOLAmount, pos.CostBasisSOL, tx.IsFullExit)

	trade := &domain.MirrorTrade{
		TradeID:         idhash.ComputeMirrorTradeID(tx.Signature, tx.Mint, tx.Side),
		SourceSignature: tx.Signature,
		SourceWallet:    tx.Wallet,
		Mint:            tx.Mint,
		Symbol:          tx.Symbol,
		Side:            tx.Side,
		SOLAmount:       tx.SOLAmount,
		SellPercent:     percent,
		EntryMarketCap:  pos.EntryMarketCap,
		ExitMarketCap:   tx.MarketCap,
		ExecutedAt:      p.now(),
	}

	result, err := p.executor.Sell(ctx, tx.Mint, tx.Symbol, percent, "mirror", 0)
	if err != nil {
		p.recordFailure(ctx, trade, err)
		return
	}
	if result == nil {
		// Nothing held locally; drop without an audit record.
		p.filtered("nothing_held")
		return
	}
	if !result.Success {
		p.recordFailure(ctx, trade, fmt.Errorf("%s", result.Error))
		return
	}
	trade.Success = true
	soldCost := pos.CostBasisSOL * percent / 100
	trade.RealizedPnLSOL = result.AmountSOL - soldCost

	if percent >= 100 {
		if err := p.positions.Delete(ctx, tx.Mint); err != nil {
			p.logger.Printf("Delete position %s failed: %v", tx.Mint, err)
		}
	} else {
		remaining := *pos
		remaining.CostBasisSOL = pos.CostBasisSOL - soldCost
		if err := p.positions.Upsert(ctx, &remaining); err != nil {
			p.logger.Printf("Upsert position %s failed: %v", tx.Mint, err)
		}
	}
	p.recordTrade(ctx, trade, domain.TradeSideSell)
}

// SellPercent translates a source wallet's observed sale proceeds into the
// percentage of the local position to liquidate. A tagged full exit sells
// 100% regardless of proportional math.
func SellPercent(theirSOL, ourCostBasis float64, fullExit bool) float64 {
	if fullExit {
		return 100
	}
	if ourCostBasis <= 0 {
		return 100
	}
	pct := theirSOL / ourCostBasis * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func (p *Pipeline) recordTrade(ctx context.Context, trade *domain.MirrorTrade, side string) {
	if err := p.trades.Append(ctx, trade); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		p.logger.Printf("Append trade %s failed: %v", trade.TradeID, err)
	}

	p.mu.Lock()
	if side == domain.TradeSideBuy {
		p.stats.Buys++
	} else {
		p.stats.Sells++
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.MirrorTrades.WithLabelValues(side).Inc()
	}
	p.saver.Schedule()
}

func (p *Pipeline) recordFailure(ctx context.Context, trade *domain.MirrorTrade, cause error) {
	trade.Success = false
	trade.Error = cause.Error()
	p.logger.Printf("Mirror %s of %s failed: %v", trade.Side, trade.Mint, cause)

	if err := p.trades.Append(ctx, trade); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		p.logger.Printf("Append trade %s failed: %v", trade.TradeID, err)
	}

	p.mu.Lock()
	p.stats.Failures++
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.MirrorFailures.Inc()
	}
	p.saver.Schedule()
}

// saveSnapshot is the coalesced save target. Multiple mutations within the
// save window produce exactly one write.
func (p *Pipeline) saveSnapshot() {
	if p.snapshots == nil {
		return
	}

	p.mu.Lock()
	snap := stateSnapshot{
		Stats:     p.stats,
		SavedAt:   p.now(),
		StartedAt: p.startedAt,
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.snapshots.Save(ctx, snapshotKey, snap); err != nil {
		p.logger.Printf("Snapshot save failed: %v", err)
		return
	}
	if p.metrics != nil {
		p.metrics.SnapshotWrites.Inc()
	}
}

// Stats returns a copy of the aggregate counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// QueueLen returns the current ingestion buffer depth.
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop halts polling, waits for the in-flight drain to finish and flushes
// the pending snapshot synchronously.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.pollCancel != nil {
		p.pollCancel()
		<-p.pollDone
	}
	p.drainWG.Wait()
	p.saver.Stop()
}
