// Package exits evaluates stop-loss, take-profit, time-stop and trailing-stop
// rules for open positions on every accepted price sample.
package exits

import (
	"context"
	"log"
	"sync"
	"time"

	"pump-trader/internal/domain"
	"pump-trader/internal/trading"
)

// Derived machine states for a tracked position. A position that has
// realized both take-profit levels rests as the runner until its trailing
// stop closes it.
const (
	StateOpen   = "open"
	StateTP1Hit = "tp1_hit"
	StateRunner = "runner"
	StateClosed = "closed"
)

// TP levels recorded on positions.
const (
	tp1Level = 1
	tp2Level = 2
)

// Config holds exit rule thresholds. Values are empirically tuned and
// carried as-is.
type Config struct {
	// StopLossPct closes 100% when unrealized PnL% falls to or below it.
	// Negative, e.g. -30.
	StopLossPct float64
	// NoNewHighWindow closes a losing position that has not printed a new
	// high for this long.
	NoNewHighWindow time.Duration
	// KillSwitchAfter closes a flat-or-losing position older than this.
	KillSwitchAfter time.Duration
	// TP1Pct / TP2Pct are take-profit trigger thresholds in PnL%.
	TP1Pct float64
	TP2Pct float64
	// TP1SellPct / TP2SellPct are the portion sold at each level.
	TP1SellPct float64
	TP2SellPct float64
	// RunnerTrailPct closes the remainder when price drops this percent
	// from the highest observed price, once TP2 is recorded.
	RunnerTrailPct float64
	// RejectReason tags the candidate cooldown created after a full exit.
	RejectReason string
}

// DefaultConfig returns exit rule defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPct:     -30,
		NoNewHighWindow: 10 * time.Minute,
		KillSwitchAfter: 30 * time.Minute,
		TP1Pct:          20,
		TP2Pct:          35,
		TP1SellPct:      50,
		TP2SellPct:      50,
		RunnerTrailPct:  10,
		RejectReason:    "recently_exited",
	}
}

// Rejector receives mints after a full exit so they are not immediately
// re-entered. Satisfied by candidates.Queue.
type Rejector interface {
	MarkRejected(mint, reason string)
}

// ExitEvent describes one executed exit, for observers.
type ExitEvent struct {
	Mint    string
	Reason  string
	Percent float64
	Price   float64
	PnLPct  float64
}

// Engine drives per-position exit logic. It is the sole writer of position
// status and TP flags; price fields are updated from incoming samples.
type Engine struct {
	config   Config
	executor trading.Executor
	rejector Rejector
	logger   *log.Logger
	now      func() time.Time
	onExit   func(ExitEvent)

	mu        sync.Mutex
	positions map[string]*domain.Position
	unsubs    map[string]func()
	inExit    map[string]bool
	manual    map[string]bool

	failures int
}

// Option configures the Engine.
type Option func(*Engine)

// WithRejector wires the candidate rejection sink.
func WithRejector(r Rejector) Option {
	return func(e *Engine) { e.rejector = r }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithExitObserver registers a callback invoked after every executed exit.
func WithExitObserver(fn func(ExitEvent)) Option {
	return func(e *Engine) { e.onExit = fn }
}

// NewEngine creates an exit engine.
func NewEngine(config Config, executor trading.Executor, opts ...Option) *Engine {
	e := &Engine{
		config:    config,
		executor:  executor,
		logger:    log.New(log.Writer(), "[exits] ", log.LstdFlags),
		now:       time.Now,
		positions: make(map[string]*domain.Position),
		unsubs:    make(map[string]func()),
		inExit:    make(map[string]bool),
		manual:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Track registers an open position. unsubscribe tears down the position's
// price feed and is invoked when the position fully closes.
func (e *Engine) Track(pos *domain.Position, unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pos.Status == "" {
		pos.Status = domain.PositionOpen
	}
	if pos.HighestPrice == 0 {
		pos.HighestPrice = pos.EntryPrice
	}
	if pos.LastNewHighAt.IsZero() {
		pos.LastNewHighAt = pos.EntryTime
	}
	e.positions[pos.Mint] = pos
	if unsubscribe != nil {
		e.unsubs[pos.Mint] = unsubscribe
	}
}

// Position returns a copy of the tracked position, or nil.
func (e *Engine) Position(mint string) *domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[mint]
	if !ok {
		return nil
	}
	posCopy := *pos
	return &posCopy
}

// State returns the derived machine state for a mint.
func (e *Engine) State(mint string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[mint]
	if !ok {
		return ""
	}
	return deriveState(pos)
}

func deriveState(pos *domain.Position) string {
	switch {
	case pos.Status == domain.PositionClosed:
		return StateClosed
	case pos.TakeProfitHit(tp2Level):
		return StateRunner
	case pos.TakeProfitHit(tp1Level):
		return StateTP1Hit
	default:
		return StateOpen
	}
}

// RequestExit flags a position for manual close on the next tick.
func (e *Engine) RequestExit(mint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manual[mint] = true
}

// Failures returns the aggregate count of failed exit executions.
func (e *Engine) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// Stop unsubscribes every tracked position's price feed.
func (e *Engine) Stop() {
	e.mu.Lock()
	unsubs := make([]func(), 0, len(e.unsubs))
	for _, u := range e.unsubs {
		unsubs = append(unsubs, u)
	}
	e.unsubs = make(map[string]func())
	e.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// exitAction is one decided rule outcome.
type exitAction struct {
	reason   string
	percent  float64
	tpLevel  int // 0 when not a take-profit
	closeAll bool
}

// OnSample is the tick entry point. Rules are evaluated in fixed priority
// order and the first match wins; a tick arriving while an exit for the same
// mint is executing is dropped.
func (e *Engine) OnSample(ctx context.Context, sample domain.PriceSample) {
	e.mu.Lock()

	pos, ok := e.positions[sample.Mint]
	if !ok || pos.Status == domain.PositionClosed {
		e.mu.Unlock()
		return
	}
	if e.inExit[sample.Mint] {
		e.mu.Unlock()
		return
	}

	now := e.now()
	pos.ObservePrice(sample.Price, now)

	action := e.decideLocked(pos, now)
	if action == nil {
		e.mu.Unlock()
		return
	}

	// Re-entrancy guard: set before executing, cleared on the way out
	e.inExit[sample.Mint] = true
	posCopy := *pos
	e.mu.Unlock()

	e.execute(ctx, &posCopy, action)
}

// decideLocked evaluates rules in priority order. Caller holds the lock.
func (e *Engine) decideLocked(pos *domain.Position, now time.Time) *exitAction {
	// Manual exit requests outrank price-driven rules
	if e.manual[pos.Mint] {
		delete(e.manual, pos.Mint)
		return &exitAction{reason: domain.ExitReasonManual, percent: 100, closeAll: true}
	}

	pnl := pos.PnLPercent()
	age := now.Sub(pos.EntryTime)

	// 1. Hard stop-loss
	if pnl <= e.config.StopLossPct {
		return &exitAction{reason: domain.ExitReasonStopLoss, percent: 100, closeAll: true}
	}

	// 2. No-higher-high time stop
	if pnl < 0 && now.Sub(pos.LastNewHighAt) >= e.config.NoNewHighWindow {
		return &exitAction{reason: domain.ExitReasonTimeStop, percent: 100, closeAll: true}
	}

	// 3. Kill switch
	if age >= e.config.KillSwitchAfter && pnl <= 0 {
		return &exitAction{reason: domain.ExitReasonTimeStop, percent: 100, closeAll: true}
	}

	// 4. TP1
	if pnl >= e.config.TP1Pct && !pos.TakeProfitHit(tp1Level) {
		return &exitAction{reason: domain.ExitReasonTP1, percent: e.config.TP1SellPct, tpLevel: tp1Level}
	}

	// 5. TP2
	if pnl >= e.config.TP2Pct && !pos.TakeProfitHit(tp2Level) {
		return &exitAction{reason: domain.ExitReasonTP2, percent: e.config.TP2SellPct, tpLevel: tp2Level}
	}

	// 6. Runner trailing stop, only once TP2 is recorded
	if pos.TakeProfitHit(tp2Level) && pos.DropFromHighPercent() >= e.config.RunnerTrailPct {
		return &exitAction{reason: domain.ExitReasonRunnerExit, percent: 100, closeAll: true}
	}

	return nil
}

// execute performs the sell and applies state changes.
func (e *Engine) execute(ctx context.Context, pos *domain.Position, action *exitAction) {
	defer func() {
		e.mu.Lock()
		delete(e.inExit, pos.Mint)
		e.mu.Unlock()
	}()

	result, err := e.executor.Sell(ctx, pos.Mint, pos.Symbol, action.percent, action.reason, 0)
	if err != nil {
		e.mu.Lock()
		e.failures++
		e.mu.Unlock()
		e.logger.Printf("exit %s (%s %.0f%%) failed: %v", pos.Mint, action.reason, action.percent, err)
		return
	}
	if result == nil {
		// Nothing held; treat as already closed
		e.closePosition(pos.Mint, action.reason)
		return
	}

	e.mu.Lock()
	tracked, ok := e.positions[pos.Mint]
	if !ok {
		e.mu.Unlock()
		return
	}
	if action.tpLevel > 0 {
		tracked.RecordTakeProfit(action.tpLevel)
		tracked.Status = domain.PositionPartiallyClosed
		tracked.Quantity *= 1 - action.percent/100
		tracked.CostBasisSOL *= 1 - action.percent/100
	}
	pnl := tracked.PnLPercent()
	e.mu.Unlock()

	e.logger.Printf("exit %s: %s %.0f%% @ %.9f (pnl %.1f%%)", pos.Mint, action.reason, action.percent, result.Price, pnl)

	if e.onExit != nil {
		e.onExit(ExitEvent{
			Mint:    pos.Mint,
			Reason:  action.reason,
			Percent: action.percent,
			Price:   result.Price,
			PnLPct:  pnl,
		})
	}

	if action.closeAll {
		e.closePosition(pos.Mint, action.reason)
	}
}

// closePosition marks the position closed, tears down its feed and hands the
// mint to the rejection cooldown. Terminal: no further mutation occurs.
func (e *Engine) closePosition(mint, reason string) {
	e.mu.Lock()
	pos, ok := e.positions[mint]
	if !ok || pos.Status == domain.PositionClosed {
		e.mu.Unlock()
		return
	}
	pos.Status = domain.PositionClosed
	pos.Quantity = 0
	unsub := e.unsubs[mint]
	delete(e.unsubs, mint)
	delete(e.manual, mint)
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if e.rejector != nil {
		e.rejector.MarkRejected(mint, e.config.RejectReason)
	}
}
