package exits

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"pump-trader/internal/domain"
)

// recordingExecutor captures sells and optionally fails them.
type recordingExecutor struct {
	mu    sync.Mutex
	sells []sellCall
	err   error
	block chan struct{} // when set, Sell waits until closed
}

type sellCall struct {
	mint    string
	percent float64
	reason  string
}

func (r *recordingExecutor) Buy(context.Context, string, string, float64, []string) (*domain.TradeResult, error) {
	return nil, errors.New("not used")
}

func (r *recordingExecutor) Sell(_ context.Context, mint, symbol string, percent float64, reason string, _ float64) (*domain.TradeResult, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.sells = append(r.sells, sellCall{mint: mint, percent: percent, reason: reason})
	return &domain.TradeResult{
		Mint:       mint,
		Symbol:     symbol,
		Side:       domain.TradeSideSell,
		PercentOut: percent,
		Price:      1.0,
		Success:    true,
	}, nil
}

func (r *recordingExecutor) calls() []sellCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sellCall, len(r.sells))
	copy(out, r.sells)
	return out
}

type recordingRejector struct {
	mu    sync.Mutex
	mints []string
}

func (r *recordingRejector) MarkRejected(mint, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mints = append(r.mints, mint)
}

func newTestEngine(exec *recordingExecutor, opts ...Option) (*Engine, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	opts = append(opts, WithLogger(log.New(io.Discard, "", 0)))
	e := NewEngine(DefaultConfig(), exec, opts...)
	e.now = func() time.Time { return now }
	return e, &now
}

func openPosition(mint string, entry float64, at time.Time) *domain.Position {
	return &domain.Position{
		Mint:         mint,
		Symbol:       "TOK",
		EntryPrice:   entry,
		EntryTime:    at,
		CostBasisSOL: 1,
		Quantity:     1000,
		Status:       domain.PositionOpen,
	}
}

func sample(mint string, price float64) domain.PriceSample {
	return domain.PriceSample{Mint: mint, Price: price, Source: domain.SourceAccountSub}
}

func TestEngine_StopLossBeatsKillSwitch(t *testing.T) {
	exec := &recordingExecutor{}
	e, now := newTestEngine(exec)
	e.Track(openPosition("m", 1.0, *now), nil)

	// -20% with a -15% stop, past the kill-switch age: both rules match,
	// stop-loss is checked first and must win.
	e.config.StopLossPct = -15
	*now = now.Add(time.Hour)
	e.OnSample(context.Background(), sample("m", 0.8))

	calls := exec.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d sells, want 1", len(calls))
	}
	if calls[0].reason != domain.ExitReasonStopLoss {
		t.Errorf("reason = %s, want stop_loss (checked before time rules)", calls[0].reason)
	}
	if e.State("m") != StateClosed {
		t.Errorf("state = %s, want closed", e.State("m"))
	}
}

func TestEngine_KillSwitchOnFlatOldPosition(t *testing.T) {
	exec := &recordingExecutor{}
	e, now := newTestEngine(exec)
	pos := openPosition("m", 1.0, *now)
	e.Track(pos, nil)

	// Keep printing slight new highs so the no-new-high rule stays quiet,
	// then go flat past the kill-switch age.
	*now = now.Add(31 * time.Minute)
	e.OnSample(context.Background(), sample("m", 1.0))

	calls := exec.calls()
	if len(calls) != 1 || calls[0].reason != domain.ExitReasonTimeStop {
		t.Fatalf("expected one time_stop sell, got %+v", calls)
	}
}

func TestEngine_NoNewHighTimeStop(t *testing.T) {
	exec := &recordingExecutor{}
	e, now := newTestEngine(exec)
	e.Track(openPosition("m", 1.0, *now), nil)

	// Losing and stale for longer than the no-new-high window
	*now = now.Add(11 * time.Minute)
	e.OnSample(context.Background(), sample("m", 0.9))

	calls := exec.calls()
	if len(calls) != 1 || calls[0].reason != domain.ExitReasonTimeStop {
		t.Fatalf("expected time_stop, got %+v", calls)
	}
}

func TestEngine_TakeProfitLadderToRunnerExit(t *testing.T) {
	exec := &recordingExecutor{}
	rejector := &recordingRejector{}
	unsubscribed := false

	e, _ := newTestEngine(exec, WithRejector(rejector))
	e.Track(openPosition("m", 1.0, time.Unix(1_700_000_000, 0)), func() { unsubscribed = true })

	ctx := context.Background()

	// +25% >= TP1 threshold 20%
	e.OnSample(ctx, sample("m", 1.25))
	if got := e.State("m"); got != StateTP1Hit {
		t.Fatalf("state after TP1 tick = %s, want tp1_hit", got)
	}

	// +40% >= TP2 threshold 35%; the remainder is now the runner
	e.OnSample(ctx, sample("m", 1.40))
	if got := e.State("m"); got != StateRunner {
		t.Fatalf("state after TP2 tick = %s, want runner", got)
	}

	// 12% drop from the 1.40 high >= 10% runner trail
	e.OnSample(ctx, sample("m", 1.40*0.88))
	if got := e.State("m"); got != StateClosed {
		t.Fatalf("state after runner tick = %s, want closed", got)
	}

	calls := exec.calls()
	if len(calls) != 3 {
		t.Fatalf("got %d sells, want 3", len(calls))
	}
	wantReasons := []string{domain.ExitReasonTP1, domain.ExitReasonTP2, domain.ExitReasonRunnerExit}
	for i, want := range wantReasons {
		if calls[i].reason != want {
			t.Errorf("sell %d reason = %s, want %s", i, calls[i].reason, want)
		}
	}
	if calls[0].percent != 50 || calls[2].percent != 100 {
		t.Errorf("unexpected sell percents: %+v", calls)
	}

	if !unsubscribed {
		t.Error("full close must unsubscribe the price feed")
	}
	if len(rejector.mints) != 1 || rejector.mints[0] != "m" {
		t.Errorf("rejector calls = %v, want [m]", rejector.mints)
	}
}

func TestEngine_TPNotRecordedTwice(t *testing.T) {
	exec := &recordingExecutor{}
	e, _ := newTestEngine(exec)
	e.Track(openPosition("m", 1.0, time.Unix(1_700_000_000, 0)), nil)

	ctx := context.Background()
	e.OnSample(ctx, sample("m", 1.25))
	e.OnSample(ctx, sample("m", 1.26)) // still above TP1, below TP2

	calls := exec.calls()
	if len(calls) != 1 {
		t.Fatalf("TP1 fired %d times, want 1", len(calls))
	}
}

func TestEngine_ClosedIsTerminal(t *testing.T) {
	exec := &recordingExecutor{}
	e, now := newTestEngine(exec)
	e.Track(openPosition("m", 1.0, *now), nil)

	ctx := context.Background()
	e.OnSample(ctx, sample("m", 0.5)) // stop loss, closes

	before := len(exec.calls())
	e.OnSample(ctx, sample("m", 0.1))
	e.OnSample(ctx, sample("m", 2.0))

	if got := len(exec.calls()); got != before {
		t.Errorf("closed position produced %d further sells", got-before)
	}
	if e.State("m") != StateClosed {
		t.Errorf("state = %s, want closed", e.State("m"))
	}
}

func TestEngine_ReentrancyGuardDropsConcurrentTicks(t *testing.T) {
	exec := &recordingExecutor{block: make(chan struct{})}
	e, _ := newTestEngine(exec)
	e.Track(openPosition("m", 1.0, time.Unix(1_700_000_000, 0)), nil)

	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.OnSample(ctx, sample("m", 0.5)) // blocks inside executor
	}()

	// Wait until the first tick holds the in-exit flag
	deadline := time.Now().Add(2 * time.Second)
	for {
		e.mu.Lock()
		held := e.inExit["m"]
		e.mu.Unlock()
		if held {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("engine never picked up first tick")
		}
		time.Sleep(time.Millisecond)
	}

	// Second tick for the same mint must be dropped, not queued
	e.OnSample(ctx, sample("m", 0.4))

	close(exec.block)
	<-done

	if got := len(exec.calls()); got != 1 {
		t.Errorf("got %d sells, want 1 (concurrent tick dropped)", got)
	}
}

func TestEngine_ManualExitBeforePriceRules(t *testing.T) {
	exec := &recordingExecutor{}
	e, _ := newTestEngine(exec)
	e.Track(openPosition("m", 1.0, time.Unix(1_700_000_000, 0)), nil)

	e.RequestExit("m")
	// A price well above TP1 would normally fire tp1 first
	e.OnSample(context.Background(), sample("m", 1.30))

	calls := exec.calls()
	if len(calls) != 1 || calls[0].reason != domain.ExitReasonManual {
		t.Fatalf("expected manual exit, got %+v", calls)
	}
}

func TestEngine_ExecutorFailureCountedAndRetriable(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("rpc down")}
	e, _ := newTestEngine(exec)
	e.Track(openPosition("m", 1.0, time.Unix(1_700_000_000, 0)), nil)

	ctx := context.Background()
	e.OnSample(ctx, sample("m", 0.5))

	if e.Failures() != 1 {
		t.Errorf("failures = %d, want 1", e.Failures())
	}
	if e.State("m") != StateOpen {
		t.Errorf("state = %s, want open after failed exit", e.State("m"))
	}

	// Executor recovers, next tick succeeds
	exec.mu.Lock()
	exec.err = nil
	exec.mu.Unlock()
	e.OnSample(ctx, sample("m", 0.5))
	if e.State("m") != StateClosed {
		t.Errorf("state = %s, want closed after retry", e.State("m"))
	}
}
