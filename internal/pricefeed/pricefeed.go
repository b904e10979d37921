// Package pricefeed aggregates token prices from on-chain account
// subscriptions, a secondary trade-event stream and ranked REST fallbacks,
// publishing the most trustworthy current sample per mint.
package pricefeed

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"pump-trader/internal/curve"
	"pump-trader/internal/domain"
	"pump-trader/internal/observability"
	"pump-trader/internal/solana"
)

// PriceSource is a REST fallback provider. Implemented once per external
// provider; the aggregator only needs this narrow fetch capability.
type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context, mint string) (*domain.PriceSample, error)
}

// TradeStream exposes the last sample seen on a secondary trade-event
// stream. Samples older than the configured freshness window are ignored.
type TradeStream interface {
	LastSample(mint string) (*domain.PriceSample, bool)
}

// Archiver receives every accepted sample for offline analysis.
type Archiver interface {
	Archive(ctx context.Context, sample domain.PriceSample) error
}

// UpdateFunc is called with every accepted sample for a subscribed mint.
type UpdateFunc func(sample domain.PriceSample)

// Config holds aggregator tuning parameters. The sanity ratios and
// staleness windows are empirically tuned; treat them as opaque constants.
type Config struct {
	// TradeStreamMaxAge is how fresh a trade-stream sample must be to
	// outrank REST fallbacks.
	TradeStreamMaxAge time.Duration

	// SanityUpperRatio and SanityLowerRatio bound an accepted sample's
	// price relative to the position's entry price. Samples outside the
	// bounds are logged and skipped.
	SanityUpperRatio float64
	SanityLowerRatio float64

	// FetchTimeout bounds the initial account fetch and REST fallback calls.
	FetchTimeout time.Duration

	// RefreshTimeout bounds short market-cap refresh fetches.
	RefreshTimeout time.Duration
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		TradeStreamMaxAge: 5 * time.Second,
		SanityUpperRatio:  5.0,
		SanityLowerRatio:  0.2,
		FetchTimeout:      10 * time.Second,
		RefreshTimeout:    2 * time.Second,
	}
}

// subscription is the per-mint record: one upstream WS subscription fanned
// out to an observer list of callbacks.
type subscription struct {
	mint     string
	account  string
	subID    int64
	cancel   context.CancelFunc
	done     chan struct{}
	handlers map[int64]UpdateFunc
	last     *domain.PriceSample
	active   bool
}

// Aggregator owns account subscriptions and price fan-out for all
// monitored mints.
type Aggregator struct {
	config  Config
	rpc     solana.RPCClient
	ws      solana.WSClient
	stream  TradeStream
	rest    []PriceSource
	archive Archiver
	metrics *observability.Metrics
	logger  *log.Logger

	mu      sync.Mutex
	subs    map[string]*subscription
	entries map[string]float64 // entry price per mint, for sanity bounds
	nextCB  int64
	stopped bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTradeStream attaches the secondary trade-event stream.
func WithTradeStream(s TradeStream) Option {
	return func(a *Aggregator) { a.stream = s }
}

// WithRESTSources sets the ordered REST fallback list.
func WithRESTSources(sources ...PriceSource) Option {
	return func(a *Aggregator) { a.rest = sources }
}

// WithArchiver attaches an accepted-sample archive sink.
func WithArchiver(ar Archiver) Option {
	return func(a *Aggregator) { a.archive = ar }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates a price feed aggregator.
func NewAggregator(config Config, rpc solana.RPCClient, ws solana.WSClient, opts ...Option) *Aggregator {
	a := &Aggregator{
		config:  config,
		rpc:     rpc,
		ws:      ws,
		logger:  log.New(os.Stdout, "[pricefeed] ", log.LstdFlags),
		subs:    make(map[string]*subscription),
		entries: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subscribe registers an update callback for a mint. The first subscriber
// opens the upstream account subscription and fetches the current account
// state once via RPC; later subscribers join the observer list. Returns an
// unsubscribe closure that removes the callback and tears down the stream
// when the observer list becomes empty.
func (a *Aggregator) Subscribe(ctx context.Context, mint, account string, fn UpdateFunc) (func(), error) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil, fmt.Errorf("aggregator is stopped")
	}
	if sub, ok := a.subs[mint]; ok {
		a.nextCB++
		id := a.nextCB
		sub.handlers[id] = fn
		a.mu.Unlock()
		return func() { a.removeHandler(mint, id) }, nil
	}
	a.mu.Unlock()

	updates, subID, err := a.ws.SubscribeAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("subscribe account %s: %w", account, err)
	}

	readerCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		mint:     mint,
		account:  account,
		subID:    subID,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: make(map[int64]UpdateFunc),
		active:   true,
	}

	a.mu.Lock()
	if existing, ok := a.subs[mint]; ok {
		// Lost the race to another first subscriber. Join its list and
		// drop our duplicate upstream subscription.
		a.nextCB++
		id := a.nextCB
		existing.handlers[id] = fn
		a.mu.Unlock()
		cancel()
		_ = a.ws.UnsubscribeAccount(context.Background(), subID)
		return func() { a.removeHandler(mint, id) }, nil
	}
	a.nextCB++
	id := a.nextCB
	sub.handlers[id] = fn
	a.subs[mint] = sub
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.ActiveSubs.Inc()
	}

	go a.readLoop(readerCtx, sub, updates)
	go a.fetchInitialState(sub)

	return func() { a.removeHandler(mint, id) }, nil
}

// removeHandler drops one callback; the last removal tears down the
// upstream subscription.
func (a *Aggregator) removeHandler(mint string, id int64) {
	a.mu.Lock()
	sub, ok := a.subs[mint]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(sub.handlers, id)
	if len(sub.handlers) > 0 {
		a.mu.Unlock()
		return
	}
	delete(a.subs, mint)
	delete(a.entries, mint)
	a.mu.Unlock()

	a.teardown(sub)
}

func (a *Aggregator) teardown(sub *subscription) {
	sub.cancel()
	if err := a.ws.UnsubscribeAccount(context.Background(), sub.subID); err != nil {
		a.logger.Printf("Unsubscribe %s failed: %v", sub.mint, err)
	}
	if a.metrics != nil {
		a.metrics.ActiveSubs.Dec()
	}
}

// fetchInitialState pulls the current account state once, because the
// subscription protocol only delivers changes.
func (a *Aggregator) fetchInitialState(sub *subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.FetchTimeout)
	defer cancel()

	info, err := a.rpc.GetAccountInfo(ctx, sub.account)
	if err != nil {
		a.logger.Printf("Initial fetch for %s failed: %v", sub.mint, err)
		return
	}
	if info == nil || info.Data == "" {
		return
	}
	a.handlePayload(sub.mint, info.Data, 0)
}

// readLoop consumes account-change notifications until the subscription
// is torn down or the channel closes.
func (a *Aggregator) readLoop(ctx context.Context, sub *subscription, updates <-chan solana.AccountUpdate) {
	defer func() {
		a.mu.Lock()
		sub.active = false
		a.mu.Unlock()
		close(sub.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.handlePayload(sub.mint, update.Data, update.Slot)
		}
	}
}

// handlePayload decodes one raw account payload and publishes the
// resulting sample if it passes sanity checks.
func (a *Aggregator) handlePayload(mint, data string, slot int64) {
	state, err := curve.DecodeBase64(data)
	if err != nil {
		if a.metrics != nil {
			a.metrics.DecodeErrors.Inc()
		}
		a.logger.Printf("Decode failed for %s: %v", mint, err)
		return
	}

	sample := domain.PriceSample{
		Mint:      mint,
		Price:     state.Price(),
		MarketCap: state.MarketCap(),
		Timestamp: time.Now(),
		Source:    domain.SourceAccountSub,
		Slot:      slot,
	}
	a.publish(sample)
}

// publish runs sanity bounds, records the sample as current and fans it
// out to the mint's observer list.
func (a *Aggregator) publish(sample domain.PriceSample) {
	if sample.Price <= 0 {
		a.reject(sample, "non_positive_price")
		return
	}
	if !a.withinSanityBounds(sample.Mint, sample.Price) {
		a.reject(sample, "sanity_bounds")
		a.logger.Printf("Skipping implausible price for %s: %.12f (source %s)",
			sample.Mint, sample.Price, sample.Source)
		return
	}

	a.mu.Lock()
	sub, ok := a.subs[sample.Mint]
	if !ok {
		a.mu.Unlock()
		return
	}
	sub.last = &sample
	handlers := make([]UpdateFunc, 0, len(sub.handlers))
	for _, fn := range sub.handlers {
		handlers = append(handlers, fn)
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.SamplesAccepted.WithLabelValues(sample.Source.String()).Inc()
		a.metrics.LastSampleAt.Set(float64(sample.Timestamp.Unix()))
	}
	if a.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.RefreshTimeout)
		if err := a.archive.Archive(ctx, sample); err != nil {
			a.logger.Printf("Archive sample for %s failed: %v", sample.Mint, err)
		}
		cancel()
	}
	for _, fn := range handlers {
		fn(sample)
	}
}

func (a *Aggregator) reject(sample domain.PriceSample, reason string) {
	if a.metrics != nil {
		a.metrics.SamplesRejected.WithLabelValues(reason).Inc()
	}
}

// withinSanityBounds checks the sample price against the recorded entry
// price for the mint. Without an entry price every positive price passes.
func (a *Aggregator) withinSanityBounds(mint string, price float64) bool {
	a.mu.Lock()
	entry, ok := a.entries[mint]
	a.mu.Unlock()
	if !ok || entry <= 0 {
		return true
	}
	ratio := price / entry
	return ratio <= a.config.SanityUpperRatio && ratio >= a.config.SanityLowerRatio
}

// SetEntryPrice records the entry price used for sanity bounds on the
// mint's samples. Call when a position opens.
func (a *Aggregator) SetEntryPrice(mint string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[mint] = price
}

// ClearEntryPrice removes the sanity reference for a mint.
func (a *Aggregator) ClearEntryPrice(mint string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, mint)
}

// CurrentPrice returns the best available price for a mint, consulting
// sources from highest to lowest trust: live on-chain sample, fresh
// trade-stream sample, then ordered REST fallbacks. Satisfies
// trading.PriceLookup.
func (a *Aggregator) CurrentPrice(mint string) (float64, bool) {
	sample, ok := a.CurrentSample(mint)
	if !ok {
		return 0, false
	}
	return sample.Price, true
}

// CurrentSample returns the best available sample for a mint.
func (a *Aggregator) CurrentSample(mint string) (domain.PriceSample, bool) {
	a.mu.Lock()
	sub, ok := a.subs[mint]
	var last *domain.PriceSample
	if ok && sub.active && sub.last != nil {
		s := *sub.last
		last = &s
	}
	a.mu.Unlock()

	if last != nil && last.Price > 0 {
		return *last, true
	}

	if a.stream != nil {
		if s, ok := a.stream.LastSample(mint); ok && s.Price > 0 &&
			s.Age(time.Now()) < a.config.TradeStreamMaxAge {
			if a.metrics != nil && last != nil {
				a.metrics.SourceFailovers.Inc()
			}
			return *s, true
		}
	}

	for _, src := range a.rest {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), a.config.FetchTimeout)
		s, err := src.FetchPrice(ctx, mint)
		cancel()
		if a.metrics != nil {
			a.metrics.RESTFetchLatency.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
		}
		if err != nil || s == nil || s.Price <= 0 {
			continue
		}
		if a.metrics != nil {
			a.metrics.SourceFailovers.Inc()
		}
		sample := *s
		sample.Mint = mint
		if sample.Source == "" {
			sample.Source = domain.SampleSource(string(domain.SourceRESTPrefix) + ":" + src.Name())
		}
		return sample, true
	}

	return domain.PriceSample{}, false
}

// RefreshMarketCap fetches the current market cap for a mint with a short
// timeout, falling back to the last on-chain sample.
func (a *Aggregator) RefreshMarketCap(mint, account string) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.RefreshTimeout)
	defer cancel()

	info, err := a.rpc.GetAccountInfo(ctx, account)
	if err == nil && info != nil && info.Data != "" {
		if state, derr := curve.DecodeBase64(info.Data); derr == nil {
			return state.MarketCap(), true
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if sub, ok := a.subs[mint]; ok && sub.last != nil {
		return sub.last.MarketCap, true
	}
	return 0, false
}

// Stop synchronously tears down every active subscription.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.stopped = true
	subs := make([]*subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		subs = append(subs, sub)
	}
	a.subs = make(map[string]*subscription)
	a.entries = make(map[string]float64)
	a.mu.Unlock()

	for _, sub := range subs {
		a.teardown(sub)
		<-sub.done
	}
}
