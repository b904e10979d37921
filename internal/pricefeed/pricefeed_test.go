package pricefeed

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"pump-trader/internal/domain"
	"pump-trader/internal/solana"
)

// curvePayload builds a base64 bonding-curve account payload.
func curvePayload(vTok, vSOL, rTok, rSOL, supply uint64, complete bool) string {
	buf := make([]byte, 49)
	binary.LittleEndian.PutUint64(buf[8:], vTok)
	binary.LittleEndian.PutUint64(buf[16:], vSOL)
	binary.LittleEndian.PutUint64(buf[24:], rTok)
	binary.LittleEndian.PutUint64(buf[32:], rSOL)
	binary.LittleEndian.PutUint64(buf[40:], supply)
	if complete {
		buf[48] = 1
	}
	return base64.StdEncoding.EncodeToString(buf)
}

type fakeWS struct {
	mu         sync.Mutex
	subscribes int
	unsubs     []int64
	updates    chan solana.AccountUpdate
	err        error
}

func newFakeWS() *fakeWS {
	return &fakeWS{updates: make(chan solana.AccountUpdate, 16)}
}

func (f *fakeWS) SubscribeAccount(ctx context.Context, account string) (<-chan solana.AccountUpdate, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	f.subscribes++
	return f.updates, int64(f.subscribes), nil
}

func (f *fakeWS) UnsubscribeAccount(ctx context.Context, subID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, subID)
	return nil
}

func (f *fakeWS) Close() error { return nil }

func (f *fakeWS) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeWS) unsubCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unsubs)
}

type fakeRPC struct {
	mu      sync.Mutex
	account *solana.AccountInfo
	err     error
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, f.err
}

func (f *fakeRPC) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRPC) GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	return nil, errors.New("not implemented")
}

type fakeSource struct {
	name   string
	sample *domain.PriceSample
	err    error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchPrice(ctx context.Context, mint string) (*domain.PriceSample, error) {
	return f.sample, f.err
}

func waitSample(t *testing.T, ch <-chan domain.PriceSample) domain.PriceSample {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample")
		return domain.PriceSample{}
	}
}

func TestSubscribePublishesDecodedSamples(t *testing.T) {
	ws := newFakeWS()
	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws)
	defer agg.Stop()

	received := make(chan domain.PriceSample, 8)
	unsub, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		received <- s
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	// 2 SOL virtual against 1e6 human tokens, zero supply falls back to 1e9.
	ws.updates <- solana.AccountUpdate{
		Data: curvePayload(1_000_000_000_000, 2_000_000_000, 0, 0, 0, false),
		Slot: 42,
	}

	sample := waitSample(t, received)
	if sample.Mint != "mint1" {
		t.Errorf("expected mint1, got %s", sample.Mint)
	}
	wantPrice := 2.0 / 1_000_000.0
	if sample.Price != wantPrice {
		t.Errorf("expected price %v, got %v", wantPrice, sample.Price)
	}
	if sample.MarketCap != wantPrice*1_000_000_000 {
		t.Errorf("expected market cap %v, got %v", wantPrice*1_000_000_000, sample.MarketCap)
	}
	if sample.Source != domain.SourceAccountSub {
		t.Errorf("expected source %s, got %s", domain.SourceAccountSub, sample.Source)
	}
	if sample.Slot != 42 {
		t.Errorf("expected slot 42, got %d", sample.Slot)
	}
}

func TestSubscribeFetchesInitialState(t *testing.T) {
	ws := newFakeWS()
	rpc := &fakeRPC{account: &solana.AccountInfo{
		Data: curvePayload(1_000_000_000_000, 3_000_000_000, 0, 0, 0, false),
	}}
	agg := NewAggregator(DefaultConfig(), rpc, ws)
	defer agg.Stop()

	received := make(chan domain.PriceSample, 1)
	unsub, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		received <- s
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	sample := waitSample(t, received)
	if sample.Price != 3.0/1_000_000.0 {
		t.Errorf("expected initial price from RPC fetch, got %v", sample.Price)
	}
}

func TestDuplicateSubscribeSharesUpstream(t *testing.T) {
	ws := newFakeWS()
	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws)
	defer agg.Stop()

	recvA := make(chan domain.PriceSample, 8)
	recvB := make(chan domain.PriceSample, 8)

	unsubA, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		recvA <- s
	})
	if err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	unsubB, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		recvB <- s
	})
	if err != nil {
		t.Fatalf("second Subscribe failed: %v", err)
	}

	if ws.subscribeCount() != 1 {
		t.Fatalf("expected 1 upstream subscription, got %d", ws.subscribeCount())
	}

	ws.updates <- solana.AccountUpdate{
		Data: curvePayload(1_000_000_000_000, 2_000_000_000, 0, 0, 0, false),
	}
	waitSample(t, recvA)
	waitSample(t, recvB)

	unsubA()
	if ws.unsubCount() != 0 {
		t.Error("upstream unsubscribed while a callback remained")
	}

	unsubB()
	if ws.unsubCount() != 1 {
		t.Errorf("expected upstream teardown after last unsubscribe, got %d unsubs", ws.unsubCount())
	}
}

func TestShortPayloadDiscarded(t *testing.T) {
	ws := newFakeWS()
	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws)
	defer agg.Stop()

	received := make(chan domain.PriceSample, 8)
	unsub, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		received <- s
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	short := base64.StdEncoding.EncodeToString(make([]byte, 20))
	ws.updates <- solana.AccountUpdate{Data: short}
	ws.updates <- solana.AccountUpdate{
		Data: curvePayload(1_000_000_000_000, 2_000_000_000, 0, 0, 0, false),
	}

	sample := waitSample(t, received)
	if sample.Price != 2.0/1_000_000.0 {
		t.Errorf("expected the valid sample only, got price %v", sample.Price)
	}
	select {
	case extra := <-received:
		t.Errorf("short payload produced a sample: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSanityBoundsSkipImplausiblePrice(t *testing.T) {
	ws := newFakeWS()
	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws)
	defer agg.Stop()

	received := make(chan domain.PriceSample, 8)
	unsub, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		received <- s
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	agg.SetEntryPrice("mint1", 2.0/1_000_000.0)

	// 6x the entry price, outside the 5x upper bound.
	ws.updates <- solana.AccountUpdate{
		Data: curvePayload(1_000_000_000_000, 12_000_000_000, 0, 0, 0, false),
	}
	// 1.5x the entry price, within bounds.
	ws.updates <- solana.AccountUpdate{
		Data: curvePayload(1_000_000_000_000, 3_000_000_000, 0, 0, 0, false),
	}

	sample := waitSample(t, received)
	if sample.Price != 3.0/1_000_000.0 {
		t.Errorf("expected the in-bounds sample, got price %v", sample.Price)
	}
}

func TestCurrentPriceRanking(t *testing.T) {
	ws := newFakeWS()
	stream := NewMemoryTradeStream()
	restA := &fakeSource{name: "dexscreener", err: errors.New("unavailable")}
	restB := &fakeSource{name: "jupiter", sample: &domain.PriceSample{Price: 0.5, Timestamp: time.Now()}}

	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws,
		WithTradeStream(stream),
		WithRESTSources(restA, restB))
	defer agg.Stop()

	// No sources know the mint yet except the REST fallbacks; the first
	// fallback fails so the second is used.
	sample, ok := agg.CurrentSample("mint1")
	if !ok {
		t.Fatal("expected a sample from REST fallback")
	}
	if sample.Price != 0.5 {
		t.Errorf("expected REST price 0.5, got %v", sample.Price)
	}
	if sample.Source != domain.SampleSource("REST:jupiter") {
		t.Errorf("expected REST:jupiter source, got %s", sample.Source)
	}

	// A fresh trade-stream sample outranks REST.
	stream.Record(domain.PriceSample{Mint: "mint1", Price: 0.7, Timestamp: time.Now()})
	sample, ok = agg.CurrentSample("mint1")
	if !ok || sample.Price != 0.7 {
		t.Fatalf("expected trade-stream price 0.7, got %v (ok=%v)", sample.Price, ok)
	}
	if sample.Source != domain.SourceTradeStream {
		t.Errorf("expected trade-stream source, got %s", sample.Source)
	}

	// A stale trade-stream sample is skipped again.
	stream.Record(domain.PriceSample{Mint: "mint1", Price: 0.7, Timestamp: time.Now().Add(-10 * time.Second)})
	sample, ok = agg.CurrentSample("mint1")
	if !ok || sample.Price != 0.5 {
		t.Fatalf("expected stale stream to fall back to REST, got %v (ok=%v)", sample.Price, ok)
	}
}

func TestCurrentPricePrefersLiveOnChainSample(t *testing.T) {
	ws := newFakeWS()
	stream := NewMemoryTradeStream()
	stream.Record(domain.PriceSample{Mint: "mint1", Price: 0.7, Timestamp: time.Now()})

	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws, WithTradeStream(stream))
	defer agg.Stop()

	received := make(chan domain.PriceSample, 8)
	unsub, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		received <- s
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	ws.updates <- solana.AccountUpdate{
		Data: curvePayload(1_000_000_000_000, 2_000_000_000, 0, 0, 0, false),
	}
	waitSample(t, received)

	price, ok := agg.CurrentPrice("mint1")
	if !ok {
		t.Fatal("expected a current price")
	}
	if price != 2.0/1_000_000.0 {
		t.Errorf("expected on-chain price to outrank trade stream, got %v", price)
	}
}

func TestCurrentPriceFailsOverWhenStreamEnds(t *testing.T) {
	ws := newFakeWS()
	stream := NewMemoryTradeStream()

	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws, WithTradeStream(stream))

	received := make(chan domain.PriceSample, 8)
	unsub, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(s domain.PriceSample) {
		received <- s
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	ws.updates <- solana.AccountUpdate{
		Data: curvePayload(1_000_000_000_000, 2_000_000_000, 0, 0, 0, false),
	}
	waitSample(t, received)

	// Upstream connection is gone for good.
	close(ws.updates)
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := agg.CurrentPrice("mint1"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("aggregator kept serving the dead on-chain sample")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stream.Record(domain.PriceSample{Mint: "mint1", Price: 0.9, Timestamp: time.Now()})
	price, ok := agg.CurrentPrice("mint1")
	if !ok || price != 0.9 {
		t.Fatalf("expected failover to trade stream, got %v (ok=%v)", price, ok)
	}
}

func TestSubscribeErrorSurfaced(t *testing.T) {
	ws := newFakeWS()
	ws.err = errors.New("connection refused")
	agg := NewAggregator(DefaultConfig(), &fakeRPC{}, ws)
	defer agg.Stop()

	if _, err := agg.Subscribe(context.Background(), "mint1", "curve1", func(domain.PriceSample) {}); err == nil {
		t.Fatal("expected subscribe error to be surfaced")
	}
}
