// Package main runs the trading bot core: price feed aggregation, exit
// management for open positions, candidate entry evaluation and wallet
// mirroring, with a small operator HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"pump-trader/internal/candidates"
	"pump-trader/internal/domain"
	"pump-trader/internal/exits"
	"pump-trader/internal/mirror"
	"pump-trader/internal/observability"
	"pump-trader/internal/pricefeed"
	"pump-trader/internal/solana"
	"pump-trader/internal/storage"
	chstore "pump-trader/internal/storage/clickhouse"
	"pump-trader/internal/storage/memory"
	"pump-trader/internal/storage/migrations"
	pgstore "pump-trader/internal/storage/postgres"
	"pump-trader/internal/trading"
)

// queueSnapshotKey is the SnapshotStore key for the candidate queue.
const queueSnapshotKey = "candidate_queue"

// Bot holds all long-lived components.
type Bot struct {
	logger     *log.Logger
	metrics    *observability.Metrics
	aggregator *pricefeed.Aggregator
	engine     *exits.Engine
	queue      *candidates.Queue
	pipeline   *mirror.Pipeline
	executor   *trading.PaperExecutor
	stores     *allStores

	buyAmountSOL float64
	startedAt    time.Time

	mu       sync.Mutex
	entries  int
	lastExit exits.ExitEvent
}

// allStores holds all storage implementations.
type allStores struct {
	signatureStore storage.SignatureStore
	positionStore  storage.MirrorPositionStore
	tradeLogStore  storage.TradeLogStore
	snapshotStore  storage.SnapshotStore
	sampleArchive  *chstore.SampleStore // nil without ClickHouse
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional sample archive)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for metrics and operator API")
	wallets := flag.String("mirror-wallets", os.Getenv("MIRROR_WALLETS"), "Comma-separated wallets to mirror")
	buyAmount := flag.Float64("buy-amount", 0.5, "SOL spent per candidate entry")
	startingBalance := flag.Float64("starting-balance", 10, "Paper trading starting balance in SOL")
	entryInterval := flag.Duration("entry-interval", 5*time.Second, "Candidate entry evaluation interval")
	firstBuyOnly := flag.Bool("mirror-first-buy-only", false, "Mirror only the first buy per mint")
	minMarketCap := flag.Float64("mirror-min-mc", 0, "Minimum market cap for mirrored buys (0 = no floor)")
	maxMarketCap := flag.Float64("mirror-max-mc", 0, "Maximum market cap for mirrored buys (0 = no ceiling)")

	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("pump_trader")

	// Solana clients
	rpc := solana.NewHTTPClient(*rpcEndpoint)
	wsConfig := solana.DefaultWSConfig()
	wsConfig.OnReconnect = metrics.WSReconnects.Inc
	ws, err := solana.NewWSClient(ctx, *wsEndpoint, &wsConfig)
	if err != nil {
		logger.Fatalf("Failed to connect WebSocket: %v", err)
	}

	// Price feed
	aggOpts := []pricefeed.Option{pricefeed.WithMetrics(metrics)}
	if stores.sampleArchive != nil {
		aggOpts = append(aggOpts, pricefeed.WithArchiver(stores.sampleArchive))
	}
	aggregator := pricefeed.NewAggregator(pricefeed.DefaultConfig(), rpc, ws, aggOpts...)

	// Paper execution at the aggregator's best price
	executor := trading.NewPaperExecutor(*startingBalance, aggregator.CurrentPrice, nil)

	// Candidate queue, restored from the last snapshot
	queue := candidates.NewQueue(candidates.DefaultConfig(), nil)
	restoreQueue(ctx, stores.snapshotStore, queue, logger)
	queue.StartSweeper()

	bot := &Bot{
		logger:       logger,
		metrics:      metrics,
		aggregator:   aggregator,
		queue:        queue,
		executor:     executor,
		stores:       stores,
		buyAmountSOL: *buyAmount,
		startedAt:    time.Now(),
	}

	// Exit engine: closes hand mints back to the queue's rejection cooldown
	bot.engine = exits.NewEngine(exits.DefaultConfig(), executor,
		exits.WithRejector(queue),
		exits.WithExitObserver(bot.observeExit))

	// Mirror pipeline
	mirrorConfig := mirror.DefaultConfig()
	mirrorConfig.FirstBuyOnly = *firstBuyOnly
	mirrorConfig.MinMarketCap = *minMarketCap
	mirrorConfig.MaxMarketCap = *maxMarketCap
	mirrorConfig.AllowedWallets = splitList(*wallets)

	pipelineOpts := []mirror.Option{
		mirror.WithSnapshotStore(stores.snapshotStore),
		mirror.WithMetrics(metrics),
	}
	if len(mirrorConfig.AllowedWallets) > 0 {
		feed := mirror.NewRPCWalletFeed(rpc, mirrorConfig.AllowedWallets)
		pipelineOpts = append(pipelineOpts, mirror.WithFeed(feed))
	}
	bot.pipeline = mirror.NewPipeline(mirrorConfig, executor,
		stores.signatureStore, stores.positionStore, stores.tradeLogStore, pipelineOpts...)
	bot.pipeline.Start(ctx)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go bot.startHTTPServer(*metricsAddr)
	go bot.runEntryLoop(ctx, *entryInterval)

	sig := <-sigCh
	logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	cancel()

	// Stop order: pipeline first (flushes its snapshot), then the exit
	// engine (unsubscribes positions), then the feed and transport.
	bot.pipeline.Stop()
	bot.engine.Stop()
	aggregator.Stop()
	if err := ws.Close(); err != nil {
		logger.Printf("WebSocket close: %v", err)
	}
	queue.StopSweeper()
	saveQueue(stores.snapshotStore, queue, logger)
	if stores.sampleArchive != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := stores.sampleArchive.Close(flushCtx); err != nil {
			logger.Printf("Sample archive flush: %v", err)
		}
		flushCancel()
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			signatureStore: memory.NewSignatureStore(),
			positionStore:  memory.NewMirrorPositionStore(),
			tradeLogStore:  memory.NewTradeLogStore(),
			snapshotStore:  memory.NewSnapshotStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &allStores{
		signatureStore: pgstore.NewSignatureStore(pool),
		positionStore:  pgstore.NewMirrorPositionStore(pool),
		tradeLogStore:  pgstore.NewTradeLogStore(pool),
		snapshotStore:  pgstore.NewSnapshotStore(pool),
	}
	cleanup := func() { pool.Close() }

	// ClickHouse is optional; without it samples simply are not archived.
	if clickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.sampleArchive = chstore.NewSampleStore(chConn, 100)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// runEntryLoop periodically takes the best queued candidate and enters it.
func (b *Bot) runEntryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidate := b.queue.GetNext()
			if candidate == nil {
				continue
			}
			if err := b.enterPosition(ctx, candidate); err != nil {
				b.logger.Printf("Entry for %s failed: %v", candidate.Mint, err)
				b.queue.MarkRejected(candidate.Mint, "entry_failed")
				continue
			}
			b.queue.MarkProcessed(candidate.Mint)
		}
	}
}

// enterPosition buys a candidate, subscribes its bonding curve to the price
// feed and hands the position to the exit engine.
func (b *Bot) enterPosition(ctx context.Context, candidate *domain.QueuedCandidate) error {
	account, err := solana.DeriveBondingCurveAddress(candidate.Mint)
	if err != nil {
		return fmt.Errorf("derive bonding curve: %w", err)
	}

	unsub, err := b.aggregator.Subscribe(ctx, candidate.Mint, account, func(sample domain.PriceSample) {
		b.engine.OnSample(ctx, sample)
	})
	if err != nil {
		return fmt.Errorf("subscribe price feed: %w", err)
	}

	// The initial account fetch runs asynchronously; give the feed a
	// moment to produce a first price before the paper fill.
	price, ok := b.waitForPrice(ctx, candidate.Mint, 2*time.Second)
	if !ok {
		unsub()
		return errors.New("no price available")
	}

	result, err := b.executor.Buy(ctx, candidate.Mint, candidate.Symbol, b.buyAmountSOL, []string{"entry", candidate.SourceTag})
	if err != nil {
		unsub()
		return fmt.Errorf("buy: %w", err)
	}

	now := time.Now()
	pos := &domain.Position{
		Mint:          candidate.Mint,
		Symbol:        candidate.Symbol,
		EntryPrice:    price,
		EntryTime:     now,
		CurrentPrice:  price,
		HighestPrice:  price,
		CostBasisSOL:  result.AmountSOL,
		Quantity:      result.AmountSOL / price,
		Status:        domain.PositionOpen,
		LastNewHighAt: now,
	}

	mint := candidate.Mint
	b.aggregator.SetEntryPrice(mint, price)
	b.engine.Track(pos, func() {
		unsub()
		b.aggregator.ClearEntryPrice(mint)
	})

	b.mu.Lock()
	b.entries++
	b.mu.Unlock()

	b.logger.Printf("Entered %s (%s) at %.12f, spent %.4f SOL", candidate.Symbol, mint, price, result.AmountSOL)
	return nil
}

func (b *Bot) waitForPrice(ctx context.Context, mint string, window time.Duration) (float64, bool) {
	deadline := time.Now().Add(window)
	for {
		if price, ok := b.aggregator.CurrentPrice(mint); ok {
			return price, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return 0, false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (b *Bot) observeExit(event exits.ExitEvent) {
	b.mu.Lock()
	b.lastExit = event
	b.mu.Unlock()

	b.metrics.ExitsExecuted.Inc()
	b.metrics.ExitsByReason.WithLabelValues(event.Reason).Inc()
}

// restoreQueue loads the last saved queue snapshot, if any.
func restoreQueue(ctx context.Context, store storage.SnapshotStore, queue *candidates.Queue, logger *log.Logger) {
	var snap candidates.Snapshot
	err := store.Load(ctx, queueSnapshotKey, &snap)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Printf("Queue snapshot load failed: %v", err)
		return
	}
	queue.Restore(snap)
	logger.Printf("Restored candidate queue: %d queued", queue.Len())
}

// saveQueue persists the queue snapshot on shutdown.
func saveQueue(store storage.SnapshotStore, queue *candidates.Queue, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Save(ctx, queueSnapshotKey, queue.Snapshot()); err != nil {
		logger.Printf("Queue snapshot save failed: %v", err)
	}
}

// startHTTPServer serves metrics, health and the operator API.
func (b *Bot) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", b.handleStatus)
	mux.HandleFunc("/candidates", b.handleCandidates)
	mux.HandleFunc("/exit", b.handleExit)
	mux.HandleFunc("/trades", b.handleTrades)

	b.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		b.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status       string       `json:"status"`
	Uptime       string       `json:"uptime"`
	BalanceSOL   float64      `json:"balance_sol"`
	QueueLen     int          `json:"queue_len"`
	Entries      int          `json:"entries"`
	ExitFailures int          `json:"exit_failures"`
	LastExit     string       `json:"last_exit,omitempty"`
	Mirror       mirror.Stats `json:"mirror"`
}

func (b *Bot) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	entries := b.entries
	lastExit := b.lastExit
	b.mu.Unlock()

	resp := StatusResponse{
		Status:       "running",
		Uptime:       time.Since(b.startedAt).String(),
		BalanceSOL:   b.executor.BalanceSOL(),
		QueueLen:     b.queue.Len(),
		Entries:      entries,
		ExitFailures: b.engine.Failures(),
		Mirror:       b.pipeline.Stats(),
	}
	if lastExit.Mint != "" {
		resp.LastExit = fmt.Sprintf("%s %s %.1f%%", lastExit.Mint, lastExit.Reason, lastExit.Percent)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// candidateRequest is the POST /candidates payload from the discovery loop.
type candidateRequest struct {
	Mint          string  `json:"mint"`
	Symbol        string  `json:"symbol"`
	SourceTag     string  `json:"source_tag"`
	CurveProgress float64 `json:"curve_progress"`
	MarketCap     float64 `json:"market_cap"`
	TradeCount    int     `json:"trade_count"`
	HasSocials    bool    `json:"has_socials"`
}

func (b *Bot) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req candidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := solana.ValidateAddress(req.Mint); err != nil {
		http.Error(w, fmt.Sprintf("invalid mint: %v", err), http.StatusBadRequest)
		return
	}

	added := b.queue.Add(&domain.QueuedCandidate{
		Mint:          req.Mint,
		Symbol:        req.Symbol,
		SourceTag:     req.SourceTag,
		CurveProgress: req.CurveProgress,
		MarketCap:     req.MarketCap,
		TradeCount:    req.TradeCount,
		HasSocials:    req.HasSocials,
	})
	if added {
		b.metrics.CandidatesQueued.Inc()
	}
	b.metrics.QueueDepth.Set(float64(b.queue.Len()))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"added": added})
}

func (b *Bot) handleExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mint := r.URL.Query().Get("mint")
	if mint == "" {
		http.Error(w, "mint is required", http.StatusBadRequest)
		return
	}
	if b.engine.Position(mint) == nil {
		http.Error(w, "no open position", http.StatusNotFound)
		return
	}

	b.engine.RequestExit(mint)
	w.WriteHeader(http.StatusAccepted)
}

func (b *Bot) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := b.stores.tradeLogStore.List(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// loadEnvFile loads .env into the environment without overriding existing
// variables.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
