package mirror

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"pump-trader/internal/curve"
	"pump-trader/internal/domain"
	"pump-trader/internal/solana"
)

// tradeEventSize is the minimum length of a pump.fun trade event emitted
// in program data logs: 8-byte discriminator, 32-byte mint, u64 solAmount,
// u64 tokenAmount, bool isBuy, 32-byte user, i64 timestamp, u64 virtual
// SOL reserves, u64 virtual token reserves.
const tradeEventSize = 113

const programDataPrefix = "Program data: "

// RPCWalletFeed polls tracked wallets for new transactions over Solana
// RPC and parses trade events out of their logs.
type RPCWalletFeed struct {
	rpc     solana.RPCClient
	wallets []string
	limit   int
	logger  *log.Logger

	mu      sync.Mutex
	cursors map[string]string // wallet -> newest seen signature
}

// NewRPCWalletFeed creates a feed tracking the given wallets.
func NewRPCWalletFeed(rpc solana.RPCClient, wallets []string) *RPCWalletFeed {
	return &RPCWalletFeed{
		rpc:     rpc,
		wallets: wallets,
		limit:   25,
		logger:  log.New(os.Stdout, "[walletfeed] ", log.LstdFlags),
		cursors: make(map[string]string),
	}
}

// Poll returns trade transactions observed on the tracked wallets since
// the previous poll. A wallet that fails to poll is skipped; the rest of
// the batch is still returned.
func (f *RPCWalletFeed) Poll(ctx context.Context) ([]domain.WalletTransaction, error) {
	var out []domain.WalletTransaction
	for _, wallet := range f.wallets {
		txs, err := f.pollWallet(ctx, wallet)
		if err != nil {
			f.logger.Printf("Poll wallet %s failed: %v", wallet, err)
			continue
		}
		out = append(out, txs...)
	}
	return out, nil
}

func (f *RPCWalletFeed) pollWallet(ctx context.Context, wallet string) ([]domain.WalletTransaction, error) {
	f.mu.Lock()
	until := f.cursors[wallet]
	f.mu.Unlock()

	opts := &solana.SignaturesOpts{Limit: f.limit}
	if until != "" {
		opts.Until = until
	}
	sigs, err := f.rpc.GetSignaturesForAddress(ctx, wallet, opts)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	// Signatures arrive newest first. Advance the cursor, then process
	// oldest first so enqueue order matches chain order.
	f.mu.Lock()
	f.cursors[wallet] = sigs[0].Signature
	f.mu.Unlock()

	first := until == ""
	if first {
		// First poll only establishes the cursor; history is never mirrored.
		return nil, nil
	}

	var out []domain.WalletTransaction
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if sig.Err != nil {
			continue
		}
		tx, err := f.rpc.GetTransaction(ctx, sig.Signature)
		if err != nil {
			f.logger.Printf("Get transaction %s failed: %v", sig.Signature, err)
			continue
		}
		if tx == nil || tx.Meta == nil {
			continue
		}
		wtx, ok := ParseTradeLogs(tx.Meta.LogMessages, wallet)
		if !ok {
			continue
		}
		wtx.Signature = sig.Signature
		if tx.BlockTime > 0 {
			wtx.BlockTime = time.Unix(tx.BlockTime, 0)
		} else {
			wtx.BlockTime = time.Now()
		}
		out = append(out, wtx)
	}
	return out, nil
}

// ParseTradeLogs extracts a trade event for the given wallet from
// transaction log messages. Returns false when the logs carry no trade by
// that wallet.
func ParseTradeLogs(logs []string, wallet string) (domain.WalletTransaction, bool) {
	for _, line := range logs {
		idx := strings.Index(line, programDataPrefix)
		if idx < 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(line[idx+len(programDataPrefix):])
		if err != nil || len(raw) < tradeEventSize {
			continue
		}

		mint := base58.Encode(raw[8:40])
		solLamports := binary.LittleEndian.Uint64(raw[40:48])
		isBuy := raw[56] == 1
		user := base58.Encode(raw[57:89])
		virtualSOL := binary.LittleEndian.Uint64(raw[97:105])
		virtualTok := binary.LittleEndian.Uint64(raw[105:113])

		if user != wallet {
			continue
		}

		side := domain.TradeSideSell
		if isBuy {
			side = domain.TradeSideBuy
		}

		var marketCap float64
		if tokens := curve.RawTokenAmount(virtualTok); tokens > 0 {
			marketCap = curve.LamportsToSOL(virtualSOL) / tokens * curve.FallbackTotalSupply
		}

		return domain.WalletTransaction{
			Wallet:    wallet,
			Mint:      mint,
			Side:      side,
			SOLAmount: curve.LamportsToSOL(solLamports),
			MarketCap: marketCap,
		}, true
	}
	return domain.WalletTransaction{}, false
}
