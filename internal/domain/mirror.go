package domain

import "time"

// WalletTransaction is one trade observed on a tracked wallet, as delivered
// by the wallet transaction feed.
type WalletTransaction struct {
	Signature   string
	Wallet      string
	Mint        string
	Symbol      string
	Side        string // buy | sell
	SOLAmount   float64
	MarketCap   float64 // market cap at trade, 0 when unknown
	IsFullExit  bool    // source explicitly closed the whole position
	BlockTime   time.Time
}

// QueuedTransaction is a raw observed transaction held in the ingestion
// buffer until the next drain.
type QueuedTransaction struct {
	Tx         WalletTransaction
	ReceivedAt time.Time
}

// MirrorPosition is the bot's local position mirroring a tracked wallet.
// Created on the first mirrored buy, DCA-merged on subsequent buys,
// deleted when fully sold.
type MirrorPosition struct {
	Mint         string
	Symbol       string
	SourceWallet string
	EntryTime    time.Time
	// EntryMarketCap is the cost-weighted average market cap across buys.
	EntryMarketCap float64
	CostBasisSOL   float64
}

// MirrorTrade is the immutable audit record of one mirrored action.
type MirrorTrade struct {
	TradeID         string // deterministic hash of (signature, mint, side)
	SourceSignature string
	SourceWallet    string
	Mint            string
	Symbol          string
	Side            string
	SOLAmount       float64
	SellPercent     float64 // for sells
	EntryMarketCap  float64
	ExitMarketCap   float64
	RealizedPnLSOL  float64
	Success         bool
	Error           string
	ExecutedAt      time.Time
}
