package domain

// Exit reason codes issued by the exit engine.
const (
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTimeStop   = "time_stop"
	ExitReasonTP1        = "tp1"
	ExitReasonTP2        = "tp2"
	ExitReasonRunnerExit = "runner_exit"
	ExitReasonManual     = "manual"
)

// Trade side constants.
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

// TradeResult is the outcome reported by the trade executor.
type TradeResult struct {
	Mint       string
	Symbol     string
	Side       string
	AmountSOL  float64 // SOL spent on a buy, SOL received on a sell
	Price      float64 // fill price
	PercentOut float64 // for sells, percent of the position liquidated
	Success    bool
	Error      string
}
