package domain

// SampleSource identifies which feed produced a price sample.
type SampleSource string

const (
	SourceAccountSub  SampleSource = "ACCOUNT_SUB"  // on-chain account subscription
	SourceTradeStream SampleSource = "TRADE_STREAM" // secondary trade-event stream
	SourceRESTPrefix  SampleSource = "REST"         // REST fallbacks carry "REST:<name>"
)

// String returns the string representation of SampleSource.
func (s SampleSource) String() string {
	return string(s)
}
