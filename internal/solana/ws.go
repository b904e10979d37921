package solana

import "context"

// WSClient defines the Solana WebSocket account-subscription interface.
type WSClient interface {
	// SubscribeAccount opens an account-change subscription for the given
	// account address. Returns the update channel and the subscription ID.
	SubscribeAccount(ctx context.Context, account string) (<-chan AccountUpdate, int64, error)

	// UnsubscribeAccount tears down a subscription by ID and closes its
	// update channel.
	UnsubscribeAccount(ctx context.Context, subID int64) error

	// Close closes the WebSocket connection.
	Close() error
}

// AccountUpdate is one account-change notification.
type AccountUpdate struct {
	Account  string
	Slot     int64
	Data     string // base64 encoded account payload
	Lamports uint64
	Owner    string
}
