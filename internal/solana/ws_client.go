package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects before
	// the client stops retrying. Reset on a successful reconnect.
	MaxReconnectAttempts int
	// SubscribeAckTimeout is how long to wait for a subscription
	// confirmation before the request is discarded.
	SubscribeAckTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// OnReconnect, when set, is invoked after every successful reconnect,
	// before subscriptions are re-issued.
	OnReconnect func()
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		SubscribeAckTimeout:  10 * time.Second,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

// accountSub is one live subscription. Update delivery and channel close
// are serialized through mu so an unsubscribe can never close the channel
// under an in-flight send; stop unblocks a send waiting on a full buffer.
type accountSub struct {
	ch   chan AccountUpdate
	stop chan struct{}

	mu     sync.Mutex
	closed bool
}

// shut closes the update channel exactly once.
func (s *accountSub) shut() {
	close(s.stop)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to its subscription record
	subs   map[int64]*accountSub
	subsMu sync.RWMutex

	// accounts stores the subscribed account per subscription ID for
	// resubscription after reconnect
	accounts   map[int64]string
	accountsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
	// reconnectFailures counts consecutive failed reconnect attempts
	reconnectFailures atomic.Int32
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      log.New(log.Writer(), "[ws] ", log.LstdFlags),
		subs:        make(map[int64]*accountSub),
		accounts:    make(map[int64]string),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeAccount opens an account-change subscription.
func (c *WSClientImpl) SubscribeAccount(ctx context.Context, account string) (<-chan AccountUpdate, int64, error) {
	subID, err := c.subscribeAccountInternal(ctx, account)
	if err != nil {
		return nil, 0, err
	}

	// Buffer absorbs notification bursts between aggregator ticks
	sub := &accountSub{
		ch:   make(chan AccountUpdate, 256),
		stop: make(chan struct{}),
	}
	c.subsMu.Lock()
	c.subs[subID] = sub
	c.subsMu.Unlock()

	c.accountsMu.Lock()
	c.accounts[subID] = account
	c.accountsMu.Unlock()

	return sub.ch, subID, nil
}

// UnsubscribeAccount sends accountUnsubscribe and tears down local state.
func (c *WSClientImpl) UnsubscribeAccount(ctx context.Context, subID int64) error {
	c.subsMu.Lock()
	sub, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
	}
	c.subsMu.Unlock()

	c.accountsMu.Lock()
	delete(c.accounts, subID)
	c.accountsMu.Unlock()

	if !ok {
		return nil
	}
	sub.shut()

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountUnsubscribe",
		Params:  []interface{}{subID},
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil // connection already gone, nothing to unsubscribe on
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write unsubscribe: %w", err)
	}
	return nil
}

// subscribeAccountInternal sends the subscribe request and waits for the ack.
// It does not register the channel or account mapping.
func (c *WSClientImpl) subscribeAccountInternal(ctx context.Context, account string) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			account,
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		dropPending()
		return 0, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		dropPending()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID := <-confirmCh:
		return subID, nil
	case <-time.After(c.config.SubscribeAckTimeout):
		dropPending()
		return 0, fmt.Errorf("subscription ack timeout after %s", c.config.SubscribeAckTimeout)
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return 0, ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Close all subscription channels
	c.subsMu.Lock()
	subs := make([]*accountSub, 0, len(c.subs))
	for id, sub := range c.subs {
		subs = append(subs, sub)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()
	for _, sub := range subs {
		sub.shut()
	}

	// Close pending subscription channels
	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if int(c.reconnectFailures.Load()) >= c.config.MaxReconnectAttempts {
				c.logger.Printf("reconnect attempts exhausted, stopping reader")
				return
			}
			c.spawnReconnect()
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			c.spawnReconnect()
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		c.handleMessage(message)
	}
}

// spawnReconnect starts a single reconnect worker; a no-op while one runs.
func (c *WSClientImpl) spawnReconnect() {
	if !c.reconnecting.Swap(true) {
		go c.reconnect()
	}
}

// reconnect redials until it succeeds, the attempt budget is spent, or the
// client closes. The delay doubles per failed attempt up to the cap.
func (c *WSClientImpl) reconnect() {
	defer c.reconnecting.Store(false)

	delay := c.config.ReconnectDelay
	for {
		if c.closed.Load() {
			return
		}
		if int(c.reconnectFailures.Load()) >= c.config.MaxReconnectAttempts {
			return
		}

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err != nil {
			n := c.reconnectFailures.Add(1)
			c.logger.Printf("reconnect failed (attempt %d/%d): %v", n, c.config.MaxReconnectAttempts, err)
			delay *= 2
			if delay > c.config.MaxReconnectDelay {
				delay = c.config.MaxReconnectDelay
			}
			continue
		}

		c.reconnectFailures.Store(0)
		if c.config.OnReconnect != nil {
			c.config.OnReconnect()
		}

		// Re-issue every tracked subscription before accepting new ones
		c.resubscribeAll()
		return
	}
}

// resubscribeAll resubscribes all tracked accounts after reconnect.
func (c *WSClientImpl) resubscribeAll() {
	c.accountsMu.RLock()
	accounts := make(map[int64]string, len(c.accounts))
	for id, a := range c.accounts {
		accounts[id] = a
	}
	c.accountsMu.RUnlock()

	c.subsMu.RLock()
	records := make(map[int64]*accountSub, len(c.subs))
	for id, sub := range c.subs {
		records[id] = sub
	}
	c.subsMu.RUnlock()

	for oldSubID, account := range accounts {
		sub := records[oldSubID]
		if sub == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeAckTimeout)
		newSubID, err := c.subscribeAccountInternal(ctx, account)
		cancel()

		if err != nil {
			c.logger.Printf("resubscribe %s failed: %v", account, err)
			continue
		}

		c.subsMu.Lock()
		delete(c.subs, oldSubID)
		c.subs[newSubID] = sub
		c.subsMu.Unlock()

		c.accountsMu.Lock()
		delete(c.accounts, oldSubID)
		c.accounts[newSubID] = account
		c.accountsMu.Unlock()
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	// Try to parse as subscription response first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 && resp.ID > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	// Try to parse as notification
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "accountNotification" {
		c.handleAccountNotification(&notif)
		return
	}

	// Check for error response
	var errResp struct {
		JSONRPC string `json:"jsonrpc"`
		ID      uint64 `json:"id"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		// Log and move on - the pending request will time out
		c.logger.Printf("error response: code=%d msg=%s", errResp.Error.Code, errResp.Error.Message)
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

// handleAccountNotification dispatches an account update to its subscriber.
func (c *WSClientImpl) handleAccountNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	subID := notif.Params.Subscription
	value := notif.Params.Result.Value

	update := AccountUpdate{
		Lamports: value.Lamports,
		Owner:    value.Owner,
	}
	if len(value.Data) >= 1 {
		update.Data = value.Data[0]
	}
	if notif.Params.Result.Context != nil {
		update.Slot = notif.Params.Result.Context.Slot
	}

	c.accountsMu.RLock()
	update.Account = c.accounts[subID]
	c.accountsMu.RUnlock()

	c.subsMu.RLock()
	sub, ok := c.subs[subID]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	// Drop-oldest is unacceptable for account state; block until the
	// consumer drains, the subscription is torn down, or the client
	// shuts down. The per-sub mutex keeps the send ordered before any
	// channel close.
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- update:
	case <-sub.stop:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext     `json:"context"`
	Value   wsAccountValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsAccountValue struct {
	Data     []string `json:"data"` // [base64_data, encoding]
	Lamports uint64   `json:"lamports"`
	Owner    string   `json:"owner"`
}
