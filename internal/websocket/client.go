package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// subHandler pairs a subscription's raw-notification callback with the
// RPC method name used to unwind it (accountUnsubscribe/signatureUnsubscribe).
type subHandler struct {
	method  string
	handler func(json.RawMessage)
}

// Client is a minimal Solana JSON-RPC websocket client: it issues
// accountSubscribe/signatureSubscribe requests and dispatches inbound
// notifications to registered handlers by subscription ID, reconnecting
// with a fixed delay when the connection drops.
type Client struct {
	url              string
	reconnectDelay   time.Duration
	pingInterval     time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	nextReqID atomic.Uint64

	subsMu      sync.RWMutex
	pending     map[uint64]chan uint64 // request id -> subscription id result
	bySub       map[uint64]subHandler  // subscription id -> handler
	reqToMethod map[uint64]string      // request id -> subscribe method, for matching replies

	closeCh chan struct{}
	closed  atomic.Bool
}

// NewClient dials nothing yet; call Connect to establish the socket.
func NewClient(url string, reconnectDelay, pingInterval time.Duration) *Client {
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		pending:        make(map[uint64]chan uint64),
		bySub:          make(map[uint64]subHandler),
		reqToMethod:    make(map[uint64]string),
		closeCh:        make(chan struct{}),
	}
}

// Connect dials the websocket and starts the read/reconnect loop.
func (c *Client) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}
	go c.readLoop()
	if c.pingInterval > 0 {
		go c.pingLoop()
	}
	return nil
}

func (c *Client) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	log.Info().Str("url", c.url).Msg("websocket connected")
	return nil
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			time.Sleep(c.reconnectDelay)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			log.Warn().Err(err).Msg("websocket read failed, reconnecting")
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			time.Sleep(c.reconnectDelay)
			if err := c.dial(); err != nil {
				log.Warn().Err(err).Msg("websocket reconnect failed")
			}
			continue
		}

		c.handleMessage(data)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var envelope struct {
		ID     uint64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Method string          `json:"method"`
		Params struct {
			Subscription uint64          `json:"subscription"`
			Result       json.RawMessage `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Warn().Err(err).Msg("failed to parse websocket message")
		return
	}

	// Subscription confirmation: {"id":N,"result":<subID>}
	if envelope.ID != 0 && envelope.Result != nil {
		var subID uint64
		if err := json.Unmarshal(envelope.Result, &subID); err == nil {
			c.subsMu.Lock()
			if ch, ok := c.pending[envelope.ID]; ok {
				ch <- subID
				delete(c.pending, envelope.ID)
			}
			c.subsMu.Unlock()
		}
		return
	}

	// Notification: {"method":"accountNotification","params":{"subscription":N,"result":...}}
	if envelope.Params.Subscription != 0 {
		c.subsMu.RLock()
		h, ok := c.bySub[envelope.Params.Subscription]
		c.subsMu.RUnlock()
		if ok {
			h.handler(envelope.Params.Result)
		}
	}
}

func (c *Client) send(method string, params []interface{}) (uint64, error) {
	id := c.nextReqID.Add(1)

	req := struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      uint64        `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("websocket not connected")
	}

	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return 0, fmt.Errorf("write subscribe request: %w", err)
	}

	return id, nil
}

func (c *Client) subscribe(method string, params []interface{}, handler func(json.RawMessage)) (uint64, error) {
	id, err := c.send(method, params)
	if err != nil {
		return 0, err
	}

	ch := make(chan uint64, 1)
	c.subsMu.Lock()
	c.pending[id] = ch
	c.subsMu.Unlock()

	select {
	case subID := <-ch:
		unsubMethod := method[:len(method)-len("Subscribe")] + "Unsubscribe"
		c.subsMu.Lock()
		c.bySub[subID] = subHandler{method: unsubMethod, handler: handler}
		c.subsMu.Unlock()
		return subID, nil
	case <-time.After(10 * time.Second):
		c.subsMu.Lock()
		delete(c.pending, id)
		c.subsMu.Unlock()
		return 0, fmt.Errorf("subscribe %s timed out", method)
	}
}

// AccountSubscribe subscribes to account-change notifications for address.
func (c *Client) AccountSubscribe(address string, handler func(json.RawMessage)) (uint64, error) {
	return c.subscribe("accountSubscribe", []interface{}{
		address,
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
	}, handler)
}

// SignatureSubscribe subscribes to confirmation notifications for signature.
func (c *Client) SignatureSubscribe(signature string, handler func(json.RawMessage)) (uint64, error) {
	return c.subscribe("signatureSubscribe", []interface{}{
		signature,
		map[string]string{"commitment": "confirmed"},
	}, handler)
}

// Unsubscribe tears down a subscription by its RPC unsubscribe method name
// and subscription ID (e.g. "accountUnsubscribe", subID).
func (c *Client) Unsubscribe(method string, subID uint64) {
	c.subsMu.Lock()
	delete(c.bySub, subID)
	c.subsMu.Unlock()

	if _, err := c.send(method, []interface{}{subID}); err != nil {
		log.Warn().Err(err).Str("method", method).Msg("failed to send unsubscribe")
	}
}

// Close shuts down the websocket connection and stops the read loop.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closeCh)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
