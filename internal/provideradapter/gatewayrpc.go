package provideradapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/callbackretry"
)

// GatewayRequest is the JSON-RPC 2.0 envelope sent to the gateway.
type gatewayRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type gatewayResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *gatewayError   `json:"error,omitempty"`
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GatewayClient issues JSON-RPC calls over a single WebSocket connection to
// the OpenClaw gateway. It is the fallback transport used when the provider
// CLI executable can't be found (spec §4.7 policy 3), and the only
// transport for providers whose Kind is KindHTTP.
//
// Connection discipline (ping/pong, single write-mutex) is adapted from the
// teacher's acp/gateway.go.
type GatewayClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan gatewayResponse
	pendingMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// DialGateway opens a WebSocket connection to the gateway RPC endpoint and
// starts its read pump.
func DialGateway(ctx context.Context, url string) (*GatewayClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, apierrors.ProviderFailure("gateway_dial_failed", "failed to connect to the OpenClaw gateway", err)
	}

	c := &GatewayClient{
		conn:    conn,
		pending: make(map[int64]chan gatewayResponse),
		closed:  make(chan struct{}),
	}
	go c.readPump()
	go c.pingLoop()
	return c, nil
}

func (c *GatewayClient) readPump() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.failAllPending(err)
			return
		}
		var resp gatewayResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *GatewayClient) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
		}
	}
}

func (c *GatewayClient) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- gatewayResponse{ID: id, Error: &gatewayError{Code: -1, Message: err.Error()}}
		delete(c.pending, id)
	}
}

// Call issues a single JSON-RPC method call and waits for its response or
// ctx cancellation.
func (c *GatewayClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := gatewayRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	ch := make(chan gatewayResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if writeErr != nil {
		return nil, apierrors.ProviderFailure("gateway_write_failed", "failed to send gateway RPC request", writeErr)
	}

	select {
	case <-ctx.Done():
		return nil, apierrors.ProviderFailure("gateway_timeout", fmt.Sprintf("gateway RPC %q timed out", method), ctx.Err())
	case resp := <-ch:
		if resp.Error != nil {
			return nil, apierrors.ProviderFailure("gateway_rpc_error", resp.Error.Message, nil)
		}
		return resp.Result, nil
	}
}

// DialGatewayWithRetry dials the gateway with exponential backoff, for
// callers (the gateway fallback cmd/opengoatd installs for a missing
// provider command) that would otherwise fail a whole invocation on a
// transient gateway restart race.
func DialGatewayWithRetry(ctx context.Context, url string, cfg callbackretry.Config) (*GatewayClient, error) {
	var client *GatewayClient
	err := callbackretry.Do(ctx, cfg, "gateway_dial", func(ctx context.Context) error {
		c, dialErr := DialGateway(ctx, url)
		if dialErr != nil {
			return dialErr
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Close shuts down the gateway connection.
func (c *GatewayClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// ConfigGet calls the gateway's "config.get" method, per the Open Question
// decision recorded in SPEC_FULL.md.
func (c *GatewayClient) ConfigGet(ctx context.Context, key string) (json.RawMessage, error) {
	return c.Call(ctx, "config.get", map[string]string{"key": key})
}

// ConfigApply calls "config.apply" with the given patch document.
func (c *GatewayClient) ConfigApply(ctx context.Context, patch json.RawMessage) (json.RawMessage, error) {
	return c.Call(ctx, "config.apply", patch)
}

// AgentInvokeParams is the payload for the "agent" gateway RPC method.
type AgentInvokeParams struct {
	AgentID      string `json:"agentId"`
	SessionKey   string `json:"sessionKey"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Message      string `json:"message"`
}

// AgentInvokeResult is the "agent" method's result payload.
type AgentInvokeResult struct {
	Code              int    `json:"code"`
	Stdout            string `json:"stdout"`
	Stderr            string `json:"stderr"`
	ProviderSessionID string `json:"providerSessionId,omitempty"`
}

// Agent calls the "agent" gateway RPC method, the fallback path used when
// the provider CLI executable can't be found (spec §4.7 policy 3).
func (c *GatewayClient) Agent(ctx context.Context, params AgentInvokeParams) (AgentInvokeResult, error) {
	raw, err := c.Call(ctx, "agent", params)
	if err != nil {
		return AgentInvokeResult{}, err
	}
	var result AgentInvokeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return AgentInvokeResult{}, apierrors.ProviderFailure("gateway_decode_failed", "failed to decode agent gateway response", err)
	}
	return result, nil
}
