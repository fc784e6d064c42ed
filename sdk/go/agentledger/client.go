// Package agentledger is a Go client for the AgentLedger REST API.
package agentledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// CallerHeader identifies the caller when the server runs with auth disabled.
const CallerHeader = "X-Caller"

// Client wraps the HTTP interactions with the AgentLedger REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
	caller      string
}

// Coin is an amount in base units of a denomination. Amount is a decimal
// string so values up to 2^128-1 survive the round trip.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Attribute is a key/value pair emitted by an execute call.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Transfer is a native payout the ledger asked its host to perform.
type Transfer struct {
	Recipient string `json:"recipient"`
	Amount    []Coin `json:"amount"`
}

// Response is the contract response of a committed call.
type Response struct {
	Attributes []Attribute `json:"attributes"`
	Transfers  []Transfer  `json:"transfers,omitempty"`
}

// Result describes a committed execute call.
type Result struct {
	CallID   string    `json:"call_id"`
	Height   uint64    `json:"height"`
	Time     uint64    `json:"time"`
	Action   string    `json:"action"`
	Response *Response `json:"response"`
}

// Attr returns the first attribute with the given key.
func (r *Result) Attr(key string) string {
	if r == nil || r.Response == nil {
		return ""
	}
	for _, a := range r.Response.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Health mirrors the /healthz payload.
type Health struct {
	Status        string          `json:"status"`
	Height        uint64          `json:"height"`
	PendingOutbox uint64          `json:"pending_outbox"`
	AuthMode      string          `json:"auth_mode"`
	Settlement    json.RawMessage `json:"settlement,omitempty"`
}

// APIError represents server side validation or ledger errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentledger api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentledger api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentLedger API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken stores the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetCaller sets the X-Caller header used when the server has auth disabled.
func (c *Client) SetCaller(caller string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caller = caller
}

// Execute submits a ledger message. action is the message name, for example
// "register_agent", and payload its body.
func (c *Client) Execute(ctx context.Context, action string, payload any, funds ...Coin) (*Result, error) {
	if payload == nil {
		payload = struct{}{}
	}
	body := struct {
		Msg   map[string]any `json:"msg"`
		Funds []Coin         `json:"funds,omitempty"`
	}{Msg: map[string]any{action: payload}, Funds: funds}

	var result Result
	if err := c.post(ctx, "/api/v1/execute", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Query runs a read-only query and decodes its data into out.
func (c *Client) Query(ctx context.Context, action string, payload any, out any) error {
	if payload == nil {
		payload = struct{}{}
	}
	body := struct {
		Msg map[string]any `json:"msg"`
	}{Msg: map[string]any{action: payload}}

	var envelope struct {
		Height uint64          `json:"height"`
		Data   json.RawMessage `json:"data"`
	}
	if err := c.post(ctx, "/api/v1/query", body, &envelope); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode query data: %w", err)
	}
	return nil
}

// Health fetches the node health check.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := c.do(req, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	token, caller := c.accessToken, c.caller
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
