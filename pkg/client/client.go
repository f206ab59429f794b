// Package client is the Go SDK for a chat process hosted on a HyperBEAM node.
//
// # Quick start
//
//	c := client.New("http://localhost:8734", "Pr0cessID...")
//
//	// Current slot of the process (last known value on failure)
//	slot, err := c.GetCurrentSlot(ctx)
//
//	// Every message with index >= 42, oldest first
//	rows, err := c.FetchMessagesFrom(ctx, 42)
//
//	// Push a chat message
//	res, err := c.Push(ctx, "chat-message",
//	    client.Field{Key: "content", Value: "hello"},
//	    client.Field{Key: "username", Value: "alice"})
//
// # Error handling
//
// Non-2xx responses are returned as *APIError. Network and decoding failures
// are returned as *TransportError. GetCurrentSlot and GetMessageCount fail
// soft: alongside the error they return the last value they observed.
//
// # Wire quirks
//
// The node addresses everything through the path. Push parameters are
// concatenated into the path with '&' separators rather than sent as a query
// string, so values are percent-escaped by Push before concatenation while
// keys and the action tag are used verbatim.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/snehjoshi/aochat/internal/types"
)

// RawMessage is the normalised shape of a message row from any endpoint.
type RawMessage = types.RawMessage

// DefaultCountPath is the path segment under /now/ that reports the number
// of messages recorded by the process.
const DefaultCountPath = "messageCount"

const serializeJSON = "serialize~json@1.0"

// ─── Error types ──────────────────────────────────────────────────────────────

// APIError is returned when the node responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // response body (truncated) or status text
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hyperbeam: node returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the node.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// TransportError wraps a network, rate-limit or decoding failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hyperbeam: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client (which carries a cookie jar
// so credentials issued by the node are sent back on every request).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 10 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithSessionID sets the X-Session-Id header sent with every request.
func WithSessionID(id string) ClientOption {
	return func(c *Client) { c.sessionID = id }
}

// WithRateLimit paces outgoing requests with a token bucket.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithCountPath overrides DefaultCountPath.
func WithCountPath(p string) ClientOption {
	return func(c *Client) { c.countPath = strings.Trim(p, "/") }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client talks to one process on one node. It is safe for concurrent use.
type Client struct {
	baseURL   string
	processID string
	sessionID string
	countPath string
	http      *http.Client
	limiter   *rate.Limiter

	now func() time.Time

	mu        sync.Mutex
	lastSlot  int64
	lastCount int64
}

// New creates a Client for processID on the node at baseURL.
//
//	c := client.New("http://localhost:8734", processID, client.WithTimeout(5*time.Second))
func New(baseURL, processID string, opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		processID: processID,
		countPath: DefaultCountPath,
		http:      &http.Client{Timeout: 10 * time.Second, Jar: jar},
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ProcessID returns the process this client addresses.
func (c *Client) ProcessID() string { return c.processID }

// ─── Slot and count ───────────────────────────────────────────────────────────

// GetCurrentSlot returns the current slot of the process. On any failure it
// returns the last slot it successfully observed together with the error.
func (c *Client) GetCurrentSlot(ctx context.Context) (int64, error) {
	path := fmt.Sprintf("/%s~process@1.0/slot/current/body/%s", c.processID, serializeJSON)
	body, err := c.do(ctx, "slot", http.MethodPost, path)
	if err == nil {
		var slot int64
		slot, err = parseNumber(body)
		if err == nil {
			c.mu.Lock()
			c.lastSlot = slot
			c.mu.Unlock()
			return slot, nil
		}
		err = &TransportError{Op: "slot", Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSlot, err
}

// GetMessageCount returns the number of messages the process has recorded.
// On any failure it returns the last count it observed together with the error.
func (c *Client) GetMessageCount(ctx context.Context) (int64, error) {
	path := fmt.Sprintf("/%s/now/%s/%s", c.processID, c.countPath, serializeJSON)
	body, err := c.do(ctx, "count", http.MethodGet, path)
	if err == nil {
		var n int64
		n, err = parseNumber(body)
		if err == nil {
			c.mu.Lock()
			c.lastCount = n
			c.mu.Unlock()
			return n, nil
		}
		err = &TransportError{Op: "count", Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCount, err
}

// ─── Message retrieval ────────────────────────────────────────────────────────

// FetchMessagesFrom returns every message whose index is >= startID, sorted
// by timestamp ascending. Non-numeric keys in the response are ignored.
func (c *Client) FetchMessagesFrom(ctx context.Context, startID int64) ([]RawMessage, error) {
	path := fmt.Sprintf("/%s/now/messages/%d/%s", c.processID, startID, serializeJSON)
	body, err := c.do(ctx, "messages", http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	rows, err := parseMessageMap(body, c.now())
	if err != nil {
		return nil, &TransportError{Op: "messages", Err: err}
	}
	// Some nodes ignore the start index and return the whole set.
	out := rows[:0]
	for _, r := range rows {
		if r.ID >= startID {
			out = append(out, r)
		}
	}
	return out, nil
}

// FetchMessage returns the message recorded at index n. A node that has no
// message at n yields a 404 *APIError, so IsNotFound reports it.
func (c *Client) FetchMessage(ctx context.Context, n int64) (RawMessage, error) {
	rows, err := c.FetchMessagesFrom(ctx, n)
	if err != nil {
		return RawMessage{}, err
	}
	for _, r := range rows {
		if r.ID == n {
			return r, nil
		}
	}
	return RawMessage{}, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("no message at index %d", n)}
}

// FetchAllMessages returns the full message set, sorted by timestamp ascending.
func (c *Client) FetchAllMessages(ctx context.Context) ([]RawMessage, error) {
	path := fmt.Sprintf("/%s/now/messages/%s", c.processID, serializeJSON)
	body, err := c.do(ctx, "messages", http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	rows, err := parseMessageMap(body, c.now())
	if err != nil {
		return nil, &TransportError{Op: "messages", Err: err}
	}
	return rows, nil
}

// FetchSlotResults returns the chat messages produced by computing the given
// slot. It backs the slot-scan retrieval path used when a node does not serve
// the paginated messages endpoint.
func (c *Client) FetchSlotResults(ctx context.Context, slot int64) ([]RawMessage, error) {
	path := fmt.Sprintf("/%s~process@1.0/compute&slot=%d/results/%s", c.processID, slot, serializeJSON)
	body, err := c.do(ctx, "compute", http.MethodPost, path)
	if err != nil {
		return nil, err
	}
	rows, err := parseSlotResults(body, slot, c.now())
	if err != nil {
		return nil, &TransportError{Op: "compute", Err: err}
	}
	return rows, nil
}

// ─── Push ─────────────────────────────────────────────────────────────────────

// Field is one key=value parameter of a push.
type Field struct {
	Key   string
	Value string
}

// PushResult describes an accepted push. Acceptance is HTTP-level only: the
// message is durable once it shows up in the message log.
type PushResult struct {
	OK         bool
	StatusCode int
	Data       json.RawMessage
}

// Push sends a message to the process. No retry is attempted.
func (c *Client) Push(ctx context.Context, action string, fields ...Field) (*PushResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "/%s/push&action=%s", c.processID, action)
	for _, f := range fields {
		b.WriteByte('&')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(EscapeValue(f.Value))
	}
	b.WriteString("&!/")
	b.WriteString(serializeJSON)

	body, err := c.do(ctx, "push", http.MethodGet, b.String())
	if err != nil {
		return &PushResult{OK: false, StatusCode: statusOf(err)}, err
	}
	res := &PushResult{OK: true, StatusCode: http.StatusOK}
	if json.Valid(body) {
		res.Data = json.RawMessage(body)
	}
	return res, nil
}

// Wallet returns the sender wallet address echoed in the push response, if
// the node reported one.
func (r *PushResult) Wallet() string {
	if r == nil || len(r.Data) == 0 {
		return ""
	}
	var body map[string]any
	if err := json.Unmarshal(r.Data, &body); err != nil {
		return ""
	}
	for _, k := range walletKeys {
		if s, ok := body[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// EscapeValue percent-escapes a push value so it cannot break the '&'/'='
// structure of the path. Spaces become %20 rather than '+'.
func EscapeValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

func statusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single request and returns the response body.
func (c *Client) do(ctx context.Context, op, method, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.sessionID != "" {
		req.Header.Set("X-Session-Id", c.sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 256 {
			msg = msg[:256] + "..."
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}
