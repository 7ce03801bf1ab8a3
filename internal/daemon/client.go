package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
)

// Client queries a running daemon's status server.
type Client struct {
	base string
	http *http.Client
}

// NewClient dials the daemon's Unix domain socket.
func NewClient(socketPath string) *Client {
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{base: "http://roomd", http: &http.Client{Transport: tr, Timeout: 10 * time.Second}}
}

// NewHTTPClient talks to a daemon listening on a TCP base URL.
func NewHTTPClient(baseURL string) *Client {
	return &Client{base: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Health fetches the sync status of the daemon's room.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.get(ctx, "/healthz", nil, &h)
	return h, err
}

// Timeline fetches the newest limit displayed messages.
func (c *Client) Timeline(ctx context.Context, limit int) ([]chat.Message, error) {
	var out struct {
		Data []chat.Message `json:"data"`
	}
	err := c.get(ctx, "/timeline", url.Values{"limit": {strconv.Itoa(limit)}}, &out)
	return out.Data, err
}

// Presence fetches who is typing or recording.
func (c *Client) Presence(ctx context.Context) (PresenceView, error) {
	var p PresenceView
	err := c.get(ctx, "/presence", nil, &p)
	return p, err
}

// Search queries the daemon's message cache.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]chat.Message, error) {
	var out struct {
		Data []chat.Message `json:"data"`
	}
	err := c.get(ctx, "/search", url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}, &out)
	return out.Data, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("query daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read daemon response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return fmt.Errorf("daemon: %s %s: status %d: %s", http.MethodGet, path, resp.StatusCode, e.Error)
	}
	return json.Unmarshal(body, v)
}
