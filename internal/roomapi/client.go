// Package roomapi is the HTTP client for the room endpoints of the backend.
package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
	"go.uber.org/zap"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("room api: status %d", e.Code)
	}
	return fmt.Sprintf("room api: status %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a network-level or server-side failure
// worth retrying on the next scheduled attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Client talks to the backend over REST.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for baseURL authenticating with a bearer token.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// MediaUpload is the multipart body for image, video and audio messages.
type MediaUpload struct {
	Type     chat.Type
	Content  string
	FileName string
	File     io.Reader
	Duration int // seconds, audio and video only
}

// FetchMessages pulls a page of messages. afterID is omitted when nil.
func (c *Client) FetchMessages(ctx context.Context, roomID int64, afterID *int64, limit int) ([]chat.Message, error) {
	q := url.Values{}
	if afterID != nil {
		q.Set("after_id", strconv.FormatInt(*afterID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/rooms/%d/messages", roomID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	var msgs []chat.Message
	if err := decodeData(body, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// CreateMessage posts a text or sticker message as JSON.
func (c *Client) CreateMessage(ctx context.Context, roomID int64, typ chat.Type, content string) (chat.Message, error) {
	payload, err := json.Marshal(map[string]string{"type": string(typ), "content": content})
	if err != nil {
		return chat.Message{}, err
	}
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/messages", roomID), "application/json", bytes.NewReader(payload))
	if err != nil {
		return chat.Message{}, err
	}
	return decodeMessage(body)
}

// UploadMessage posts a media message as multipart/form-data.
func (c *Client) UploadMessage(ctx context.Context, roomID int64, up MediaUpload) (chat.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("type", string(up.Type))
	if up.Content != "" {
		_ = w.WriteField("content", up.Content)
	}
	if up.Duration > 0 {
		_ = w.WriteField("duration", strconv.Itoa(up.Duration))
	}
	part, err := w.CreateFormFile("file", up.FileName)
	if err != nil {
		return chat.Message{}, err
	}
	if _, err := io.Copy(part, up.File); err != nil {
		return chat.Message{}, fmt.Errorf("read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return chat.Message{}, err
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/messages", roomID), w.FormDataContentType(), &buf)
	if err != nil {
		return chat.Message{}, err
	}
	return decodeMessage(body)
}

// DeleteMessage deletes one message.
func (c *Client) DeleteMessage(ctx context.Context, roomID, messageID int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/rooms/%d/messages/%d", roomID, messageID), "", nil)
	return err
}

// ReportTyping tells the room the local user is typing.
func (c *Client) ReportTyping(ctx context.Context, roomID int64) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/typing", roomID), "", nil)
	return err
}

// ReportRecording tells the room the local user started or stopped recording.
func (c *Client) ReportRecording(ctx context.Context, roomID int64, recording bool) error {
	payload, _ := json.Marshal(map[string]bool{"is_recording": recording})
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/recording", roomID), "application/json", bytes.NewReader(payload))
	return err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		c.logger.Debug("room api error", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return respBody, nil
}

// decodeData accepts either a bare JSON value or one wrapped as {"data": ...}.
func decodeData(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err == nil && len(wrapped.Data) > 0 {
			trimmed = wrapped.Data
		}
	}
	return json.Unmarshal(trimmed, v)
}

func decodeMessage(body []byte) (chat.Message, error) {
	var m chat.Message
	if err := decodeData(body, &m); err != nil {
		return chat.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
