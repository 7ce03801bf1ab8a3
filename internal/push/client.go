// Package push subscribes to a room's private real-time channel over a
// websocket and republishes its events on the bus.
package push

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/roomsync/internal/bus"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
	writeTimeout        = 10 * time.Second
)

type controlFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
}

// Client dials the push endpoint.
type Client struct {
	url          string
	token        string
	dialer       *websocket.Dialer
	bus          *bus.Bus
	logger       *zap.Logger
	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewClient creates a push client for the websocket endpoint url.
func NewClient(url, token string, b *bus.Bus, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    url,
		token:  token,
		bus:    b,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		pingInterval: defaultPingInterval,
		readTimeout:  defaultReadTimeout,
	}
}

// Subscription is a live subscription to one room channel.
type Subscription struct {
	conn    *websocket.Conn
	channel string
	bus     *bus.Bus
	logger  *zap.Logger

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	closing chan struct{}
}

// Subscribe connects and joins the private channel of roomID. Events flow
// onto the bus until Unsubscribe is called or the connection drops.
func (c *Client) Subscribe(ctx context.Context, roomID int64) (*Subscription, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	header.Set("X-Connection-Id", uuid.New().String())

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	channel := ChannelName(roomID)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		conn:    conn,
		channel: channel,
		bus:     c.bus,
		logger:  c.logger.With(zap.String("channel", channel)),
		cancel:  cancel,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}

	if err := s.writeJSON(controlFrame{Event: "subscribe", Channel: channel}); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("join %s: %w", channel, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	go s.readLoop(c.readTimeout)
	go s.pingLoop(ctx, c.pingInterval)

	s.logger.Info("push channel subscribed")
	return s, nil
}

func (s *Subscription) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Subscription) readLoop(readTimeout time.Duration) {
	defer close(s.done)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("push channel read failed", zap.Error(err))
				} else {
					s.logger.Info("push channel closed", zap.Error(err))
				}
				s.bus.Emit(bus.PushDisconnected, s.channel)
			}
			return
		}
		kind, payload, ok, err := Decode(raw)
		if err != nil {
			s.logger.Warn("dropping malformed push frame", zap.Error(err))
		} else if ok {
			s.bus.Emit(kind, payload)
		}
		// Emit may wait on a reliable subscriber; the deadline starts after.
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (s *Subscription) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("push ping failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Done is closed once the read loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe leaves the channel and closes the connection. Safe to call
// more than once and on a nil subscription.
func (s *Subscription) Unsubscribe() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		close(s.closing)
		s.cancel()
		if werr := s.writeJSON(controlFrame{Event: "unsubscribe", Channel: s.channel}); werr != nil {
			s.logger.Debug("unsubscribe frame not sent", zap.Error(werr))
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		<-s.done
		s.logger.Info("push channel unsubscribed")
	})
	return err
}
