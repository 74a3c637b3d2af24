// Package feed adapts live market data sources to domain.Feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	eventBuffer = 1024
)

// SubscribeMessage is sent once after every successful dial.
type SubscribeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// WSFeed reads depth records from a websocket endpoint. Messages use the
// same JSON shape as recorded data. Connect may be called again after a
// disconnect to re-dial.
type WSFeed struct {
	url     string
	symbols []string
	dialer  websocket.Dialer
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	sess *session

	malformed atomic.Int64
}

// session is the state of one connection.
type session struct {
	events chan domain.MarketEvent
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func newSession() *session {
	return &session{
		events: make(chan domain.MarketEvent, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

var _ domain.Feed = (*WSFeed)(nil)

// NewWSFeed creates a feed for url subscribing to symbols.
func NewWSFeed(url string, symbols []string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:     url,
		symbols: symbols,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With(slog.String("component", "ws_feed")),
	}
}

// Malformed returns the number of messages that failed to decode.
func (f *WSFeed) Malformed() int64 { return f.malformed.Load() }

// Connect dials the endpoint, sends the subscription and starts the read
// and ping loops. Any previous connection is closed first.
func (f *WSFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()

	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(SubscribeMessage{Type: "subscribe", Symbols: f.symbols}); err != nil {
		conn.Close()
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sess := newSession()
	f.conn, f.sess = conn, sess
	go f.readLoop(conn, sess)
	go f.pingLoop(conn, sess)

	f.logger.Info("ws feed subscribed", slog.String("url", f.url), slog.Int("symbols", len(f.symbols)))
	return nil
}

// Next returns the next decoded event. It returns an error matching
// domain.ErrFeedDisconnected once the connection is lost.
func (f *WSFeed) Next(ctx context.Context) (domain.MarketEvent, error) {
	f.mu.Lock()
	sess := f.sess
	f.mu.Unlock()
	if sess == nil {
		return domain.MarketEvent{}, fmt.Errorf("feed: %w: not connected", domain.ErrFeedDisconnected)
	}

	select {
	case <-ctx.Done():
		return domain.MarketEvent{}, ctx.Err()
	case ev := <-sess.events:
		return ev, nil
	case <-sess.done:
		select {
		case ev := <-sess.events:
			return ev, nil
		default:
		}
		return domain.MarketEvent{}, fmt.Errorf("feed: %w: %w", domain.ErrFeedDisconnected, sess.err)
	}
}

// Close shuts the current connection down.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeLocked()
}

func (f *WSFeed) closeLocked() error {
	if f.conn == nil {
		return nil
	}
	close(f.sess.stop)
	f.sess.fail(errors.New("closed"))
	_ = f.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	err := f.conn.Close()
	f.conn, f.sess = nil, nil
	return err
}

func (f *WSFeed) readLoop(conn *websocket.Conn, sess *session) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-sess.stop:
			default:
				f.logger.Warn("ws feed read failed", slog.String("error", err.Error()))
			}
			sess.fail(err)
			return
		}
		rec, err := Decode(msg)
		if err != nil {
			f.malformed.Add(1)
			f.logger.Debug("ws message dropped", slog.String("error", err.Error()))
			continue
		}
		select {
		case sess.events <- rec.Event:
		case <-sess.stop:
			return
		}
	}
}

func (f *WSFeed) pingLoop(conn *websocket.Conn, sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				sess.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
