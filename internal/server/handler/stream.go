package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Access is gated by the auth middleware, not by origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamHandler serves the Redis mirror of the current run's audit log and
// forwards the live signal channel over WebSocket.
type StreamHandler struct {
	bus     domain.SignalBus
	stream  string
	channel string
	logger  *slog.Logger
}

func NewStreamHandler(bus domain.SignalBus, stream, channel string, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		bus:     bus,
		stream:  stream,
		channel: channel,
		logger:  logger.With(slog.String("handler", "stream")),
	}
}

type streamEntry struct {
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

type streamPage struct {
	Stream  string        `json:"stream"`
	Entries []streamEntry `json:"entries"`
	// Next is the cursor for the following page.
	Next string `json:"next"`
}

// Read
// GET /api/audit/stream?after=&limit=
func (h *StreamHandler) Read(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	if !validStreamID(after) {
		writeError(w, http.StatusBadRequest, "after must be a stream id such as 1709283600000-0")
		return
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, parseListOpts(r).Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page := streamPage{Stream: h.stream, Entries: make([]streamEntry, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		page.Next = m.ID
		if !json.Valid(m.Payload) {
			h.logger.Warn("skipping non-json stream entry", slog.String("id", m.ID))
			continue
		}
		page.Entries = append(page.Entries, streamEntry{ID: m.ID, Record: m.Payload})
	}
	writeJSON(w, http.StatusOK, page)
}

// validStreamID accepts "<ms>" and "<ms>-<seq>".
func validStreamID(id string) bool {
	ms, seq, hasSeq := strings.Cut(id, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return false
		}
	}
	return true
}

// Signals upgrades to a WebSocket and forwards every payload published on
// the signal channel until either side goes away.
// GET /ws/signals
func (h *StreamHandler) Signals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	h.logger.Info("signal client connected", slog.String("remote_addr", r.RemoteAddr))

	// The read side only services pongs and notices the client closing.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warn("signal client read failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "signal channel closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
