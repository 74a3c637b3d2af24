package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

func wsServer(t *testing.T, messages []string, subs chan<- SubscribeMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub SubscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSFeedDeliversEventsThenDisconnects(t *testing.T) {
	subs := make(chan SubscribeMessage, 1)
	srv := wsServer(t, []string{
		`{"symbol":"BTC","timestamp":"2024-03-01T09:00:00Z","bids":[["100","1"]],"asks":[["101","1"]]}`,
		`garbage`,
		`{"symbol":"BTC","timestamp":"2024-03-01T09:00:01Z","bids":[["100","2"]],"asks":[["101","1"]]}`,
	}, subs)

	f := NewWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTC"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Connect(ctx))
	defer f.Close()

	sub := <-subs
	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, []string{"BTC"}, sub.Symbols)

	ev, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSnapshot, ev.Kind)
	assert.Equal(t, "1", ev.Bids[0].Quantity.String())

	ev, err = f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", ev.Bids[0].Quantity.String())

	_, err = f.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrFeedDisconnected)
	assert.EqualValues(t, 1, f.Malformed())
}

func TestWSFeedNextBeforeConnect(t *testing.T) {
	f := NewWSFeed("ws://127.0.0.1:1", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := f.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrFeedDisconnected)
}

func TestWSFeedConnectFails(t *testing.T) {
	f := NewWSFeed("ws://127.0.0.1:1", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, f.Connect(ctx))
}
