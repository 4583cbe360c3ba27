package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

func dialStream(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(f.http.Routes())
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.Eventually(t, func() bool { return f.stream.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return ws
}

// readUntil reads messages until match returns true or the deadline passes.
func readUntil(t *testing.T, ws *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Message
		require.NoError(t, ws.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestEventStream_StoreEventsAndNotifications(t *testing.T) {
	f := newFixture(t, ownedGame(7, "Super Mario 64"))
	ws := dialStream(t, f)

	_, err := f.actions.Run(context.Background(), ActionRequest{
		Action:      ActionMarkForSale,
		Key:         "7",
		AskingPrice: domain.Float(30),
	})
	require.NoError(t, err)

	update := readUntil(t, ws, func(m Message) bool {
		return m.Type == MessageStore && m.Event == string(domain.EventUpdate)
	})
	require.NotNil(t, update.Game)
	assert.True(t, update.Game.IsForSale)

	note := readUntil(t, ws, func(m Message) bool { return m.Type == MessageNotification })
	assert.Equal(t, "success", note.Level)
	assert.Equal(t, "Game marked for sale", note.Message)
}

func TestEventStream_ResolveOverWebSocket(t *testing.T) {
	f := newFixture(t, ownedGame(7, "Super Mario 64"))
	ws := dialStream(t, f)

	result := make(chan domain.Resolution, 1)
	go func() {
		r, err := f.conflicts.PresentConflict(context.Background(), domain.Conflict{
			Key:     "7",
			Local:   ownedGame(7, "Super Mario 64"),
			Remote:  ownedGame(7, "Mario 64"),
			Changes: domain.Changes{domain.FieldName: {From: "Super Mario 64", To: "Mario 64"}},
		})
		if err == nil {
			result <- r
		}
	}()

	prompt := readUntil(t, ws, func(m Message) bool { return m.Type == MessageConflict })
	assert.Equal(t, "7", prompt.Key)
	assert.Equal(t, []string{domain.FieldName}, prompt.Fields)

	require.NoError(t, ws.WriteJSON(Message{Type: MessageResolve, Key: "7", Resolution: string(domain.ResolutionKeepLocal)}))

	select {
	case r := <-result:
		assert.Equal(t, domain.ResolutionKeepLocal, r)
	case <-time.After(2 * time.Second):
		t.Fatal("conflict was not resolved")
	}
}

func TestEventStream_UpgradeRequired(t *testing.T) {
	stream := NewEventStream(nil)
	rec := httptest.NewRecorder()

	stream.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, stream.ClientCount())
}

func TestConflictBroker_Timeout(t *testing.T) {
	broker := NewConflictBroker(nil, 20*time.Millisecond)

	_, err := broker.PresentConflict(context.Background(), domain.Conflict{Key: "7"})

	assert.ErrorIs(t, err, ErrNoDecision)
	assert.Empty(t, broker.Open())
}

func TestConflictBroker_ContextCanceled(t *testing.T) {
	broker := NewConflictBroker(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := broker.PresentConflict(ctx, domain.Conflict{Key: "7"})

	assert.ErrorIs(t, err, context.Canceled)
}

// brokenConn fails every write and blocks reads until closed.
type brokenConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *brokenConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *brokenConn) WriteMessage(int, []byte) error { return errors.New("broken pipe") }

func (c *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (c *brokenConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestEventStream_WriteFailureClosesConnection(t *testing.T) {
	stream := NewEventStream(nil)
	conn := &brokenConn{closed: make(chan struct{})}
	c := stream.register(conn)

	readDone := make(chan struct{})
	go func() {
		stream.readLoop(c)
		close(readDone)
	}()
	go stream.writeLoop(c)

	stream.Info("hello")

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop still blocked after a failed write")
	}
	assert.Equal(t, 0, stream.ClientCount())
}
