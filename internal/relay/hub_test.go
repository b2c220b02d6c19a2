package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glitchmath/duel/internal/wire"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=" + room
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wire.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wire.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBroadcastReachesWholeRoomIncludingSender(t *testing.T) {
	_, srv := newTestServer(t)
	host := dial(t, srv, "match-1")
	guest := dial(t, srv, "match-1")

	msg, err := wire.Envelope(wire.TypeAnswer, wire.AnswerPayload{
		PlayerID: "p-host", QuestionIndex: 1, Value: 42, Correct: true, Points: 1,
	})
	require.NoError(t, err)
	require.NoError(t, host.WriteJSON(msg))

	for _, conn := range []*websocket.Conn{host, guest} {
		got := readMessage(t, conn)
		assert.Equal(t, wire.TypeAnswer, got.Type)
		var p wire.AnswerPayload
		require.NoError(t, json.Unmarshal(got.Payload, &p))
		assert.Equal(t, "p-host", p.PlayerID)
		assert.Equal(t, 42, p.Value)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	_, srv := newTestServer(t)
	a := dial(t, srv, "match-a")
	b := dial(t, srv, "match-b")

	msg, err := wire.Envelope(wire.TypeForfeit, wire.ForfeitPayload{PlayerID: "p-1"})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(msg))

	// Sender gets the echo, the other room gets nothing.
	readMessage(t, a)
	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray wire.Message
	assert.Error(t, b.ReadJSON(&stray))
}

func TestRejectsMissingRoom(t *testing.T) {
	_, srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIdleConnectionsStayAliveViaPings(t *testing.T) {
	origWait, origPeriod := pongWait, pingPeriod
	pongWait, pingPeriod = 200*time.Millisecond, 50*time.Millisecond
	t.Cleanup(func() { pongWait, pingPeriod = origWait, origPeriod })

	_, srv := newTestServer(t)
	sender := dial(t, srv, "match-1")
	receiver := dial(t, srv, "match-1")

	// Pending readers answer the server's pings during the idle stretch.
	received := make(chan wire.Message, 2)
	for _, conn := range []*websocket.Conn{sender, receiver} {
		conn := conn
		go func() {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var msg wire.Message
			if err := conn.ReadJSON(&msg); err == nil {
				received <- msg
			}
		}()
	}

	// Sit idle for several full pong windows, then publish. A connection
	// that is dropped on the fixed deadline never sees the broadcast.
	time.Sleep(4 * pongWait)
	msg, err := wire.Envelope(wire.TypeMatchEnd, wire.MatchEndPayload{})
	require.NoError(t, err)
	require.NoError(t, sender.WriteJSON(msg))

	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			assert.Equal(t, wire.TypeMatchEnd, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("connection was dropped during the idle period")
		}
	}
}

func TestDepartedConnectionLeavesRoom(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "match-1")
	require.Eventually(t, func() bool { return hub.RoomSize("match-1") == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize("match-1") == 0 },
		time.Second, 10*time.Millisecond)
}
