package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glitchmath/duel/internal/relay"
	"github.com/glitchmath/duel/internal/wire"
)

func newRelayServer(t *testing.T) string {
	t.Helper()
	hub := relay.NewHub(zerolog.Nop())
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRelayChannelRoundTrip(t *testing.T) {
	base := newRelayServer(t)
	ctx := context.Background()

	host, err := DialRelay(ctx, base, "match-1", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(host.Close)
	guest, err := DialRelay(ctx, base, "match-1", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(guest.Close)

	hostGot := make(chan wire.Message, 1)
	guestGot := make(chan wire.Message, 1)
	_, err = host.Subscribe(ctx, func(m wire.Message) { hostGot <- m })
	require.NoError(t, err)
	_, err = guest.Subscribe(ctx, func(m wire.Message) { guestGot <- m })
	require.NoError(t, err)

	msg, err := wire.Envelope(wire.TypeQuestion, wire.QuestionPayload{QuestionIndex: 3})
	require.NoError(t, err)
	require.NoError(t, host.Publish(ctx, msg))

	// The relay echoes to the whole room, the sender included.
	for _, ch := range []chan wire.Message{hostGot, guestGot} {
		select {
		case got := <-ch:
			assert.Equal(t, wire.TypeQuestion, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for relayed message")
		}
	}
}

func TestRelayChannelUnsubscribeStopsDelivery(t *testing.T) {
	base := newRelayServer(t)
	ctx := context.Background()

	ch, err := DialRelay(ctx, base, "match-2", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(ch.Close)

	got := make(chan wire.Message, 4)
	unsub, err := ch.Subscribe(ctx, func(m wire.Message) { got <- m })
	require.NoError(t, err)
	unsub()

	msg, err := wire.Envelope(wire.TypeMatchEnd, wire.MatchEndPayload{})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(ctx, msg))

	select {
	case <-got:
		t.Fatal("handler ran after unsubscribe")
	case <-time.After(300 * time.Millisecond):
	}
}
