package multiplayer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glitchmath/duel/internal/wire"
)

type lobbyPeer struct {
	inviter   *Inviter
	invites   []wire.InvitePayload
	responses []wire.InviteResponsePayload
}

func newLobbyPeer(t *testing.T, ch Channel, self Identity, busy func() bool) *lobbyPeer {
	t.Helper()
	p := &lobbyPeer{}
	p.inviter = NewInviter(InviterConfig{
		Channel:    ch,
		Self:       self,
		Busy:       busy,
		Logger:     zerolog.Nop(),
		OnInvite:   func(inv wire.InvitePayload) { p.invites = append(p.invites, inv) },
		OnResponse: func(r wire.InviteResponsePayload) { p.responses = append(p.responses, r) },
	})
	require.NoError(t, p.inviter.Start(context.Background()))
	t.Cleanup(p.inviter.Close)
	return p
}

func TestInviteReachesAddresseeOnly(t *testing.T) {
	ch := &memoryChannel{}
	alice := newLobbyPeer(t, ch, Identity{PlayerID: "p-alice", Name: "Alice", Avatar: "🦊"}, nil)
	bob := newLobbyPeer(t, ch, Identity{PlayerID: "p-bob", Name: "Bob", Avatar: "🦉"}, nil)
	carol := newLobbyPeer(t, ch, Identity{PlayerID: "p-carol", Name: "Carol", Avatar: "🐢"}, nil)

	alice.inviter.SendInvite(context.Background(), "p-bob", 2)

	require.Len(t, bob.invites, 1)
	assert.Equal(t, "p-alice", bob.invites[0].FromPlayerID)
	assert.Equal(t, "Alice", bob.invites[0].FromName)
	assert.Equal(t, 2, bob.invites[0].Duration)
	assert.Empty(t, carol.invites, "bystanders must not see invites addressed to others")
	assert.Empty(t, alice.invites, "sender must not receive its own invite")
}

func TestRespondRoundTrip(t *testing.T) {
	ch := &memoryChannel{}
	alice := newLobbyPeer(t, ch, Identity{PlayerID: "p-alice", Name: "Alice", Avatar: "🦊"}, nil)
	bob := newLobbyPeer(t, ch, Identity{PlayerID: "p-bob", Name: "Bob", Avatar: "🦉"}, nil)

	alice.inviter.SendInvite(context.Background(), "p-bob", 1)
	require.Len(t, bob.invites, 1)

	bob.inviter.Respond(context.Background(), bob.invites[0].FromPlayerID, true)

	require.Len(t, alice.responses, 1)
	assert.True(t, alice.responses[0].Accepted)
	assert.Equal(t, "p-bob", alice.responses[0].FromPlayerID)
	assert.Equal(t, "Bob", alice.responses[0].FromName)
}

func TestBusyPlayerAutoDeclines(t *testing.T) {
	ch := &memoryChannel{}
	alice := newLobbyPeer(t, ch, Identity{PlayerID: "p-alice", Name: "Alice", Avatar: "🦊"}, nil)
	bob := newLobbyPeer(t, ch, Identity{PlayerID: "p-bob", Name: "Bob", Avatar: "🦉"}, func() bool { return true })

	alice.inviter.SendInvite(context.Background(), "p-bob", 3)

	assert.Empty(t, bob.invites, "a mid-match player never surfaces the invite")
	require.Len(t, alice.responses, 1)
	assert.False(t, alice.responses[0].Accepted)
}

func TestCloseStopsDelivery(t *testing.T) {
	ch := &memoryChannel{}
	alice := newLobbyPeer(t, ch, Identity{PlayerID: "p-alice", Name: "Alice", Avatar: "🦊"}, nil)
	bob := newLobbyPeer(t, ch, Identity{PlayerID: "p-bob", Name: "Bob", Avatar: "🦉"}, nil)

	bob.inviter.Close()
	alice.inviter.SendInvite(context.Background(), "p-bob", 1)

	assert.Empty(t, bob.invites)
}
