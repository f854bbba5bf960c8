package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthGateClosesSilentSessions(t *testing.T) {
	srv := NewServer(testConfig())
	sess := newFakeSession("silent")
	srv.Connect(sess)

	require.Eventually(t, func() bool {
		return sess.isClosed()
	}, authTimeout+500*time.Millisecond, 5*time.Millisecond)
}

func TestJoinCancelsAuthGate(t *testing.T) {
	srv := NewServer(testConfig())
	sess := newFakeSession("prompt")
	joinedPeer(t, srv, sess)

	time.Sleep(authTimeout + 100*time.Millisecond)
	assert.False(t, sess.isClosed())
}

func TestJoinThenAuthenticateRoundTrip(t *testing.T) {
	srv := NewServer(testConfig())
	invite, err := srv.SignInvite()
	require.NoError(t, err)

	first := srv.Connect(newFakeSession("first"))
	reply := rpcCall(t, first, "join", fmt.Sprintf(`{"jwt":%q}`, invite))
	requireOK(t, reply)
	token := reply["token"].(string)
	peerID := reply["peerId"].(string)
	require.NotEmpty(t, token)
	require.NotEmpty(t, peerID)

	// A reconnecting client authenticates with the session token and
	// gets the same identity back.
	second := srv.Connect(newFakeSession("second"))
	reply = rpcCall(t, second, "authenticate", fmt.Sprintf(`{"jwt":%q}`, token))
	requireOK(t, reply)
	assert.Equal(t, peerID, reply["peerId"])
	assert.Equal(t, peerID, second.ID())
}

func TestJoinRejectsBadTokens(t *testing.T) {
	srv := NewServer(testConfig())

	p := srv.Connect(newFakeSession("bad"))
	requireErrMsg(t, rpcCall(t, p, "join", `{"jwt":"garbage"}`), "invalid token")

	// A session token is not a join invite.
	sessionToken, err := srv.signSession("someone")
	require.NoError(t, err)
	requireErrMsg(t, rpcCall(t, p, "join", fmt.Sprintf(`{"jwt":%q}`, sessionToken)), "invalid token")

	// An invite for a different server does not verify here.
	otherCfg := testConfig()
	otherCfg.ServerName = "otherfm"
	other := NewServer(otherCfg)
	foreign, err := other.SignInvite()
	require.NoError(t, err)
	requireErrMsg(t, rpcCall(t, p, "join", fmt.Sprintf(`{"jwt":%q}`, foreign)), "invalid token")
}

func TestAuthenticateRejectsInvite(t *testing.T) {
	srv := NewServer(testConfig())
	invite, err := srv.SignInvite()
	require.NoError(t, err)

	p := srv.Connect(newFakeSession("p"))
	requireErrMsg(t, rpcCall(t, p, "authenticate", fmt.Sprintf(`{"jwt":%q}`, invite)), "invalid token")
}

func TestUnknownMethod(t *testing.T) {
	srv := NewServer(testConfig())
	p := srv.Connect(newFakeSession("p"))
	requireErrMsg(t, rpcCall(t, p, "frobnicate", `{}`), "Invalid method name")
}

func TestRoomPreconditions(t *testing.T) {
	srv := NewServer(testConfig())
	p := joinedPeer(t, srv, newFakeSession("p"))

	requireErrMsg(t, rpcCall(t, p, "leaveRoom", `{}`), "you are not in a room")
	requireErrMsg(t, rpcCall(t, p, "becomeDj", `{}`), "you are not in a room")
	requireErrMsg(t, rpcCall(t, p, "sendChat", `{"message":"hi"}`), "you are not in a room")
	requireErrMsg(t, rpcCall(t, p, "vote", `{"direction":"down"}`), "you are not in a room")
	requireErrMsg(t, rpcCall(t, p, "createRoom", `{"name":""}`), "name must be at least 1 character")
	requireErrMsg(t, rpcCall(t, p, "joinRoom", `{"id":"nope"}`), "room not found")
}

func TestDisconnectLeavesRoom(t *testing.T) {
	srv := NewServer(testConfig())
	r, peers, sessions := setupRoom(t, srv, 3)
	a := peers[0]

	requireOK(t, rpcCall(t, a, "becomeDj", `{}`))
	require.Eventually(t, func() bool {
		return nowPlayingTrackID(r) != ""
	}, time.Second, 5*time.Millisecond)

	// The active DJ's transport drops: implicit leaveRoom plus server
	// deregistration. The track ends and the roster shrinks.
	a.Disconnect()

	require.Eventually(t, func() bool {
		return sessions[1].pushCount("stopTrack") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, r.Summary().PeerCount)
	assert.Empty(t, djIDs(r))

	// Disconnecting twice is harmless.
	a.Disconnect()
	assert.Equal(t, 2, r.Summary().PeerCount)
}

func TestFetchRoomsIsOrdered(t *testing.T) {
	srv := NewServer(testConfig())
	p := joinedPeer(t, srv, newFakeSession("p"))

	for _, name := range []string{"zebra", "alpha", "mid"} {
		requireOK(t, rpcCall(t, p, "createRoom", fmt.Sprintf(`{"name":%q}`, name)))
	}

	summaries := srv.RoomSummaries()
	require.Len(t, summaries, 3)
	assert.Equal(t, "alpha", summaries[0].Name)
	assert.Equal(t, "mid", summaries[1].Name)
	assert.Equal(t, "zebra", summaries[2].Name)
}
