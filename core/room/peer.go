package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"spinfm/core/rpc"
	"spinfm/logger"
	"spinfm/model"

	"github.com/google/uuid"
)

// authTimeout is how long a fresh connection has to complete join or
// authenticate before the session is closed.
var authTimeout = 5 * time.Second

// Peer is one connected client: it owns the transport session, drives
// the authentication deadline, exposes the RPC surface, and forwards
// room-affecting calls to its current room.
type Peer struct {
	server   *Server
	sess     Session
	dispatch *rpc.Dispatcher

	mu        sync.Mutex
	id        string
	profile   json.RawMessage
	room      *Room
	authTimer *time.Timer
}

func newPeer(s *Server, sess Session) *Peer {
	p := &Peer{
		server:   s,
		sess:     sess,
		dispatch: rpc.NewDispatcher(),
		profile:  json.RawMessage("null"),
	}

	p.dispatch.Register("join", p.handleJoin)
	p.dispatch.Register("authenticate", p.handleAuthenticate)
	p.dispatch.Register("fetchRooms", p.handleFetchRooms)
	p.dispatch.Register("createRoom", p.handleCreateRoom)
	p.dispatch.Register("joinRoom", p.handleJoinRoom)
	p.dispatch.Register("leaveRoom", p.handleLeaveRoom)
	p.dispatch.Register("becomeDj", p.handleBecomeDj)
	p.dispatch.Register("stepDown", p.handleStepDown)
	p.dispatch.Register("skipTurn", p.handleSkipTurn)
	p.dispatch.Register("trackEnded", p.handleTrackEnded)
	p.dispatch.Register("updatedQueue", p.handleUpdatedQueue)
	p.dispatch.Register("sendChat", p.handleSendChat)
	p.dispatch.Register("setProfile", p.handleSetProfile)
	p.dispatch.Register("vote", p.handleVote)

	return p
}

// start arms the authentication deadline.
func (p *Peer) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authTimer = time.AfterFunc(authTimeout, func() {
		p.mu.Lock()
		authed := p.id != ""
		p.mu.Unlock()
		if !authed {
			logger.Info("auth deadline passed, closing session")
			p.sess.Close()
		}
	})
}

// HandleRPC routes one incoming message and returns the reply payload.
func (p *Peer) HandleRPC(name string, params json.RawMessage) interface{} {
	return p.dispatch.Dispatch(name, params)
}

// Disconnect removes the peer from its room (if any) and from the
// server roster. Called when the transport session ends.
func (p *Peer) Disconnect() {
	p.mu.Lock()
	r := p.room
	p.room = nil
	if p.authTimer != nil {
		p.authTimer.Stop()
		p.authTimer = nil
	}
	p.mu.Unlock()

	if r != nil {
		r.RemovePeer(p)
	}
	p.server.disconnect(p)
}

// ID returns the peer id, empty until join or authenticate succeeds.
func (p *Peer) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Send pushes a server-originated message to this peer.
func (p *Peer) Send(name string, params interface{}) {
	if err := p.sess.Send(name, params); err != nil {
		logger.Warn("push failed",
			logger.String("name", name),
			logger.ErrorField(err))
	}
}

// Summary returns the peer-visible view of this peer.
func (p *Peer) Summary() model.PeerSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.PeerSummary{ID: p.id, Profile: p.profile}
}

// requestTrack asks this peer (a DJ) for its next track. It blocks
// until the client replies or the session closes; there is no timeout,
// so a stalled DJ stalls the caller until they disconnect.
func (p *Peer) requestTrack() (*model.Track, error) {
	var reply struct {
		Track *model.Track `json:"track"`
	}
	if err := p.sess.Call(context.Background(), "requestTrack", struct{}{}, &reply); err != nil {
		return nil, err
	}
	if reply.Track == nil {
		return nil, fmt.Errorf("dj returned no track")
	}
	return reply.Track, nil
}

func (p *Peer) currentRoom() *Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *Peer) setRoom(r *Room) {
	p.mu.Lock()
	p.room = r
	p.mu.Unlock()
}

func (p *Peer) cancelAuthTimerLocked() {
	if p.authTimer != nil {
		p.authTimer.Stop()
		p.authTimer = nil
	}
}

// ========== RPC handlers ==========

func (p *Peer) handleJoin(params json.RawMessage) (interface{}, error) {
	var req struct {
		JWT string `json:"jwt"`
	}
	json.Unmarshal(params, &req)

	if err := p.server.verifyInvite(req.JWT); err != nil {
		logger.Warn("join with bad invite", logger.ErrorField(err))
		return nil, errors.New("invalid token")
	}

	p.mu.Lock()
	if p.id == "" {
		p.id = uuid.NewString()
	}
	id := p.id
	p.cancelAuthTimerLocked()
	p.mu.Unlock()

	token, err := p.server.signSession(id)
	if err != nil {
		return nil, err
	}

	logger.Info("peer joined", logger.String("peerId", id))
	return struct {
		Token  string `json:"token"`
		PeerID string `json:"peerId"`
	}{Token: token, PeerID: id}, nil
}

func (p *Peer) handleAuthenticate(params json.RawMessage) (interface{}, error) {
	var req struct {
		JWT string `json:"jwt"`
	}
	json.Unmarshal(params, &req)

	peerID, err := p.server.verifySession(req.JWT)
	if err != nil {
		logger.Warn("authenticate with bad session token", logger.ErrorField(err))
		return nil, errors.New("invalid token")
	}

	p.mu.Lock()
	if p.id == "" {
		p.id = peerID
	}
	id := p.id
	p.cancelAuthTimerLocked()
	p.mu.Unlock()

	logger.Info("peer authenticated", logger.String("peerId", id))
	return struct {
		PeerID string `json:"peerId"`
	}{PeerID: id}, nil
}

func (p *Peer) handleFetchRooms(json.RawMessage) (interface{}, error) {
	return p.server.RoomSummaries(), nil
}

func (p *Peer) handleCreateRoom(params json.RawMessage) (interface{}, error) {
	var req struct {
		Name string `json:"name"`
	}
	json.Unmarshal(params, &req)

	if len(req.Name) < 1 {
		return nil, errors.New("name must be at least 1 character")
	}

	r := p.server.createRoom(req.Name, p)
	return r.Summary(), nil
}

func (p *Peer) handleJoinRoom(params json.RawMessage) (interface{}, error) {
	var req struct {
		ID string `json:"id"`
	}
	json.Unmarshal(params, &req)

	r := p.server.RoomByID(req.ID)
	if r == nil {
		return nil, errors.New("room not found")
	}

	// A peer sits on at most one roster; joining elsewhere leaves the
	// old room first.
	if prev := p.currentRoom(); prev != nil && prev != r {
		prev.RemovePeer(p)
	} else if prev == r {
		return r.AddPeer(p), nil
	}

	state := r.AddPeer(p)
	p.setRoom(r)
	return state, nil
}

func (p *Peer) handleLeaveRoom(json.RawMessage) (interface{}, error) {
	r := p.currentRoom()
	if r == nil {
		return nil, errors.New("you are not in a room")
	}
	p.setRoom(nil)
	r.RemovePeer(p)
	return model.SuccessReply{Success: true}, nil
}

func (p *Peer) handleBecomeDj(json.RawMessage) (interface{}, error) {
	r := p.currentRoom()
	if r == nil {
		return nil, errors.New("you are not in a room")
	}
	if err := r.AddDj(p); err != nil {
		return nil, err
	}
	return model.SuccessReply{Success: true}, nil
}

func (p *Peer) handleStepDown(json.RawMessage) (interface{}, error) {
	r := p.currentRoom()
	if r == nil {
		return nil, errors.New("you are not in a room")
	}
	if err := r.RemoveDj(p); err != nil {
		return nil, err
	}
	return model.SuccessReply{Success: true}, nil
}

func (p *Peer) handleSkipTurn(json.RawMessage) (interface{}, error) {
	r := p.currentRoom()
	if r == nil {
		return nil, errors.New("you are not in a room")
	}
	if err := r.EndTrackBy(p, "must be active dj to skip turn"); err != nil {
		return nil, err
	}
	return model.SuccessReply{Success: true}, nil
}

func (p *Peer) handleTrackEnded(json.RawMessage) (interface{}, error) {
	r := p.currentRoom()
	if r == nil {
		return nil, errors.New("you are not in a room")
	}
	if err := r.EndTrackBy(p, "must be active dj to end track"); err != nil {
		return nil, err
	}
	return model.SuccessReply{Success: true}, nil
}

func (p *Peer) handleUpdatedQueue(json.RawMessage) (interface{}, error) {
	// Deliberately a silent no-op unless the caller is the next DJ, so
	// clients can fire it after any queue edit.
	if r := p.currentRoom(); r != nil {
		r.QueueUpdated(p)
	}
	return model.SuccessReply{Success: true}, nil
}

func (p *Peer) handleSendChat(params json.RawMessage) (interface{}, error) {
	var req struct {
		Message string `json:"message"`
	}
	json.Unmarshal(params, &req)

	if len(req.Message) < 1 {
		return nil, errors.New("can't send a blank message")
	}
	r := p.currentRoom()
	if r == nil {
		return nil, errors.New("you are not in a room")
	}
	r.SendChat(p, req.Message)
	return model.SuccessReply{Success: true}, nil
}

func (p *Peer) handleSetProfile(params json.RawMessage) (interface{}, error) {
	var req struct {
		Profile json.RawMessage `json:"profile"`
	}
	json.Unmarshal(params, &req)

	p.mu.Lock()
	if len(req.Profile) > 0 {
		p.profile = req.Profile
	}
	id := p.id
	r := p.room
	p.mu.Unlock()

	if r != nil {
		r.BroadcastProfile(p)
	}
	return struct {
		Success bool   `json:"success"`
		PeerID  string `json:"peerId"`
	}{Success: true, PeerID: id}, nil
}

func (p *Peer) handleVote(params json.RawMessage) (interface{}, error) {
	var req struct {
		Direction string `json:"direction"`
	}
	json.Unmarshal(params, &req)

	if req.Direction != "up" && req.Direction != "down" {
		return nil, errors.New("invalid vote direction")
	}
	r := p.currentRoom()
	if r == nil {
		return nil, errors.New("you are not in a room")
	}
	if err := r.SetVote(p, req.Direction == "down"); err != nil {
		return nil, err
	}
	return model.SuccessReply{Success: true}, nil
}
