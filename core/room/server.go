package room

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"spinfm/config"
	"spinfm/core/auth"
	"spinfm/core/registry"
	"spinfm/logger"
	"spinfm/model"
)

// Session is the reliable ordered channel a peer is reached over. The
// websocket transport implements it; tests substitute their own.
type Session interface {
	Send(name string, params interface{}) error
	Call(ctx context.Context, name string, params interface{}, result interface{}) error
	Close() error
}

// Server is the directory of rooms and connected peers, the room
// factory, and the holder of the track registry.
type Server struct {
	id     string
	name   string
	wsURL  string
	url    string
	secret []byte
	tracks *registry.Registry

	mu    sync.RWMutex
	rooms map[string]*Room
	peers map[*Peer]struct{}
}

// NewServer creates a server from configuration.
func NewServer(cfg *config.Config) *Server {
	return &Server{
		id:     cfg.ServerID,
		name:   cfg.ServerName,
		wsURL:  cfg.WsURL,
		url:    cfg.HTTPURL,
		secret: []byte(cfg.JWTSecret),
		tracks: registry.New(),
		rooms:  make(map[string]*Room),
		peers:  make(map[*Peer]struct{}),
	}
}

// ID returns the server id.
func (s *Server) ID() string { return s.id }

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// Tracks returns the track registry.
func (s *Server) Tracks() *registry.Registry { return s.tracks }

// TrackURL mints the public URL for a track id.
func (s *Server) TrackURL(trackID string) string {
	return s.url + "tracks/" + trackID
}

// Connect registers a fresh transport session as a peer and starts its
// authentication deadline.
func (s *Server) Connect(sess Session) *Peer {
	p := newPeer(s, sess)

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	p.start()
	logger.Info("peer connected")
	return p
}

// disconnect drops a peer from the directory.
func (s *Server) disconnect(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	logger.Info("peer disconnected", logger.String("peerId", p.ID()))
}

// createRoom mints a room administered by the creating peer. A room
// starts empty, so its removal clock starts immediately; the creator's
// join cancels it.
func (s *Server) createRoom(name string, admin *Peer) *Room {
	r := newRoom(s, name, admin)

	s.mu.Lock()
	s.rooms[r.id] = r
	s.mu.Unlock()

	logger.Info("room created",
		logger.String("roomId", r.id),
		logger.String("name", name),
		logger.String("adminId", r.adminID))
	s.broadcastRoomsAsync()
	return r
}

// RoomByID looks a room up, returning nil when absent.
func (s *Server) RoomByID(id string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[id]
}

// removeRoom detaches a room from the directory. Track eviction is the
// room's own job and has already happened by the time this runs.
func (s *Server) removeRoom(r *Room) {
	s.mu.Lock()
	delete(s.rooms, r.id)
	s.mu.Unlock()

	logger.Info("room removed", logger.String("roomId", r.id))
	s.BroadcastRooms()
}

// RoomSummaries returns the abridged room list, ordered by name then id
// so clients see a stable listing.
func (s *Server) RoomSummaries() []model.RoomSummary {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	summaries := make([]model.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, r.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Name != summaries[j].Name {
			return summaries[i].Name < summaries[j].Name
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// BroadcastRooms pushes the abridged room list to every connected peer.
func (s *Server) BroadcastRooms() {
	summaries := s.RoomSummaries()

	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	params := struct {
		Rooms []model.RoomSummary `json:"rooms"`
	}{Rooms: summaries}
	for _, p := range peers {
		p.Send("setRooms", params)
	}
}

// broadcastRoomsAsync defers the rooms push off the caller's lock.
func (s *Server) broadcastRoomsAsync() {
	go s.BroadcastRooms()
}

// signSession issues a session token binding peerID to this server.
func (s *Server) signSession(peerID string) (string, error) {
	return auth.Sign(s.secret, auth.Claims{
		WsURL:      s.wsURL,
		ServerName: s.name,
		PeerID:     peerID,
	})
}

// SignInvite issues a join-invite token for this server.
func (s *Server) SignInvite() (string, error) {
	return auth.Sign(s.secret, auth.Claims{
		WsURL:      s.wsURL,
		ServerName: s.name,
	})
}

// verifyInvite checks a join-invite token against this server's
// identity.
func (s *Server) verifyInvite(token string) error {
	claims, err := auth.Verify(s.secret, token)
	if err != nil {
		return err
	}
	if claims.WsURL != s.wsURL || claims.ServerName != s.name || claims.PeerID != "" {
		return fmt.Errorf("token issued for a different server")
	}
	return nil
}

// verifySession checks a session token and returns the embedded peer id.
func (s *Server) verifySession(token string) (string, error) {
	claims, err := auth.Verify(s.secret, token)
	if err != nil {
		return "", err
	}
	if claims.WsURL != s.wsURL || claims.ServerName != s.name || claims.PeerID == "" {
		return "", fmt.Errorf("token issued for a different server")
	}
	return claims.PeerID, nil
}
