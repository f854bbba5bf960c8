package room

import (
	"errors"
	"sync"
	"time"

	"spinfm/logger"
	"spinfm/model"

	"github.com/google/uuid"
)

const maxDJs = 5

// startLead is how far into the future a published track's start time
// is set, in seconds, so clients can line up playback.
const startLead = 5

// Timer durations are variables so tests can compress time.
var (
	skipDelay    = 5 * time.Second
	removalDelay = 45 * time.Second
)

type onDeckParams struct {
	Track *model.Track `json:"track"`
}

type activeDjParams struct {
	DjID *string `json:"djId"`
}

type skipWarningParams struct {
	Value bool `json:"value"`
}

// Room is the DJ rotation state machine: the track lifecycle, the
// vote/skip protocol, the peer roster, and broadcast fan-out.
//
// All state is serialized under mu. The two suspending operations
// (spin and fetchOnDeck) await a requestTrack reply on a fresh
// goroutine and re-acquire the lock before publishing; every post-await
// path re-checks that the rotation still wants the reply.
type Room struct {
	id      string
	name    string
	adminID string
	server  *Server

	mu           sync.Mutex
	admin        *Peer
	peers        []*Peer
	djs          []*Peer
	activeDJ     *Peer
	nowPlaying   *model.NowPlaying
	onDeck       *model.Track
	skipWarning  bool
	skipTimer    *time.Timer
	removalTimer *time.Timer
	removed      bool

	// spinSeq and fetchSeq invalidate in-flight requestTrack
	// continuations when a newer spin or prefetch supersedes them.
	spinSeq  uint64
	fetchSeq uint64
}

func newRoom(s *Server, name string, admin *Peer) *Room {
	r := &Room{
		id:      uuid.NewString(),
		name:    name,
		adminID: admin.ID(),
		admin:   admin,
		server:  s,
	}
	r.mu.Lock()
	r.scheduleRemovalLocked()
	r.mu.Unlock()
	return r
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Summary returns the abridged view used in room lists.
func (r *Room) Summary() model.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.RoomSummary{
		ID:         r.id,
		Name:       r.name,
		AdminID:    r.adminID,
		PeerCount:  len(r.peers),
		NowPlaying: r.nowPlaying,
	}
}

// ========== roster ==========

// AddPeer appends a peer to the roster and returns the full room state
// for the joiner. The rest of the room learns via setPeers; the joiner
// is additionally caught up on the current track and on-deck privately.
func (r *Room) AddPeer(p *Peer) model.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelRemovalLocked()
	if !containsPeer(r.peers, p) {
		r.peers = append(r.peers, p)
	}

	r.broadcastLocked("setPeers", r.peersParamsLocked(), p)
	r.server.broadcastRoomsAsync()

	if r.nowPlaying != nil {
		p.Send("playTrack", r.nowPlaying)
	}
	if r.onDeck != nil {
		p.Send("setOnDeck", onDeckParams{Track: r.onDeck.WithoutData()})
	}

	logger.Info("peer entered room",
		logger.String("roomId", r.id),
		logger.String("peerId", p.ID()))
	return r.stateLocked()
}

// RemovePeer splices a peer out of the roster, out of the rotation, and
// schedules room removal when the roster empties.
func (r *Room) RemovePeer(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !containsPeer(r.peers, p) {
		return
	}
	r.peers = withoutPeer(r.peers, p)
	r.removeDjLocked(p)
	if r.admin == p {
		r.admin = nil
	}

	r.broadcastLocked("setPeers", r.peersParamsLocked(), nil)
	r.server.broadcastRoomsAsync()

	if len(r.peers) == 0 {
		r.scheduleRemovalLocked()
	}

	logger.Info("peer left room",
		logger.String("roomId", r.id),
		logger.String("peerId", p.ID()))
}

// ========== rotation ==========

// AddDj appends a peer to the rotation. The first DJ starts playback;
// a DJ who lands in the next slot triggers a prefetch.
func (r *Room) AddDj(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if containsPeer(r.djs, p) {
		return errors.New("already a dj")
	}
	if len(r.djs) >= maxDJs {
		return errors.New("too many djs, not enough mics")
	}

	r.djs = append(r.djs, p)
	r.broadcastDjsLocked()

	if len(r.djs) == 1 {
		r.spinLocked(nil)
	} else if r.nextDjLocked() == p {
		r.fetchOnDeckLocked()
	}
	return nil
}

// RemoveDj takes a peer out of the rotation, advancing or ending
// playback as needed.
func (r *Room) RemoveDj(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !containsPeer(r.djs, p) {
		return errors.New("you are not a dj")
	}
	r.removeDjLocked(p)
	return nil
}

func (r *Room) removeDjLocked(p *Peer) {
	if !containsPeer(r.djs, p) {
		return
	}

	refreshOnDeck := r.nextDjLocked() == p
	wasActive := r.activeDJ == p

	// The successor has to be computed while p still holds its slot;
	// after the splice the rotation has lost p's position.
	var successor *Peer
	if wasActive {
		successor = r.nextDjLocked()
		if successor == p {
			successor = nil
		}
	}

	r.djs = withoutPeer(r.djs, p)
	r.broadcastDjsLocked()

	if wasActive {
		if !r.endTrackLocked(successor) {
			// Nothing was playing: a spin for p is still awaiting its
			// track. Start a fresh spin; the sequence bump discards the
			// in-flight reply.
			r.spinLocked(successor)
		}
		return
	}
	if len(r.djs) == 0 {
		r.clearOnDeckLocked()
		return
	}
	if refreshOnDeck {
		r.fetchOnDeckLocked()
	}
}

// nextDjLocked computes who plays after the current active DJ.
func (r *Room) nextDjLocked() *Peer {
	if len(r.djs) == 0 {
		return nil
	}
	if r.activeDJ == nil {
		return r.djs[0]
	}
	idx := indexOfPeer(r.djs, r.activeDJ)
	return r.djs[(idx+1)%len(r.djs)]
}

func (r *Room) setActiveDjLocked(dj *Peer) {
	r.activeDJ = dj
	var id *string
	if dj != nil {
		s := dj.ID()
		id = &s
	}
	r.broadcastLocked("setActiveDj", activeDjParams{DjID: id}, nil)
}

// spinLocked advances the rotation and publishes a track. successor
// overrides the computed next DJ when the previous active DJ has
// already left the rotation.
func (r *Room) spinLocked(successor *Peer) {
	r.spinSeq++
	seq := r.spinSeq

	dj := successor
	if dj == nil || !containsPeer(r.djs, dj) {
		dj = r.nextDjLocked()
	}
	r.setActiveDjLocked(dj)

	if dj == nil {
		r.clearOnDeckLocked()
		return
	}

	if r.onDeck != nil {
		track := r.onDeck
		r.onDeck = nil
		r.publishLocked(dj, track)
		return
	}

	go func() {
		track, err := dj.requestTrack()

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.removed || r.spinSeq != seq {
			return
		}
		if err != nil {
			logger.Warn("dj did not provide a track",
				logger.String("roomId", r.id),
				logger.String("peerId", dj.ID()),
				logger.ErrorField(err))
			return
		}
		if r.activeDJ != dj || !containsPeer(r.djs, dj) {
			return
		}

		track.ID = uuid.NewString()
		track.URL = r.server.TrackURL(track.ID)
		r.server.tracks.Put(track)
		r.publishLocked(dj, track)
	}()
}

// publishLocked makes track the now-playing record and fans it out.
// The track is already in the registry under its assigned id.
func (r *Room) publishLocked(dj *Peer, track *model.Track) {
	r.nowPlaying = &model.NowPlaying{
		Track:     track.WithoutData(),
		Votes:     make(map[string]bool),
		StartedAt: time.Now().Unix() + startLead,
	}
	r.broadcastLocked("playTrack", r.nowPlaying, nil)
	r.server.broadcastRoomsAsync()

	dj.Send("cycleSelectedQueue", struct{}{})
	r.fetchOnDeckLocked()
}

// fetchOnDeckLocked prefetches the next track without blocking
// playback. Best-effort: failures leave on-deck empty.
func (r *Room) fetchOnDeckLocked() {
	if r.onDeck != nil {
		r.server.tracks.Remove(r.onDeck.ID)
		r.onDeck = nil
	}

	target := r.nextDjLocked()
	if target == nil {
		return
	}

	r.fetchSeq++
	seq := r.fetchSeq

	go func() {
		track, err := target.requestTrack()

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.removed || r.fetchSeq != seq {
			return
		}
		// The rotation may have moved while we waited; a reply from a
		// DJ who is no longer next is discarded.
		if r.nextDjLocked() != target {
			return
		}
		if err != nil {
			logger.Warn("on-deck fetch failed",
				logger.String("roomId", r.id),
				logger.String("peerId", target.ID()),
				logger.ErrorField(err))
			return
		}

		track.ID = uuid.NewString()
		track.URL = r.server.TrackURL(track.ID)
		r.server.tracks.Put(track)
		r.onDeck = track
		r.broadcastLocked("setOnDeck", onDeckParams{Track: track.WithoutData()}, nil)
	}()
}

// clearOnDeckLocked evicts any on-deck track and tells the room the
// deck is empty.
func (r *Room) clearOnDeckLocked() {
	if r.onDeck != nil {
		r.server.tracks.Remove(r.onDeck.ID)
		r.onDeck = nil
	}
	r.broadcastLocked("setOnDeck", onDeckParams{}, nil)
}

// EndTrackBy ends the current track on behalf of p, who must be the
// active DJ. msg is the error reported otherwise.
func (r *Room) EndTrackBy(p *Peer, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeDJ != p || p == nil {
		return errors.New(msg)
	}
	r.endTrackLocked(nil)
	return nil
}

// endTrackLocked terminates the current track and advances the
// rotation. Returns false when nothing was playing. The active DJ
// field is deliberately left in place until spin recomputes it, so the
// rotation advances from the finished DJ's slot.
func (r *Room) endTrackLocked(successor *Peer) bool {
	if r.nowPlaying == nil {
		return false
	}

	r.server.tracks.Remove(r.nowPlaying.Track.ID)
	r.nowPlaying = nil
	r.cancelSkipLocked(true)

	r.broadcastLocked("stopTrack", struct{}{}, nil)
	r.broadcastLocked("setActiveDj", activeDjParams{}, nil)
	r.server.broadcastRoomsAsync()

	r.spinLocked(successor)
	return true
}

// ========== votes ==========

// SetVote records a vote on the current track and evaluates the skip
// predicate. down is true for a downvote.
func (r *Room) SetVote(p *Peer, down bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nowPlaying == nil {
		return errors.New("there is no song playing to vote on")
	}

	r.nowPlaying.Votes[p.ID()] = down
	r.broadcastLocked("setVotes", struct {
		Votes map[string]bool `json:"votes"`
	}{Votes: r.nowPlaying.Votes}, nil)

	ups, downs := 0, 0
	for _, d := range r.nowPlaying.Votes {
		if d {
			downs++
		} else {
			ups++
		}
	}
	total := ups + downs
	quorum := float64(total) / float64(len(r.peers))
	downPerc := float64(downs) / float64(total)
	shouldSkip := quorum >= 0.30 && downPerc >= 0.50

	switch {
	case shouldSkip && !r.skipWarning:
		r.skipWarning = true
		r.broadcastLocked("setSkipWarning", skipWarningParams{Value: true}, nil)
		r.skipTimer = time.AfterFunc(skipDelay, r.skipTimerFired)
	case !shouldSkip && r.skipWarning:
		r.cancelSkipLocked(true)
	}
	return nil
}

func (r *Room) skipTimerFired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.skipWarning || r.removed {
		return
	}
	r.skipWarning = false
	r.skipTimer = nil
	r.broadcastLocked("setSkipWarning", skipWarningParams{Value: false}, nil)
	r.endTrackLocked(nil)
}

// cancelSkipLocked retracts a pending skip. No-op when no warning is
// up, so the timer-fired path doesn't double-broadcast.
func (r *Room) cancelSkipLocked(broadcast bool) {
	if !r.skipWarning {
		return
	}
	if r.skipTimer != nil {
		r.skipTimer.Stop()
		r.skipTimer = nil
	}
	r.skipWarning = false
	if broadcast {
		r.broadcastLocked("setSkipWarning", skipWarningParams{Value: false}, nil)
	}
}

// ========== chat, profile, queue ==========

// SendChat broadcasts a chat message with a server-minted id.
func (r *Room) SendChat(p *Peer, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked("newChatMsg", model.ChatMessage{
		ID:        uuid.NewString(),
		Message:   message,
		PeerID:    p.ID(),
		Timestamp: time.Now().UnixMilli(),
	}, nil)
}

// BroadcastProfile tells the room about a peer's updated profile.
func (r *Room) BroadcastProfile(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := p.Summary()
	r.broadcastLocked("setPeerProfile", struct {
		PeerID  string      `json:"peerId"`
		Profile interface{} `json:"profile"`
	}{PeerID: summary.ID, Profile: summary.Profile}, nil)
}

// QueueUpdated re-fetches on-deck when the caller is the next DJ;
// anyone else is a silent no-op.
func (r *Room) QueueUpdated(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextDjLocked() == p {
		r.fetchOnDeckLocked()
	}
}

// ========== removal ==========

func (r *Room) scheduleRemovalLocked() {
	if r.removalTimer != nil {
		r.removalTimer.Stop()
	}
	r.removalTimer = time.AfterFunc(removalDelay, r.removalTimerFired)
}

func (r *Room) cancelRemovalLocked() {
	if r.removalTimer != nil {
		r.removalTimer.Stop()
		r.removalTimer = nil
	}
}

func (r *Room) removalTimerFired() {
	r.mu.Lock()
	if r.removed || len(r.peers) > 0 {
		r.mu.Unlock()
		return
	}
	r.removed = true
	r.cancelSkipLocked(false)
	if r.nowPlaying != nil {
		r.server.tracks.Remove(r.nowPlaying.Track.ID)
		r.nowPlaying = nil
	}
	if r.onDeck != nil {
		r.server.tracks.Remove(r.onDeck.ID)
		r.onDeck = nil
	}
	r.mu.Unlock()

	r.server.removeRoom(r)
}

// ========== views and plumbing ==========

func (r *Room) stateLocked() model.RoomState {
	peers := make([]model.PeerSummary, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p.Summary())
	}
	djs := make([]string, 0, len(r.djs))
	for _, d := range r.djs {
		djs = append(djs, d.ID())
	}
	var active *string
	if r.activeDJ != nil {
		s := r.activeDJ.ID()
		active = &s
	}
	return model.RoomState{
		ID:         r.id,
		Name:       r.name,
		AdminID:    r.adminID,
		Peers:      peers,
		DJs:        djs,
		ActiveDJ:   active,
		NowPlaying: r.nowPlaying,
		OnDeck:     r.onDeck.WithoutData(),
	}
}

func (r *Room) peersParamsLocked() interface{} {
	peers := make([]model.PeerSummary, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p.Summary())
	}
	return struct {
		Peers []model.PeerSummary `json:"peers"`
	}{Peers: peers}
}

func (r *Room) broadcastDjsLocked() {
	djs := make([]string, 0, len(r.djs))
	for _, d := range r.djs {
		djs = append(djs, d.ID())
	}
	r.broadcastLocked("setDjs", struct {
		DJs []string `json:"djs"`
	}{DJs: djs}, nil)
}

func (r *Room) broadcastLocked(name string, params interface{}, exclude *Peer) {
	for _, p := range r.peers {
		if p == exclude {
			continue
		}
		p.Send(name, params)
	}
}

func containsPeer(peers []*Peer, p *Peer) bool {
	return indexOfPeer(peers, p) >= 0
}

func indexOfPeer(peers []*Peer, p *Peer) int {
	for i, q := range peers {
		if q == p {
			return i
		}
	}
	return -1
}

func withoutPeer(peers []*Peer, p *Peer) []*Peer {
	out := peers[:0]
	for _, q := range peers {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}
