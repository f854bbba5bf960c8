package model

import "encoding/json"

// PeerSummary is the peer-visible view of a peer.
type PeerSummary struct {
	ID      string          `json:"id"`
	Profile json.RawMessage `json:"profile"`
}

// RoomSummary is the abridged room view used in room lists: no roster,
// just the headline state.
type RoomSummary struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	AdminID    string      `json:"adminId"`
	PeerCount  int         `json:"peerCount"`
	NowPlaying *NowPlaying `json:"nowPlaying"`
}

// RoomState is the full room view returned when a peer joins.
type RoomState struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	AdminID    string        `json:"adminId"`
	Peers      []PeerSummary `json:"peers"`
	DJs        []string      `json:"djs"`
	ActiveDJ   *string       `json:"activeDj"`
	NowPlaying *NowPlaying   `json:"nowPlaying"`
	OnDeck     *Track        `json:"onDeck"`
}

// ChatMessage is a chat broadcast. Timestamp is milliseconds since epoch.
type ChatMessage struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	PeerID    string `json:"peerId"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorReply is the uniform failure shape for every RPC.
type ErrorReply struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// SuccessReply is the bare acknowledgement shape.
type SuccessReply struct {
	Success bool `json:"success"`
}
