package model

import (
	"encoding/json"
)

// Track is a track as the coordination engine sees it: a server-assigned
// id and URL plus whatever metadata the providing client attached. The
// metadata is opaque and carried through untouched.
//
// Clients may include a transient "data" field holding the payload bytes
// in their requestTrack reply. It is captured into Data on decode and is
// never re-encoded, so peer-visible copies always lack it.
type Track struct {
	ID   string
	URL  string
	Data string
	Meta map[string]interface{}
}

// MarshalJSON encodes the client metadata with the server-assigned id
// and url folded in. The payload is always stripped.
func (t *Track) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(t.Meta)+2)
	for k, v := range t.Meta {
		out[k] = v
	}
	delete(out, "data")
	if t.ID != "" {
		out["id"] = t.ID
	}
	if t.URL != "" {
		out["url"] = t.URL
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a client-supplied track, pulling out the known
// fields and keeping the rest as opaque metadata.
func (t *Track) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["id"].(string); ok {
		t.ID = v
	}
	if v, ok := raw["url"].(string); ok {
		t.URL = v
	}
	if v, ok := raw["data"].(string); ok {
		t.Data = v
	}
	delete(raw, "id")
	delete(raw, "url")
	delete(raw, "data")
	t.Meta = raw
	return nil
}

// WithoutData returns a copy of the track with the payload dropped.
func (t *Track) WithoutData() *Track {
	if t == nil {
		return nil
	}
	return &Track{ID: t.ID, URL: t.URL, Meta: t.Meta}
}

// NowPlaying is the record of the currently playing track in a room.
// Votes maps peer id to vote direction, true meaning a downvote.
// StartedAt is seconds since epoch; it is set five seconds into the
// future at publish so clients can line up playback.
type NowPlaying struct {
	Track     *Track          `json:"track"`
	Votes     map[string]bool `json:"votes"`
	StartedAt int64           `json:"startedAt"`
}
