package hub

import (
	"encoding/json"
	"errors"
	"strconv"
)

// Event type tags form a closed set. Inbound events with any other tag
// are malformed and dropped; they are never silently ignored.
const (
	TypeSubscribe      = "subscribe"
	TypeLocationUpdate = "location_update"
	TypeViewerCount    = "viewer_count"
	TypeShareEnded     = "share_ended"
)

// Event is the envelope for every message crossing a connection.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload names the token a viewer wants to watch.
type SubscribePayload struct {
	Token string `json:"token"`
}

// LocationUpdatePayload is a sharer's position fix, tagged with its token.
type LocationUpdatePayload struct {
	Token string  `json:"token"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// PositionPayload is the outbound fan-out body: the fix only, no token,
// no metadata.
type PositionPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var errMalformed = errors.New("malformed event")

// NewLocationUpdate marshals the outbound fan-out message for one fix.
func NewLocationUpdate(lat, lng float64) ([]byte, error) {
	p, err := json.Marshal(PositionPayload{Lat: lat, Lng: lng})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: TypeLocationUpdate, Payload: p})
}

// NewViewerCount marshals the count message pushed to a sharer's own
// connection. The payload is a bare integer.
func NewViewerCount(n int) ([]byte, error) {
	return json.Marshal(Event{
		Type:    TypeViewerCount,
		Payload: json.RawMessage(strconv.Itoa(n)),
	})
}

// NewShareEnded marshals the terminal notice sent once to each subscriber
// when a session stops.
func NewShareEnded() ([]byte, error) {
	return json.Marshal(Event{
		Type:    TypeShareEnded,
		Payload: json.RawMessage("{}"),
	})
}

// NewSubscribe marshals a subscribe event; used by client commands and
// tests.
func NewSubscribe(token string) ([]byte, error) {
	p, err := json.Marshal(SubscribePayload{Token: token})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: TypeSubscribe, Payload: p})
}

// NewLocationUpdateRequest marshals a sharer's inbound fix; used by
// client commands and tests.
func NewLocationUpdateRequest(token string, lat, lng float64) ([]byte, error) {
	p, err := json.Marshal(LocationUpdatePayload{Token: token, Lat: lat, Lng: lng})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: TypeLocationUpdate, Payload: p})
}

// parseSubscribe validates a subscribe payload.
func parseSubscribe(raw json.RawMessage) (SubscribePayload, error) {
	var p SubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errMalformed
	}
	if p.Token == "" {
		return p, errMalformed
	}
	return p, nil
}

// parseLocationUpdate validates a location_update payload. Coordinates
// must be present; a missing lat or lng is malformed, not (0,0).
func parseLocationUpdate(raw json.RawMessage) (LocationUpdatePayload, error) {
	var p struct {
		Token string   `json:"token"`
		Lat   *float64 `json:"lat"`
		Lng   *float64 `json:"lng"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return LocationUpdatePayload{}, errMalformed
	}
	if p.Token == "" || p.Lat == nil || p.Lng == nil {
		return LocationUpdatePayload{}, errMalformed
	}
	return LocationUpdatePayload{Token: p.Token, Lat: *p.Lat, Lng: *p.Lng}, nil
}
