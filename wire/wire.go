/*
Copyright (C) 2025  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package wire implements the frame envelope and event bodies carried
// over the websocket transport (component C6).
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/launix-de/scenesync/value"
)

// EventTag identifies which body a frame carries.
type EventTag string

const (
	EventDelta       EventTag = "Delta::Event"
	EventAcknowledge EventTag = "Acknowledge::Event"
	EventHistory     EventTag = "History::Event"
	EventReload      EventTag = "Reload::Event"
)

// PingPayload and PongPayload are the application-level keepalive
// frames §4.4 calls for. They travel outside the {event,body} Frame
// envelope as fixed raw text, matched by direct string comparison on
// both ends instead of through Encode/Decode, since the keepalive has
// no SpecUpdate-bearing body to carry.
const (
	PingPayload = `{"event":"Ping::Event","body":{}}`
	PongPayload = `{"event":"Pong::Event","body":{}}`
)

// Frame is the outer envelope every websocket text message carries:
// { "event": <tag>, "body": <object> }.
type Frame struct {
	Event EventTag
	Body  any
}

// FieldEntry is one (key, value) pair inside a spec's update.
type FieldEntry struct {
	Key   value.Token `json:"key"`
	Value value.Value `json:"value"`
}

// SpecUpdate is one path's worth of field changes within a Delta event.
type SpecUpdate struct {
	Path   value.Path      `json:"path"`
	Spec   value.SpecType  `json:"spec"`
	Fields []FieldEntry    `json:"fields"`
}

// DeltaEvent carries one layer's batch of local or sequenced remote
// changes. Sequence is nil when authored by a client and populated by
// the hub before broadcast.
type DeltaEvent struct {
	Layer    string       `json:"layer"`
	User     string       `json:"user"`
	Sequence *uint64      `json:"sequence"`
	Updates  []SpecUpdate `json:"updates"`
}

// AcknowledgeEvent is sent by the hub back to the originating
// connection once a DeltaEvent has been sequenced.
type AcknowledgeEvent struct {
	Layer    string       `json:"layer"`
	Paths    []value.Path `json:"paths"`
	Sequence uint64       `json:"sequence"`
}

// HistoryEvent terminates the join-time history replay. It carries no
// fields; clients never send it.
type HistoryEvent struct{}

// ReloadEvent clears a layer's history on both hub and peers.
type ReloadEvent struct {
	Layer    string  `json:"layer"`
	Sequence *uint64 `json:"sequence"`
}

// wireFrame is the JSON shape of Frame.
type wireFrame struct {
	Event EventTag        `json:"event"`
	Body  json.RawMessage `json:"body"`
}

// Encode renders f as a single JSON text frame.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f.Body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s body: %w", f.Event, err)
	}
	return json.Marshal(wireFrame{Event: f.Event, Body: body})
}

// Decode parses a single JSON text frame and returns the typed body
// matching its event tag. The returned Body is one of *DeltaEvent,
// *AcknowledgeEvent, *HistoryEvent, or *ReloadEvent.
func Decode(raw []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{}, fmt.Errorf("wire: malformed frame: %w", err)
	}
	switch w.Event {
	case EventDelta:
		var d DeltaEvent
		if err := json.Unmarshal(w.Body, &d); err != nil {
			return Frame{}, fmt.Errorf("wire: decode Delta::Event: %w", err)
		}
		if err := validateDelta(&d); err != nil {
			return Frame{}, err
		}
		return Frame{Event: w.Event, Body: &d}, nil
	case EventAcknowledge:
		var a AcknowledgeEvent
		if err := json.Unmarshal(w.Body, &a); err != nil {
			return Frame{}, fmt.Errorf("wire: decode Acknowledge::Event: %w", err)
		}
		return Frame{Event: w.Event, Body: &a}, nil
	case EventHistory:
		var h HistoryEvent
		return Frame{Event: w.Event, Body: &h}, nil
	case EventReload:
		var r ReloadEvent
		if err := json.Unmarshal(w.Body, &r); err != nil {
			return Frame{}, fmt.Errorf("wire: decode Reload::Event: %w", err)
		}
		return Frame{Event: w.Event, Body: &r}, nil
	default:
		return Frame{}, fmt.Errorf("wire: unknown event tag %q", w.Event)
	}
}

// validateDelta enforces §6.1: SpecType Unknown must never appear in
// a Delta::Event update.
func validateDelta(d *DeltaEvent) error {
	for _, u := range d.Updates {
		if u.Spec == value.SpecTypeUnknown {
			return fmt.Errorf("wire: Delta::Event at %q carries SpecType Unknown", u.Path)
		}
	}
	return nil
}
