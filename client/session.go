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

package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/scenesync/delta"
	"github.com/launix-de/scenesync/internal/idgen"
	"github.com/launix-de/scenesync/layerstore"
	"github.com/launix-de/scenesync/value"
	"github.com/launix-de/scenesync/wire"
)

// Callbacks carries the three notice callbacks §6.3 exposes to the
// host, plus the connection-state notice.
type Callbacks struct {
	PrimitiveChanged      func(path value.Path, resynced bool)
	OwnerChanged          func(path value.Path, owner string)
	LiveConnectionChanged func(connected bool)
}

const (
	pingInterval         = 5 * time.Second
	maxMissedPing        = 2
	initialBackoff       = 1 * time.Second
	maxReconnectAttempts = 5
	handshakeTimeout     = 30 * time.Second
)

// Session is one client connection to a hub channel, driving an
// arbitrary number of registered layers.
type Session struct {
	url  string
	user string

	cb Callbacks

	mu      sync.Mutex
	state   State
	desired bool
	conn    *websocket.Conn
	layers  map[string]*layerstore.LayerStore

	sendCh chan []byte
	stopCh chan struct{}

	missedPings  int
	awaitingPong bool
}

// New returns a Session with no registered layers and no active
// connection. User defaults to a generated id if empty, matching
// storage/fast_uuid.go's non-blocking id generation idiom (no
// crypto/rand stall on headless hosts).
func New(user string, cb Callbacks) *Session {
	if user == "" {
		user = idgen.New().String()
	}
	return &Session{
		user:   user,
		cb:     cb,
		layers: make(map[string]*layerstore.LayerStore),
	}
}

// RegisterLayer adds a layer to this session's tick loop, creating its
// LayerStore if not already present, and returns it.
func (s *Session) RegisterLayer(id string) *layerstore.LayerStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok := s.layers[id]; ok {
		return ls
	}
	ls := layerstore.New()
	s.layers[id] = ls
	return ls
}

// UnregisterLayer drops a layer from the tick loop.
func (s *Session) UnregisterLayer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.layers, id)
}

// State reports the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect starts the connection loop against url (§6.2's session URL
// shape) and keeps retrying with bounded backoff until Disconnect is
// called.
func (s *Session) Connect(url string) {
	s.mu.Lock()
	s.url = url
	s.desired = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	go s.connectLoop(stop)
}

// Disconnect cancels any in-flight operation, closes the socket, and
// marks the session no longer desired — the reconnect loop stops
// retrying.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.desired = false
	conn := s.conn
	s.conn = nil
	stop := s.stopCh
	s.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.setState(Disconnected)
	if s.cb.LiveConnectionChanged != nil {
		s.cb.LiveConnectionChanged(false)
	}
}

func (s *Session) connectLoop(stop chan struct{}) {
	attempt := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := s.connectOnce(stop); err != nil {
			attempt++
			capped := attempt
			if capped > maxReconnectAttempts {
				capped = maxReconnectAttempts
			}
			backoff := initialBackoff * time.Duration(capped)
			select {
			case <-stop:
				return
			case <-time.After(backoff):
			}
			continue
		}
		attempt = 0

		select {
		case <-stop:
			return
		default:
		}

		s.mu.Lock()
		desired := s.desired
		s.mu.Unlock()
		if !desired {
			return
		}
	}
}

// connectOnce drives Resolving -> Connecting -> (Tls)Handshake ->
// WsHandshake -> Connected, then runs the read loop until the socket
// closes or an error occurs.
func (s *Session) connectOnce(stop chan struct{}) error {
	s.setState(Resolving)
	s.setState(Connecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("client: dial %s: %w", s.url, err)
	}

	s.setState(WsHandshake)
	s.mu.Lock()
	s.conn = conn
	s.sendCh = make(chan []byte, 256)
	sendCh := s.sendCh
	s.mu.Unlock()
	s.setState(Connected)
	s.mu.Lock()
	s.missedPings = 0
	s.awaitingPong = false
	s.mu.Unlock()
	if s.cb.LiveConnectionChanged != nil {
		s.cb.LiveConnectionChanged(true)
	}

	writerDone := make(chan struct{})
	go s.writeLoop(conn, sendCh, writerDone)
	go s.pingLoop(stop)

	err = s.readLoop(conn)

	s.setState(Closing)
	close(writerDone)
	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	s.setState(Disconnected)
	if s.cb.LiveConnectionChanged != nil {
		s.cb.LiveConnectionChanged(false)
	}
	return err
}

// writeLoop is the single writer for the socket: sends happen
// strictly one at a time, each issued only after the previous
// completes (§4.4).
func (s *Session) writeLoop(conn *websocket.Conn, sendCh chan []byte, done chan struct{}) {
	for {
		select {
		case msg := <-sendCh:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if string(raw) == wire.PongPayload {
			s.mu.Lock()
			s.awaitingPong = false
			s.missedPings = 0
			s.mu.Unlock()
			continue
		}
		frame, err := wire.Decode(raw)
		if err != nil {
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(frame wire.Frame) {
	switch body := frame.Body.(type) {
	case *wire.DeltaEvent:
		s.applyRemoteDelta(body)
	case *wire.AcknowledgeEvent:
		s.applyAcknowledge(body)
	case *wire.ReloadEvent:
		s.applyReload(body)
	case *wire.HistoryEvent:
		// initial replay terminator; no action needed beyond marking
		// loaded, handled per-layer by applyRemoteDelta already having
		// run for every prior frame.
	}
}

func (s *Session) layerStore(id string) (*layerstore.LayerStore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.layers[id]
	return ls, ok
}

func (s *Session) applyRemoteDelta(d *wire.DeltaEvent) {
	ls, ok := s.layerStore(d.Layer)
	if !ok || d.Sequence == nil {
		return
	}
	updates := make(map[value.Path]layerstore.SpecData, len(d.Updates))
	for _, u := range d.Updates {
		fields := make([]layerstore.FieldEntry, len(u.Fields))
		for i, f := range u.Fields {
			fields[i] = layerstore.FieldEntry{Key: f.Key, Value: f.Value}
		}
		updates[u.Path] = layerstore.SpecData{SpecType: u.Spec, Fields: fields}
	}
	ls.AccumulateRemote(updates, *d.Sequence)
	delta.ProcessRemoteUpdates(ls, s.noticeSink())
}

func (s *Session) applyAcknowledge(a *wire.AcknowledgeEvent) {
	ls, ok := s.layerStore(a.Layer)
	if !ok {
		return
	}
	ls.Acknowledge(a.Paths)
}

func (s *Session) applyReload(r *wire.ReloadEvent) {
	_, ok := s.layerStore(r.Layer)
	if !ok {
		return
	}
	// A reload resets the layer's remote view; the host is expected to
	// re-register (and thus recreate) the layer store on this notice.
	if s.cb.PrimitiveChanged != nil {
		s.cb.PrimitiveChanged(value.RootPath, true)
	}
}

func (s *Session) noticeSink() delta.Sink {
	return delta.SinkFunc(func(n delta.Notice) {
		switch {
		case n.PrimitiveChanged != nil && s.cb.PrimitiveChanged != nil:
			s.cb.PrimitiveChanged(n.PrimitiveChanged.Path, n.PrimitiveChanged.Resynced)
		case n.OwnerChanged != nil && s.cb.OwnerChanged != nil:
			s.cb.OwnerChanged(n.OwnerChanged.Path, n.OwnerChanged.Owner)
		}
	})
}

// pingLoop sends an application-level ping every pingInterval and
// disconnects after maxMissedPing consecutive pings go unanswered. A
// ping only counts as missed if the previous one is still
// awaitingPong when the next tick fires — a ping that was answered
// doesn't count against the session, matching §4.4's "two missed
// pings" rule rather than incrementing unconditionally on every tick.
func (s *Session) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			st := s.state
			sendCh := s.sendCh
			if st != Connected {
				s.mu.Unlock()
				return
			}
			if s.awaitingPong {
				s.missedPings++
			} else {
				s.missedPings = 0
			}
			if s.missedPings > maxMissedPing {
				s.mu.Unlock()
				s.Disconnect()
				return
			}
			s.awaitingPong = true
			s.mu.Unlock()
			select {
			case sendCh <- []byte(wire.PingPayload):
			default:
			}
		}
	}
}

// enqueue queues a frame on the single-writer send channel. It is a
// no-op if not currently connected.
func (s *Session) enqueue(frame wire.Frame) error {
	raw, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	sendCh := s.sendCh
	st := s.state
	s.mu.Unlock()
	if st != Connected || sendCh == nil {
		return fmt.Errorf("client: enqueue while not connected (state=%s)", st)
	}
	select {
	case sendCh <- raw:
		return nil
	default:
		return fmt.Errorf("client: send queue full")
	}
}

// Tick is the host's cooperative entry point (§4.4): flush each
// layer's local deltas onto the wire, then drain each layer's
// contiguous pending remote frames. It returns true iff any layer's
// sequence advanced.
func (s *Session) Tick() bool {
	s.mu.Lock()
	ids := make([]string, 0, len(s.layers))
	stores := make(map[string]*layerstore.LayerStore, len(s.layers))
	for id, ls := range s.layers {
		ids = append(ids, id)
		stores[id] = ls
	}
	s.mu.Unlock()

	changed := false
	for _, id := range ids {
		ls := stores[id]
		before := ls.Sequence()

		deltas := ls.FetchLocalDeltas()
		if len(deltas) > 0 {
			s.sendDelta(id, deltas)
		}

		delta.ProcessRemoteUpdates(ls, s.noticeSink())
		if ls.Sequence() != before {
			changed = true
		}
	}
	return changed
}

func (s *Session) sendDelta(layerID string, deltas map[value.Path]layerstore.SpecData) {
	updates := make([]wire.SpecUpdate, 0, len(deltas))
	for path, spec := range deltas {
		fields := make([]wire.FieldEntry, len(spec.Fields))
		for i, f := range spec.Fields {
			fields[i] = wire.FieldEntry{Key: f.Key, Value: f.Value}
		}
		updates = append(updates, wire.SpecUpdate{Path: path, Spec: spec.SpecType, Fields: fields})
	}
	ev := &wire.DeltaEvent{Layer: layerID, User: s.user, Sequence: nil, Updates: updates}
	_ = s.enqueue(wire.Frame{Event: wire.EventDelta, Body: ev})
}
