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

// Package hub implements the channel server: per-channel routing,
// sequence assignment, history replay on join, and reload broadcast
// (component C5).
package hub

import (
	"sync"

	"github.com/launix-de/scenesync/internal/idgen"
	"github.com/launix-de/scenesync/value"
	"github.com/launix-de/scenesync/wire"
)

// Config holds the hub's tunables, populated from flags by
// cmd/scenesync-hubd the way the teacher's SettingsT is populated from
// package-level settings.
type Config struct {
	Addr         string
	Workers      int
	PingInterval int // seconds, informational; the client owns its own timer
}

// DefaultConfig mirrors the original server's default shared-executor
// pool size of 10 worker threads.
func DefaultConfig() Config {
	return Config{Addr: ":8080", Workers: 10, PingInterval: 5}
}

// connection is one joined websocket peer. debugName is this
// connection's identity for the broadcast-except-sender comparison in
// Channel.Send, mirroring Channel.cpp's GetDebugName() matching.
type connection struct {
	debugName string
	send      chan []byte
	done      chan struct{}
}

func newConnection() *connection {
	return &connection{
		debugName: idgen.New().String(),
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// writeLoop is the connection's single writer: frames are only ever
// written here, one at a time, off the send channel.
func (c *connection) writeLoop(write func([]byte) error, logError func(error)) {
	for {
		select {
		case msg := <-c.send:
			if err := write(msg); err != nil {
				logError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *connection) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Channel is one named collaboration session: its live connections and
// its per-layer sequenced history.
type Channel struct {
	name        string
	connections []*connection
	history     map[string][]*wire.DeltaEvent
}

func newChannel(name string) *Channel {
	return &Channel{name: name, history: make(map[string][]*wire.DeltaEvent)}
}

func (ch *Channel) empty() bool { return len(ch.connections) == 0 }

// nextSequence is history[layer].len()+1, exactly §3's definition.
func (ch *Channel) nextSequence(layer string) uint64 {
	return uint64(len(ch.history[layer])) + 1
}

func (ch *Channel) addConnection(c *connection) {
	ch.connections = append(ch.connections, c)
}

func (ch *Channel) removeConnection(c *connection) {
	for i, other := range ch.connections {
		if other.debugName == c.debugName {
			ch.connections = append(ch.connections[:i], ch.connections[i+1:]...)
			return
		}
	}
}

// broadcastExceptSender encodes frame once and enqueues it on every
// connection but sender.
func (ch *Channel) broadcastExceptSender(sender *connection, frame wire.Frame, logError func(error)) {
	raw, err := wire.Encode(frame)
	if err != nil {
		logError(err)
		return
	}
	for _, c := range ch.connections {
		if c.debugName == sender.debugName {
			continue
		}
		c.enqueue(raw)
	}
}

// Hub owns every live Channel under a single mutex (§5: "all channel
// state mutations happen under a single per-hub mutex").
type Hub struct {
	cfg Config

	mu       sync.Mutex
	channels map[string]*Channel

	logger *Logger
}

// New returns a Hub ready to accept connections.
func New(cfg Config) *Hub {
	return &Hub{cfg: cfg, channels: make(map[string]*Channel), logger: NewLogger()}
}

// join creates the channel if this is the first connection, replays
// its history, and registers c.
func (h *Hub) join(channelName string, c *connection) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelName]
	if !ok {
		ch = newChannel(channelName)
		h.channels[channelName] = ch
	}
	ch.addConnection(c)
	h.logger.Info("connection joined channel", "channel", channelName, "connection", c.debugName)
	h.replayHistory(ch, c)
	return ch
}

// replayHistory sends every stored Delta::Event for every layer in ch,
// in stored order, then a terminating History::Event (§4.5).
func (h *Hub) replayHistory(ch *Channel, c *connection) {
	for _, events := range ch.history {
		for _, ev := range events {
			raw, err := wire.Encode(wire.Frame{Event: wire.EventDelta, Body: ev})
			if err != nil {
				h.logger.Error("encode history frame", "error", err)
				continue
			}
			c.enqueue(raw)
		}
	}
	raw, err := wire.Encode(wire.Frame{Event: wire.EventHistory, Body: &wire.HistoryEvent{}})
	if err != nil {
		h.logger.Error("encode History::Event", "error", err)
		return
	}
	c.enqueue(raw)
}

// leave removes c from its channel and deletes the channel if it is
// now empty.
func (h *Hub) leave(channelName string, c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelName]
	if !ok {
		return
	}
	ch.removeConnection(c)
	h.logger.Info("connection left channel", "channel", channelName, "connection", c.debugName)
	if ch.empty() {
		delete(h.channels, channelName)
	}
}

// handleDelta implements §4.5 steps 1-5.
func (h *Hub) handleDelta(channelName string, sender *connection, d *wire.DeltaEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelName]
	if !ok {
		h.logger.Warn("Delta::Event for unknown channel", "channel", channelName)
		return
	}

	seq := ch.nextSequence(d.Layer)
	acknowledged := *d
	acknowledged.Sequence = &seq
	ch.history[d.Layer] = append(ch.history[d.Layer], &acknowledged)

	ch.broadcastExceptSender(sender, wire.Frame{Event: wire.EventDelta, Body: &acknowledged}, func(err error) {
		h.logger.Error("broadcast Delta::Event", "error", err)
	})

	paths := make([]value.Path, 0, len(d.Updates))
	for _, u := range d.Updates {
		paths = append(paths, u.Path)
	}
	ackEvent := &wire.AcknowledgeEvent{Layer: d.Layer, Paths: paths, Sequence: seq}
	raw, err := wire.Encode(wire.Frame{Event: wire.EventAcknowledge, Body: ackEvent})
	if err != nil {
		h.logger.Error("encode Acknowledge::Event", "error", err)
		return
	}
	sender.enqueue(raw)
}

// handleReload implements §4.5's ReloadEvent handling: assign a
// sequence, clear the layer's history, broadcast to everyone else.
func (h *Hub) handleReload(channelName string, sender *connection, r *wire.ReloadEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelName]
	if !ok {
		h.logger.Warn("Reload::Event for unknown channel", "channel", channelName)
		return
	}

	seq := ch.nextSequence(r.Layer)
	ch.history[r.Layer] = nil
	reload := &wire.ReloadEvent{Layer: r.Layer, Sequence: &seq}
	ch.broadcastExceptSender(sender, wire.Frame{Event: wire.EventReload, Body: reload}, func(err error) {
		h.logger.Error("broadcast Reload::Event", "error", err)
	})
}

// dispatch handles one decoded frame from connection c in channelName.
// HistoryEvent and AcknowledgeEvent arriving from a connection are
// ignored: they are server-to-client only (§4.5).
func (h *Hub) dispatch(channelName string, c *connection, frame wire.Frame) {
	switch body := frame.Body.(type) {
	case *wire.DeltaEvent:
		h.handleDelta(channelName, c, body)
	case *wire.ReloadEvent:
		h.handleReload(channelName, c, body)
	case *wire.AcknowledgeEvent, *wire.HistoryEvent:
		// server-to-client only; silently dropped per §4.5.
	}
}
