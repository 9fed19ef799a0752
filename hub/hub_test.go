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

package hub

import (
	"testing"

	"github.com/launix-de/scenesync/wire"
)

func recvFrame(t *testing.T, c *connection) wire.Frame {
	t.Helper()
	select {
	case raw := <-c.send:
		f, err := wire.Decode(raw)
		if err != nil {
			t.Fatalf("decode queued frame: %v", err)
		}
		return f
	default:
		t.Fatalf("expected a queued frame, found none")
		return wire.Frame{}
	}
}

func TestJoinEmptyChannelSendsOnlyHistoryTerminator(t *testing.T) {
	h := New(DefaultConfig())
	c := newConnection()
	h.join("scene", c)

	f := recvFrame(t, c)
	if f.Event != wire.EventHistory {
		t.Fatalf("expected a lone History::Event on joining an empty channel, got %s", f.Event)
	}
}

func TestHandleDeltaAssignsSequenceAndBroadcastsExceptSender(t *testing.T) {
	h := New(DefaultConfig())
	sender := newConnection()
	other := newConnection()
	h.join("scene", sender)
	<-sender.send // drain the initial History::Event
	h.join("scene", other)
	<-other.send

	d := &wire.DeltaEvent{Layer: "root.usda", User: "alice", Updates: []wire.SpecUpdate{
		{Path: "/World"},
	}}
	h.handleDelta("scene", sender, d)

	// sender gets an Acknowledge::Event, not the Delta::Event itself.
	ackFrame := recvFrame(t, sender)
	ack, ok := ackFrame.Body.(*wire.AcknowledgeEvent)
	if !ok || ack.Sequence != 1 {
		t.Fatalf("expected Acknowledge::Event at sequence 1, got %+v", ackFrame.Body)
	}

	deltaFrame := recvFrame(t, other)
	delta, ok := deltaFrame.Body.(*wire.DeltaEvent)
	if !ok {
		t.Fatalf("expected other connection to receive the Delta::Event, got %T", deltaFrame.Body)
	}
	if delta.Sequence == nil || *delta.Sequence != 1 {
		t.Fatalf("expected broadcast delta to carry sequence 1, got %v", delta.Sequence)
	}
}

func TestReplayHistorySendsInOrderThenTerminator(t *testing.T) {
	h := New(DefaultConfig())
	first := newConnection()
	h.join("scene", first)
	<-first.send

	for i := 0; i < 3; i++ {
		h.handleDelta("scene", first, &wire.DeltaEvent{Layer: "root.usda", Updates: []wire.SpecUpdate{{Path: "/World"}}})
		<-first.send // drain each Acknowledge::Event
	}

	late := newConnection()
	h.join("scene", late)

	for i := 0; i < 3; i++ {
		f := recvFrame(t, late)
		d, ok := f.Body.(*wire.DeltaEvent)
		if !ok {
			t.Fatalf("expected replayed Delta::Event, got %T", f.Body)
		}
		if d.Sequence == nil || *d.Sequence != uint64(i+1) {
			t.Fatalf("expected replay in sequence order, got %v at position %d", d.Sequence, i)
		}
	}
	term := recvFrame(t, late)
	if term.Event != wire.EventHistory {
		t.Fatalf("expected a terminating History::Event after replay, got %s", term.Event)
	}
}

func TestHandleReloadClearsHistoryAndBroadcasts(t *testing.T) {
	h := New(DefaultConfig())
	a := newConnection()
	b := newConnection()
	h.join("scene", a)
	<-a.send
	h.join("scene", b)
	<-b.send

	h.handleDelta("scene", a, &wire.DeltaEvent{Layer: "root.usda", Updates: []wire.SpecUpdate{{Path: "/World"}}})
	<-a.send // ack
	<-b.send // delta

	h.handleReload("scene", a, &wire.ReloadEvent{Layer: "root.usda"})

	f := recvFrame(t, b)
	r, ok := f.Body.(*wire.ReloadEvent)
	if !ok {
		t.Fatalf("expected b to receive the Reload::Event, got %T", f.Body)
	}
	if r.Sequence == nil || *r.Sequence != 2 {
		t.Fatalf("expected reload to carry the next sequence (2), got %v", r.Sequence)
	}

	ch := h.channels["scene"]
	if len(ch.history["root.usda"]) != 0 {
		t.Fatalf("expected history to be cleared after reload, got %v", ch.history["root.usda"])
	}
}

func TestDispatchIgnoresAcknowledgeAndHistoryFromConnection(t *testing.T) {
	h := New(DefaultConfig())
	c := newConnection()
	h.join("scene", c)
	<-c.send

	// Neither call should panic or enqueue anything back to c or
	// register any channel-state mutation; §4.5 treats these as
	// server-to-client only.
	h.dispatch("scene", c, wire.Frame{Event: wire.EventAcknowledge, Body: &wire.AcknowledgeEvent{}})
	h.dispatch("scene", c, wire.Frame{Event: wire.EventHistory, Body: &wire.HistoryEvent{}})

	select {
	case raw := <-c.send:
		t.Fatalf("expected no frames enqueued, got %s", raw)
	default:
	}
}
