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
	"testing"

	"github.com/launix-de/scenesync/value"
	"github.com/launix-de/scenesync/wire"
)

func TestNewDefaultsUserWhenEmpty(t *testing.T) {
	s := New("", Callbacks{})
	if s.user == "" {
		t.Fatalf("expected a generated user id when none is given")
	}
}

func TestRegisterLayerIsIdempotent(t *testing.T) {
	s := New("alice", Callbacks{})
	a := s.RegisterLayer("root.usda")
	b := s.RegisterLayer("root.usda")
	if a != b {
		t.Fatalf("expected RegisterLayer to return the same store for the same id")
	}
	s.UnregisterLayer("root.usda")
	c := s.RegisterLayer("root.usda")
	if c == a {
		t.Fatalf("expected a fresh store after UnregisterLayer")
	}
}

func TestStateStringer(t *testing.T) {
	cases := map[State]string{
		Disconnected: "Disconnected",
		Resolving:    "Resolving",
		Connecting:   "Connecting",
		TlsHandshake: "TlsHandshake",
		WsHandshake:  "WsHandshake",
		Connected:    "Connected",
		Closing:      "Closing",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}

func TestSessionStateDefaultsToDisconnected(t *testing.T) {
	s := New("alice", Callbacks{})
	if s.State() != Disconnected {
		t.Fatalf("expected a fresh Session to start Disconnected, got %s", s.State())
	}
}

func TestApplyAcknowledgeClearsUnacknowledgedOnRegisteredLayer(t *testing.T) {
	s := New("alice", Callbacks{})
	ls := s.RegisterLayer("root.usda")
	_ = ls.CreateSpec("/World", value.SpecTypePrim)
	ls.OnLoaded()
	_ = ls.Set("/World", "visibility", value.NewToken("inherited"))
	if !ls.IsUnacknowledged("/World") {
		t.Fatalf("expected /World to be unacknowledged after a local edit")
	}

	s.applyAcknowledge(&wire.AcknowledgeEvent{Layer: "root.usda", Paths: []value.Path{"/World"}, Sequence: 1})
	if ls.IsUnacknowledged("/World") {
		t.Fatalf("expected applyAcknowledge to clear the unacknowledged mark")
	}
}

func TestApplyRemoteDeltaIgnoredForUnregisteredLayer(t *testing.T) {
	s := New("alice", Callbacks{})
	seq := uint64(1)
	d := &wire.DeltaEvent{Layer: "missing.usda", Sequence: &seq}
	// Should not panic even though "missing.usda" was never registered.
	s.applyRemoteDelta(d)
}

func TestApplyRemoteDeltaAppliesToRegisteredLayerAndNotifies(t *testing.T) {
	var changedPaths []value.Path
	s := New("alice", Callbacks{
		PrimitiveChanged: func(p value.Path, resynced bool) { changedPaths = append(changedPaths, p) },
	})
	_ = s.RegisterLayer("root.usda")

	seq := uint64(1)
	d := &wire.DeltaEvent{
		Layer:    "root.usda",
		Sequence: &seq,
		Updates: []wire.SpecUpdate{
			{Path: "/World", Spec: value.SpecTypePrim, Fields: []wire.FieldEntry{
				{Key: "visibility", Value: value.NewToken("inherited")},
			}},
		},
	}
	s.applyRemoteDelta(d)

	ls, _ := s.layerStore("root.usda")
	if got, ok := ls.Get("/World", "visibility").Token(); !ok || got != "inherited" {
		t.Fatalf("expected the remote delta to be applied, got %v ok=%v", got, ok)
	}
	if len(changedPaths) != 1 || changedPaths[0] != "/World" {
		t.Fatalf("expected a PrimitiveChanged notice for /World, got %v", changedPaths)
	}
}

func TestTickSendsLocalDeltaOnlyAfterLoaded(t *testing.T) {
	s := New("alice", Callbacks{})
	ls := s.RegisterLayer("root.usda")
	_ = ls.CreateSpec("/World", value.SpecTypePrim)
	ls.OnLoaded()
	_ = ls.Set("/World", "visibility", value.NewToken("inherited"))

	// Tick attempts to flush the local delta via enqueue, which fails
	// silently because the session isn't connected; the important
	// behavior under test is that FetchLocalDeltas was drained exactly
	// once regardless of the enqueue outcome.
	s.Tick()
	deltas := ls.FetchLocalDeltas()
	if len(deltas) != 0 {
		t.Fatalf("expected Tick to have already drained local deltas, got %v", deltas)
	}
}

func TestEnqueueFailsWhenNotConnected(t *testing.T) {
	s := New("alice", Callbacks{})
	err := s.enqueue(wire.Frame{Event: wire.EventDelta, Body: &wire.DeltaEvent{Layer: "root.usda"}})
	if err == nil {
		t.Fatalf("expected enqueue to fail while not connected")
	}
}
