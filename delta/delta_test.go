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

package delta

import (
	"testing"

	"github.com/launix-de/scenesync/layerstore"
	"github.com/launix-de/scenesync/value"
)

type collectingSink struct {
	changed []PrimitiveChanged
	owners  []OwnerChanged
}

func (s *collectingSink) Notify(n Notice) {
	if n.PrimitiveChanged != nil {
		s.changed = append(s.changed, *n.PrimitiveChanged)
	}
	if n.OwnerChanged != nil {
		s.owners = append(s.owners, *n.OwnerChanged)
	}
}

func buildLoadedStore(t *testing.T) *layerstore.LayerStore {
	t.Helper()
	ls := layerstore.New()
	ls.OnLoaded()
	return ls
}

func TestProcessRemoteUpdatesCreatesSpecAndResyncs(t *testing.T) {
	ls := buildLoadedStore(t)
	sink := &collectingSink{}

	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/World": {SpecType: value.SpecTypePrim, Fields: []layerstore.FieldEntry{
			{Key: "visibility", Value: value.NewToken("inherited")},
		}},
	}, 1)

	ProcessRemoteUpdates(ls, sink)

	if !ls.HasSpec("/World") {
		t.Fatalf("expected /World spec to be auto-created")
	}
	if len(sink.changed) != 1 || !sink.changed[0].Resynced {
		t.Fatalf("expected a single resync notice for newly created prim, got %+v", sink.changed)
	}
	if got, ok := ls.Get("/World", "visibility").Token(); !ok || got != "inherited" {
		t.Fatalf("expected visibility=inherited, got %v ok=%v", got, ok)
	}
}

func TestAcknowledgeMarkerClearsUnacknowledged(t *testing.T) {
	ls := buildLoadedStore(t)
	_ = ls.CreateSpec("/World", value.SpecTypePrim)
	_ = ls.Set("/World", "visibility", value.NewToken("inherited"))
	if !ls.IsUnacknowledged("/World") {
		t.Fatalf("expected /World to be unacknowledged after local edit")
	}

	sink := &collectingSink{}
	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/World": {SpecType: value.SpecTypePrim}, // zero fields: acknowledge marker
	}, 1)
	ProcessRemoteUpdates(ls, sink)

	if ls.IsUnacknowledged("/World") {
		t.Fatalf("acknowledge marker should have cleared unacknowledged")
	}
	if len(sink.changed) != 0 {
		t.Fatalf("acknowledge marker must not produce a change notice, got %+v", sink.changed)
	}
}

func TestSkipRuleProtectsUnacknowledgedLocalEdit(t *testing.T) {
	ls := buildLoadedStore(t)
	_ = ls.CreateSpec("/World", value.SpecTypePrim)
	_ = ls.Set("/World", "displayName", value.NewString("mine"))
	if !ls.IsUnacknowledged("/World") {
		t.Fatalf("expected unacknowledged local edit")
	}

	sink := &collectingSink{}
	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/World": {SpecType: value.SpecTypePrim, Fields: []layerstore.FieldEntry{
			{Key: "displayName", Value: value.NewString("theirs")},
		}},
	}, 1)
	ProcessRemoteUpdates(ls, sink)

	got, _ := ls.Get("/World", "displayName").String()
	if got != "mine" {
		t.Fatalf("skip rule should have protected the local edit, got %q", got)
	}
}

func TestForceRuleOverridesXformOpEvenWhenUnacknowledged(t *testing.T) {
	ls := buildLoadedStore(t)
	_ = ls.CreateSpec("/World", value.SpecTypePrim)
	_ = ls.Set("/World", "xformOp:translate", value.NewVec3d(value.Vec3d{1, 1, 1}))

	sink := &collectingSink{}
	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/World": {SpecType: value.SpecTypePrim, Fields: []layerstore.FieldEntry{
			{Key: "xformOp:translate", Value: value.NewVec3d(value.Vec3d{2, 2, 2})},
		}},
	}, 1)
	ProcessRemoteUpdates(ls, sink)

	got := ls.Get("/World", "xformOp:translate")
	if got.Kind != value.KindVec3d {
		t.Fatalf("expected vec3d kind after force apply, got %s", got.Kind)
	}
}

func TestMergeRuleCombinesPrimChildrenOrderDependingOnAckState(t *testing.T) {
	ls := buildLoadedStore(t)
	_ = ls.CreateSpec("/World", value.SpecTypePrim)
	_ = ls.Set("/World", FieldPrimChildren, value.NewTokenArray([]value.Token{"A", "B"}))
	// still unacknowledged: remote precedes local

	sink := &collectingSink{}
	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/World": {SpecType: value.SpecTypePrim, Fields: []layerstore.FieldEntry{
			{Key: FieldPrimChildren, Value: value.NewTokenArray([]value.Token{"B", "C"})},
		}},
	}, 1)
	ProcessRemoteUpdates(ls, sink)

	got, _ := ls.Get("/World", FieldPrimChildren).TokenArray()
	want := []value.Token{"B", "C", "A"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestOwnerChangedNotice(t *testing.T) {
	ls := buildLoadedStore(t)
	_ = ls.CreateSpec("/World", value.SpecTypePrim)

	d := value.NewDict()
	d.Set("owner", value.NewString("None"))
	sink := &collectingSink{}
	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/World": {SpecType: value.SpecTypePrim, Fields: []layerstore.FieldEntry{
			{Key: FieldCustomData, Value: value.NewDictValue(d)},
		}},
	}, 1)
	ProcessRemoteUpdates(ls, sink)

	if len(sink.owners) != 1 || sink.owners[0].Owner != "none" {
		t.Fatalf("expected owner-changed notice with owner=none, got %+v", sink.owners)
	}
}

func TestActiveFieldAlwaysResyncs(t *testing.T) {
	ls := buildLoadedStore(t)
	_ = ls.CreateSpec("/World", value.SpecTypePrim)
	// Acknowledge the initial creation so the path isn't unacknowledged
	// going into the Active update below.
	ls.Acknowledge([]value.Path{"/World"})

	sink := &collectingSink{}
	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/World": {SpecType: value.SpecTypePrim, Fields: []layerstore.FieldEntry{
			{Key: FieldActive, Value: value.NewBool(false)},
		}},
	}, 1)
	ProcessRemoteUpdates(ls, sink)

	if len(sink.changed) != 1 || !sink.changed[0].Resynced {
		t.Fatalf("expected a resync notice for an Active flag change, got %+v", sink.changed)
	}
}

func TestGapInSequenceBlocksLaterFrames(t *testing.T) {
	ls := buildLoadedStore(t)
	sink := &collectingSink{}

	// Sequence 2 arrives before sequence 1: must not apply until the
	// gap is filled.
	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/A": {SpecType: value.SpecTypePrim},
	}, 2)
	ProcessRemoteUpdates(ls, sink)
	if ls.Sequence() != 0 {
		t.Fatalf("sequence must not advance past a gap, got %d", ls.Sequence())
	}

	ls.AccumulateRemote(map[value.Path]layerstore.SpecData{
		"/B": {SpecType: value.SpecTypePrim},
	}, 1)
	ProcessRemoteUpdates(ls, sink)
	if ls.Sequence() != 2 {
		t.Fatalf("expected sequence to reach 2 once the gap is filled, got %d", ls.Sequence())
	}
}
