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

// Package delta applies sequenced remote frames to a LayerStore,
// enforcing the skip/merge/force conflict rules and emitting change
// notices (component C3).
package delta

import (
	"strings"

	"github.com/launix-de/scenesync/layerstore"
	"github.com/launix-de/scenesync/value"
)

// FieldCustomData and FieldActive are the two well-known field names
// apply_field inspects for owner-change and resync notices.
const (
	FieldCustomData   value.Token = "CustomData"
	FieldActive       value.Token = "Active"
	FieldPrimChildren value.Token = "PrimChildren"
)

const ownerKey = "owner"

// Notice is one of the three callbacks §6.3 exposes to the host.
// Exactly one concrete type is set.
type Notice struct {
	PrimitiveChanged *PrimitiveChanged
	OwnerChanged     *OwnerChanged
}

// PrimitiveChanged reports that a prim's fields changed, and whether
// the change amounts to a full resync (new spec, or an Active flip).
type PrimitiveChanged struct {
	Path     value.Path
	Resynced bool
}

// OwnerChanged reports a live-connection ownership change recorded in
// CustomData["owner"]. Owner is "none" when the remote cleared it.
type OwnerChanged struct {
	Path  value.Path
	Owner string
}

// Sink receives the notices produced by one ProcessRemoteUpdates call.
// Hosts typically wire this to their own notice bus.
type Sink interface {
	Notify(Notice)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(Notice)

func (f SinkFunc) Notify(n Notice) { f(n) }

// ProcessRemoteUpdates applies every contiguous buffered frame
// starting at store.Sequence()+1, exactly as §4.3 describes: one
// change-block per call, per-path notice deduplication preferring a
// resync notice.
func ProcessRemoteUpdates(store *layerstore.LayerStore, sink Sink) {
	store.WithRemoteLock(func() {
		byPath := make(map[value.Path]PrimitiveChanged)
		var owners []OwnerChanged

		for {
			updates, seq, ok := store.NextPendingFrame()
			if !ok {
				break
			}
			for path, spec := range updates {
				if len(spec.Fields) == 0 {
					// Acknowledge marker (§4.3 step 1).
					store.Acknowledge([]value.Path{path})
					continue
				}
				for _, f := range spec.Fields {
					n := applyField(store, path, f.Key, f.Value, spec.SpecType)
					mergeNotice(byPath, &owners, path, n)
				}
				mergeNotice(byPath, &owners, path, fieldNotice{resynced: false, touched: true})
			}
			store.AdvanceSequence(seq)
		}

		emitNotices(sink, byPath, owners)
	})
}

// fieldNotice is the internal per-field outcome of applyField,
// collapsed per-path by mergeNotice before being handed to the sink.
type fieldNotice struct {
	touched  bool
	resynced bool
	owner    *OwnerChanged
}

func mergeNotice(byPath map[value.Path]PrimitiveChanged, owners *[]OwnerChanged, path value.Path, n fieldNotice) {
	if n.owner != nil {
		*owners = append(*owners, *n.owner)
	}
	if !n.touched {
		return
	}
	cur, ok := byPath[path]
	if !ok {
		byPath[path] = PrimitiveChanged{Path: path, Resynced: n.resynced}
		return
	}
	if n.resynced {
		cur.Resynced = true
		byPath[path] = cur
	}
}

// emitNotices applies §4.3's dedup rule ("group by path; if any one is
// a resync, emit exactly that one; else emit the first") and discards
// notices for non-prim paths or the absolute root.
func emitNotices(sink Sink, byPath map[value.Path]PrimitiveChanged, owners []OwnerChanged) {
	for _, o := range owners {
		sink.Notify(Notice{OwnerChanged: &o})
	}
	for path, n := range byPath {
		if !path.IsPrimPath() {
			continue
		}
		notice := n
		sink.Notify(Notice{PrimitiveChanged: &notice})
	}
}

// applyField implements §4.3's per-field rule set in order: spec
// auto-creation, owner-changed detection, then skip/merge/force
// precedence, then the Active-flag resync notice.
func applyField(store *layerstore.LayerStore, path value.Path, field value.Token, v value.Value, specType value.SpecType) fieldNotice {
	var result fieldNotice

	if !store.HasSpec(path) {
		_ = store.CreateSpec(path, specType)
		if path.IsPrimPath() {
			result.resynced = true
			result.touched = true
		}
	}

	if field == FieldCustomData {
		if d, ok := v.Dict(); ok {
			if ownerVal, ok := d.Get(ownerKey); ok {
				if s, ok := ownerVal.String(); ok {
					owner := s
					if owner == "None" {
						owner = "none"
					}
					result.owner = &OwnerChanged{Path: path, Owner: owner}
				}
			}
		}
	}

	unack := store.IsUnacknowledged(path)
	force := strings.Contains(string(field), "xformOp:")
	merge := field == FieldPrimChildren && unack

	switch {
	case unack && !merge && !force:
		// Skip rule: the peer's older value loses to our still-pending
		// local edit.
	case merge:
		mergeTokenArrayField(store, path, field, v, unack)
	default:
		_ = store.Set(path, field, v)
	}

	if field == FieldActive {
		result.resynced = true
		result.touched = true
	}

	return result
}

// mergeTokenArrayField combines the stored token vector with the
// remote one for a still-contested PrimChildren field. Order depends
// on whether the path is still unacknowledged: remote-then-local while
// contested, local-then-remote once settled, deduplicated preserving
// first occurrence (§4.3's merge rule).
func mergeTokenArrayField(store *layerstore.LayerStore, path value.Path, field value.Token, remote value.Value, stillUnacknowledged bool) {
	remoteTokens, _ := remote.TokenArray()
	localTokens, _ := store.Get(path, field).TokenArray()

	var ordered []value.Token
	if stillUnacknowledged {
		ordered = append(ordered, remoteTokens...)
		ordered = append(ordered, localTokens...)
	} else {
		ordered = append(ordered, localTokens...)
		ordered = append(ordered, remoteTokens...)
	}

	seen := make(map[value.Token]struct{}, len(ordered))
	deduped := ordered[:0:0]
	for _, t := range ordered {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		deduped = append(deduped, t)
	}

	_ = store.Set(path, field, value.NewTokenArray(deduped))
}
