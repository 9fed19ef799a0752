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

// Package layerstore implements the per-layer scene-data mirror, the
// local-delta/unacknowledged-set bookkeeping, and the out-of-order
// remote-frame buffer (component C2).
package layerstore

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	NonLockingReadMap "github.com/launix-de/NonLockingReadMap"

	"github.com/launix-de/scenesync/value"
)

// FieldEntry is one ordered (token, value) pair of a SpecData.
type FieldEntry struct {
	Key   value.Token
	Value value.Value
}

// SpecData is a spec's type plus its ordered field list. Field order
// is insertion order; lookup is a linear scan (§3: "small N per spec
// in practice").
type SpecData struct {
	SpecType value.SpecType
	Fields   []FieldEntry
}

func newSpecData(t value.SpecType) SpecData {
	return SpecData{SpecType: t}
}

func (s SpecData) indexOf(key value.Token) int {
	for i, f := range s.Fields {
		if f.Key == key {
			return i
		}
	}
	return -1
}

func (s *SpecData) get(key value.Token) value.Value {
	if i := s.indexOf(key); i >= 0 {
		return s.Fields[i].Value
	}
	return value.Value{}
}

func (s *SpecData) set(key value.Token, v value.Value) {
	if i := s.indexOf(key); i >= 0 {
		s.Fields[i].Value = v
		return
	}
	s.Fields = append(s.Fields, FieldEntry{Key: key, Value: v})
}

func (s *SpecData) erase(key value.Token) {
	if i := s.indexOf(key); i >= 0 {
		s.Fields = append(s.Fields[:i], s.Fields[i+1:]...)
	}
}

func (s SpecData) clone() SpecData {
	out := SpecData{SpecType: s.SpecType, Fields: make([]FieldEntry, len(s.Fields))}
	copy(out.Fields, s.Fields)
	return out
}

// specEntry is the NonLockingReadMap element wrapping a SpecData at a
// Path. NonLockingReadMap.KeyGetter requires ComputeSize (accounted
// for via Sizable) and GetKey.
type specEntry struct {
	path value.Path
	data SpecData
}

func (e *specEntry) GetKey() value.Path { return e.path }

func (e *specEntry) ComputeSize() uint {
	sz := uint(len(e.path)) + 16
	for _, f := range e.data.Fields {
		sz += uint(len(f.Key)) + 32
	}
	return sz
}

// pendingFrame is one out-of-order remote delta, keyed by the
// sequence number the hub assigned it.
type pendingFrame struct {
	sequence uint64
	updates  map[value.Path]SpecData
}

// LayerStore is the per-layer mirror described in §3: the
// authoritative `data` table, the local-delta/unacknowledged
// bookkeeping, and the out-of-order remote-frame buffer.
//
// `data` uses NonLockingReadMap because lookups (host polling,
// PrimitiveChanged handlers) vastly outnumber writes, which only
// happen inside the host's own change-block discipline or C3's
// single-writer apply loop.
type LayerStore struct {
	mu sync.Mutex // guards pendingRemote, latestAppliedSequence, processingRemote

	data NonLockingReadMap.NonLockingReadMap[specEntry, value.Path]

	deltaMu       sync.Mutex // guards localDeltas, unacknowledged (host change-block surrogate)
	localDeltas   map[value.Path]SpecData
	unacknowledged map[value.Path]struct{}

	pendingRemote         *btree.BTreeG[pendingFrame]
	latestAppliedSequence uint64
	processingRemote      bool
	loaded                bool
}

// New returns an empty LayerStore with only the pseudo-root spec
// present, per §3's invariant that "/" always exists with SpecType
// PseudoRoot.
func New() *LayerStore {
	ls := &LayerStore{
		data:           NonLockingReadMap.New[specEntry, value.Path](),
		localDeltas:    make(map[value.Path]SpecData),
		unacknowledged: make(map[value.Path]struct{}),
		pendingRemote: btree.NewG[pendingFrame](8, func(a, b pendingFrame) bool {
			return a.sequence < b.sequence
		}),
	}
	root := specEntry{path: value.RootPath, data: newSpecData(value.SpecTypePseudoRoot)}
	ls.data.Set(&root)
	return ls
}

// HasSpec reports whether p has a spec entry.
func (ls *LayerStore) HasSpec(p value.Path) bool {
	return ls.data.Get(p) != nil
}

// CreateSpec inserts (p, SpecData{t, nil}) if absent. It is a no-op if
// p is already present with the same SpecType, and an error if present
// with a different one.
func (ls *LayerStore) CreateSpec(p value.Path, t value.SpecType) error {
	if e := ls.data.Get(p); e != nil {
		if e.data.SpecType != t {
			return fmt.Errorf("layerstore: CreateSpec(%q): already exists with SpecType %s, not %s", p, e.data.SpecType, t)
		}
		return nil
	}
	entry := specEntry{path: p, data: newSpecData(t)}
	ls.data.Set(&entry)
	return nil
}

// EraseSpec removes p. It errors if p is absent.
func (ls *LayerStore) EraseSpec(p value.Path) error {
	if ls.data.Get(p) == nil {
		return fmt.Errorf("layerstore: EraseSpec(%q): no such spec", p)
	}
	ls.data.Remove(p)
	return nil
}

// MoveSpec atomically renames a to b. It errors if a is absent or b is
// already present.
func (ls *LayerStore) MoveSpec(a, b value.Path) error {
	src := ls.data.Get(a)
	if src == nil {
		return fmt.Errorf("layerstore: MoveSpec(%q -> %q): source missing", a, b)
	}
	if ls.data.Get(b) != nil {
		return fmt.Errorf("layerstore: MoveSpec(%q -> %q): destination exists", a, b)
	}
	moved := specEntry{path: b, data: src.data.clone()}
	ls.data.Set(&moved)
	ls.data.Remove(a)
	return nil
}

// Get returns the value of field f at p, or the empty Value if either
// is absent.
func (ls *LayerStore) Get(p value.Path, f value.Token) value.Value {
	e := ls.data.Get(p)
	if e == nil {
		return value.Value{}
	}
	return e.data.get(f)
}

// SpecTypeOf returns the SpecType at p and whether p exists.
func (ls *LayerStore) SpecTypeOf(p value.Path) (value.SpecType, bool) {
	e := ls.data.Get(p)
	if e == nil {
		return 0, false
	}
	return e.data.SpecType, true
}

// Set updates field f at p to v. An empty v erases the field instead.
// Unless processingRemote is set or the store has not yet loaded, the
// write is also mirrored into localDeltas and p is marked
// unacknowledged (§4.2).
func (ls *LayerStore) Set(p value.Path, f value.Token, v value.Value) error {
	if v.IsEmpty() {
		return ls.Erase(p, f)
	}
	e := ls.data.Get(p)
	if e == nil {
		return fmt.Errorf("layerstore: Set(%q.%q): no such spec", p, f)
	}
	updated := e.data.clone()
	updated.set(f, v)
	next := specEntry{path: p, data: updated}
	ls.data.Set(&next)

	if ls.shouldMirrorLocalDelta() {
		ls.deltaMu.Lock()
		d, ok := ls.localDeltas[p]
		if !ok {
			d = newSpecData(updated.SpecType)
		}
		d.set(f, v)
		ls.localDeltas[p] = d
		ls.unacknowledged[p] = struct{}{}
		ls.deltaMu.Unlock()
	}
	return nil
}

// shouldMirrorLocalDelta reports whether a local write should also
// update local_deltas: never while applying remote deltas, and never
// before the initial load completes (§3, §5's echo-loop prevention).
func (ls *LayerStore) shouldMirrorLocalDelta() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return !ls.processingRemote && ls.loaded
}

// Erase removes field f at p, if present. It does not mirror a delta
// on its own; callers that need delta tracking call Set with an empty
// Value instead, matching the host's erase-via-empty-value contract.
func (ls *LayerStore) Erase(p value.Path, f value.Token) error {
	e := ls.data.Get(p)
	if e == nil {
		return fmt.Errorf("layerstore: Erase(%q.%q): no such spec", p, f)
	}
	updated := e.data.clone()
	updated.erase(f)
	next := specEntry{path: p, data: updated}
	ls.data.Set(&next)
	return nil
}

// List returns the ordered field names for spec p.
func (ls *LayerStore) List(p value.Path) []value.Token {
	e := ls.data.Get(p)
	if e == nil {
		return nil
	}
	out := make([]value.Token, len(e.data.Fields))
	for i, f := range e.data.Fields {
		out[i] = f.Key
	}
	return out
}

// FetchLocalDeltas returns and clears localDeltas. unacknowledged is
// left untouched — entries only leave it on acknowledgement (§4.2).
func (ls *LayerStore) FetchLocalDeltas() map[value.Path]SpecData {
	ls.deltaMu.Lock()
	defer ls.deltaMu.Unlock()
	out := ls.localDeltas
	ls.localDeltas = make(map[value.Path]SpecData)
	return out
}

// Acknowledge removes paths from unacknowledged, used both for the
// hub's AcknowledgeEvent and for the delta engine's acknowledge-marker
// rule (a zero-field SpecData in a remote frame).
func (ls *LayerStore) Acknowledge(paths []value.Path) {
	ls.deltaMu.Lock()
	defer ls.deltaMu.Unlock()
	for _, p := range paths {
		delete(ls.unacknowledged, p)
	}
}

// IsUnacknowledged reports whether p has a pending local edit not yet
// acknowledged by the hub.
func (ls *LayerStore) IsUnacknowledged(p value.Path) bool {
	ls.deltaMu.Lock()
	defer ls.deltaMu.Unlock()
	_, ok := ls.unacknowledged[p]
	return ok
}

// AccumulateRemote places a remote frame into pendingRemote under the
// remote-apply lock (§4.2's accumulate_remote).
func (ls *LayerStore) AccumulateRemote(updates map[value.Path]SpecData, seq uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.pendingRemote.ReplaceOrInsert(pendingFrame{sequence: seq, updates: updates})
}

// Sequence reads latestAppliedSequence.
func (ls *LayerStore) Sequence() uint64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.latestAppliedSequence
}

// OnLoaded marks the store as having completed its initial load, after
// which writes begin mirroring into localDeltas.
func (ls *LayerStore) OnLoaded() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.loaded = true
}

// lockRemote marks processingRemote true for the duration of fn, which
// the delta engine uses to drive process_remote_updates as a single
// change-block. Only the flag itself is guarded by ls.mu; fn is run
// with the lock released so that fn's own calls back into
// NextPendingFrame/AdvanceSequence/Sequence (each of which takes
// ls.mu for its own, individually-atomic access) don't self-deadlock
// against a non-reentrant sync.Mutex.
func (ls *LayerStore) lockRemote(fn func()) {
	ls.mu.Lock()
	ls.processingRemote = true
	ls.mu.Unlock()
	defer func() {
		ls.mu.Lock()
		ls.processingRemote = false
		ls.mu.Unlock()
	}()
	fn()
}

// WithRemoteLock runs fn with processingRemote set, matching §5's
// "holders must not call back into the hub" rule — fn must not
// perform network I/O. It does not hold ls.mu across fn; callers that
// need pendingRemote/latestAppliedSequence access go through
// NextPendingFrame/AdvanceSequence/Sequence, each of which is
// independently safe for concurrent use.
func (ls *LayerStore) WithRemoteLock(fn func()) {
	ls.lockRemote(fn)
}

// NextPendingFrame returns the buffered frame for latestAppliedSequence+1,
// if present, without removing it.
func (ls *LayerStore) NextPendingFrame() (updates map[value.Path]SpecData, seq uint64, ok bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	want := ls.latestAppliedSequence + 1
	item, found := ls.pendingRemote.Get(pendingFrame{sequence: want})
	if !found {
		return nil, 0, false
	}
	return item.updates, item.sequence, true
}

// AdvanceSequence increments latestAppliedSequence and removes the
// consumed frame. Safe to call on its own; it takes ls.mu itself
// rather than relying on a lock already held by a caller.
func (ls *LayerStore) AdvanceSequence(seq uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.pendingRemote.Delete(pendingFrame{sequence: seq})
	ls.latestAppliedSequence = seq
}
