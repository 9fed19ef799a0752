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

package layerstore

import "github.com/launix-de/scenesync/value"

// FieldTimeSamples is the well-known field key under which a spec's
// time-sample map is stored, mirroring the host framework's
// convention of keeping time samples alongside a spec's other fields.
const FieldTimeSamples value.Token = "timeSamples"

func (ls *LayerStore) timeSamplesOf(p value.Path) *value.TimeSamples {
	v := ls.Get(p, FieldTimeSamples)
	ts, ok := v.TimeSamples()
	if !ok {
		return value.NewTimeSamples()
	}
	return ts
}

// ListTimeSamples returns the sorted sample times for p.
func (ls *LayerStore) ListTimeSamples(p value.Path) []float64 {
	return ls.timeSamplesOf(p).Times()
}

// BracketResult reports the two times bracketing a query, matching
// §4.2's four cases: exact (lower==upper, on a sample), before the
// first sample, after the last sample, or strictly between two
// samples.
type BracketResult struct {
	Lower, Upper float64
	HasLower     bool
	HasUpper     bool
}

// GetBracketingTimeSamples finds the samples bracketing t.
func (ls *LayerStore) GetBracketingTimeSamples(p value.Path, t float64) BracketResult {
	times := ls.timeSamplesOf(p).Times()
	return bracket(times, t)
}

func bracket(times []float64, t float64) BracketResult {
	if len(times) == 0 {
		return BracketResult{}
	}
	if t <= times[0] {
		return BracketResult{Lower: times[0], Upper: times[0], HasLower: true, HasUpper: true}
	}
	last := times[len(times)-1]
	if t >= last {
		return BracketResult{Lower: last, Upper: last, HasLower: true, HasUpper: true}
	}
	for i := 1; i < len(times); i++ {
		if times[i] == t {
			return BracketResult{Lower: t, Upper: t, HasLower: true, HasUpper: true}
		}
		if times[i] > t {
			return BracketResult{Lower: times[i-1], Upper: times[i], HasLower: true, HasUpper: true}
		}
	}
	return BracketResult{Lower: last, Upper: last, HasLower: true, HasUpper: true}
}

// QueryTimeSample returns the value stored exactly at t.
func (ls *LayerStore) QueryTimeSample(p value.Path, t float64) (value.Value, bool) {
	return ls.timeSamplesOf(p).Get(t)
}

// SetTimeSample writes the sample at t, creating the TimeSamples field
// if it did not exist, and routes the write back through Set so it
// picks up the usual local-delta mirroring.
func (ls *LayerStore) SetTimeSample(p value.Path, t float64, v value.Value) error {
	ts := ls.timeSamplesOf(p)
	ts.Set(t, v)
	return ls.Set(p, FieldTimeSamples, value.NewTimeSamplesValue(ts))
}

// EraseTimeSample removes the sample at t, if present.
func (ls *LayerStore) EraseTimeSample(p value.Path, t float64) error {
	ts := ls.timeSamplesOf(p)
	ts.Erase(t)
	return ls.Set(p, FieldTimeSamples, value.NewTimeSamplesValue(ts))
}
