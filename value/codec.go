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

package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed or unrecognized value envelope.
// Position is the byte offset json.Decoder had reached when the
// problem surfaced; it is best-effort, not exact.
type DecodeError struct {
	Position int64
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("value: decode error at byte %d: %s", e.Position, e.Reason)
}

// envelope is the canonical wire shape: {"type":"<tag>","data":<body>}.
type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes v as the canonical {"type":...,"data":...} envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	body, err := encodeBody(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: v.Kind, Data: body})
}

// UnmarshalJSON decodes the canonical envelope into v. Any type tag
// outside the closed Kind set is a *DecodeError, never a panic.
func (v *Value) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return &DecodeError{Reason: "malformed envelope: " + err.Error()}
	}
	decoded, err := decodeBody(env.Type, env.Data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func encodeBody(v Value) (json.RawMessage, error) {
	switch v.Kind {
	case "":
		return json.Marshal(nil)
	case KindBool:
		b, _ := v.Bool()
		return json.Marshal(b)
	case KindInt:
		i, _ := v.Int()
		return json.Marshal(i)
	case KindDouble:
		f, _ := v.Double()
		return json.Marshal(f)
	case KindFloat:
		f, _ := v.Float()
		return json.Marshal(f)
	case KindString:
		s, _ := v.String()
		return json.Marshal(s)
	case KindToken:
		t, _ := v.Token()
		return json.Marshal(string(t))
	case KindVec2f:
		vv := v.data.(Vec2f)
		return json.Marshal([]float32{vv[0], vv[1]})
	case KindVec2d:
		vv := v.data.(Vec2d)
		return json.Marshal([]float64{vv[0], vv[1]})
	case KindVec3f:
		vv := v.data.(Vec3f)
		return json.Marshal([]float32{vv[0], vv[1], vv[2]})
	case KindVec3d:
		vv := v.data.(Vec3d)
		return json.Marshal([]float64{vv[0], vv[1], vv[2]})
	case KindMatrix4d:
		m := v.data.(Matrix4d)
		return json.Marshal(m[:])
	case KindBoolArray:
		return json.Marshal(v.data.([]bool))
	case KindIntArray:
		return json.Marshal(v.data.([]int64))
	case KindDoubleArray:
		return json.Marshal(v.data.([]float64))
	case KindFloatArray:
		return json.Marshal(v.data.([]float32))
	case KindStringArray:
		return json.Marshal(v.data.([]string))
	case KindTokenArray:
		return json.Marshal(v.data.([]Token))
	case KindVec2fArray:
		return json.Marshal(v.data.([]Vec2f))
	case KindVec3fArray:
		return json.Marshal(v.data.([]Vec3f))
	case KindVec3dArray:
		return json.Marshal(v.data.([]Vec3d))
	case KindAssetPath:
		a := v.data.(AssetPath)
		return json.Marshal(struct {
			Asset    string `json:"asset"`
			Resolved string `json:"resolved"`
		}{a.Requested, a.Resolved})
	case KindReference:
		r := v.data.(Reference)
		return json.Marshal(struct {
			Asset  string      `json:"asset"`
			Prim   Path        `json:"prim"`
			Offset LayerOffset `json:"offset"`
		}{r.Asset, r.TargetPath, r.Offset})
	case KindLayerOffset:
		o := v.data.(LayerOffset)
		return json.Marshal(struct {
			Offset float64 `json:"offset"`
			Scale  float64 `json:"scale"`
		}{o.Offset, o.Scale})
	case KindPathListOp:
		return encodeListOp(v.data.(PathListOp))
	case KindTokenListOp:
		return encodeListOp(v.data.(TokenListOp))
	case KindReferenceListOp:
		return encodeListOp(v.data.(ReferenceListOp))
	case KindDict:
		return encodeDict(v.data.(*Dict))
	case KindValueBlock:
		return json.Marshal(struct{}{})
	case KindVariability:
		return json.Marshal(int32(v.data.(Variability)))
	case KindSpecType:
		return json.Marshal(int32(v.data.(SpecType)))
	case KindSpecifier:
		return json.Marshal(int32(v.data.(Specifier)))
	case KindTimeSamples:
		return encodeTimeSamples(v.data.(*TimeSamples))
	default:
		return nil, &DecodeError{Reason: "unknown value kind: " + string(v.Kind)}
	}
}

// listOpWire is the six-bucket canonical shape. added and ordered are
// always emitted (possibly empty) on encode and always ignored on
// decode, per §4.1.
type listOpWire[T any] struct {
	Explicit  []T `json:"explicit"`
	Added     []T `json:"added"`
	Prepended []T `json:"prepended"`
	Appended  []T `json:"appended"`
	Deleted   []T `json:"deleted"`
	Ordered   []T `json:"ordered"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func encodeListOp[T any](op any) (json.RawMessage, error) {
	switch o := op.(type) {
	case PathListOp:
		return json.Marshal(listOpWire[Path]{
			Explicit: nonNil(o.Explicit), Added: []Path{},
			Prepended: nonNil(o.Prepended), Appended: nonNil(o.Appended),
			Deleted: nonNil(o.Deleted), Ordered: []Path{},
		})
	case TokenListOp:
		return json.Marshal(listOpWire[Token]{
			Explicit: nonNil(o.Explicit), Added: []Token{},
			Prepended: nonNil(o.Prepended), Appended: nonNil(o.Appended),
			Deleted: nonNil(o.Deleted), Ordered: []Token{},
		})
	case ReferenceListOp:
		return json.Marshal(listOpWire[Reference]{
			Explicit: nonNil(o.Explicit), Added: []Reference{},
			Prepended: nonNil(o.Prepended), Appended: nonNil(o.Appended),
			Deleted: nonNil(o.Deleted), Ordered: []Reference{},
		})
	default:
		return nil, &DecodeError{Reason: "unknown list-op payload"}
	}
}

func encodeDict(d *Dict) (json.RawMessage, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, k := range d.Keys() {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		val, ok := d.Get(k)
		if !ok {
			return nil, &DecodeError{Reason: "dict key vanished during encode: " + k}
		}
		vb, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func encodeTimeSamples(ts *TimeSamples) (json.RawMessage, error) {
	m := make(map[string]Value, ts.Len())
	for _, t := range ts.Times() {
		v, _ := ts.Get(t)
		m[formatTimeKey(t)] = v
	}
	return json.Marshal(m)
}

func formatTimeKey(t float64) string {
	return fmt.Sprintf("%g", t)
}

func decodeBody(kind Kind, data json.RawMessage) (Value, error) {
	if kind == "" {
		return Value{}, nil
	}
	switch kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return Value{}, &DecodeError{Reason: "bool: " + err.Error()}
		}
		return NewBool(b), nil
	case KindInt:
		var i int64
		if err := json.Unmarshal(data, &i); err != nil {
			return Value{}, &DecodeError{Reason: "int: " + err.Error()}
		}
		return NewInt(i), nil
	case KindDouble:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return Value{}, &DecodeError{Reason: "double: " + err.Error()}
		}
		return NewDouble(f), nil
	case KindFloat:
		var f float32
		if err := json.Unmarshal(data, &f); err != nil {
			return Value{}, &DecodeError{Reason: "float: " + err.Error()}
		}
		return NewFloat(f), nil
	case KindString:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Value{}, &DecodeError{Reason: "string: " + err.Error()}
		}
		return NewString(s), nil
	case KindToken:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Value{}, &DecodeError{Reason: "token: " + err.Error()}
		}
		return NewToken(Token(s)), nil
	case KindVec2f:
		var a [2]float32
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "vec2f: " + err.Error()}
		}
		return NewVec2f(Vec2f(a)), nil
	case KindVec2d:
		var a [2]float64
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "vec2d: " + err.Error()}
		}
		return NewVec2d(Vec2d(a)), nil
	case KindVec3f:
		var a [3]float32
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "vec3f: " + err.Error()}
		}
		return NewVec3f(Vec3f(a)), nil
	case KindVec3d:
		var a [3]float64
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "vec3d: " + err.Error()}
		}
		return NewVec3d(Vec3d(a)), nil
	case KindMatrix4d:
		var a [16]float64
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "matrix4d: " + err.Error()}
		}
		return NewMatrix4d(Matrix4d(a)), nil
	case KindBoolArray:
		var a []bool
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "bool[]: " + err.Error()}
		}
		return NewBoolArray(a), nil
	case KindIntArray:
		var a []int64
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "int[]: " + err.Error()}
		}
		return NewIntArray(a), nil
	case KindDoubleArray:
		var a []float64
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "double[]: " + err.Error()}
		}
		return NewDoubleArray(a), nil
	case KindFloatArray:
		var a []float32
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "float[]: " + err.Error()}
		}
		return NewFloatArray(a), nil
	case KindStringArray:
		var a []string
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "string[]: " + err.Error()}
		}
		return NewStringArray(a), nil
	case KindTokenArray:
		var a []Token
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "token[]: " + err.Error()}
		}
		return NewTokenArray(a), nil
	case KindVec2fArray:
		var a []Vec2f
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "vec2f[]: " + err.Error()}
		}
		return NewVec2fArray(a), nil
	case KindVec3fArray:
		var a []Vec3f
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "vec3f[]: " + err.Error()}
		}
		return NewVec3fArray(a), nil
	case KindVec3dArray:
		var a []Vec3d
		if err := json.Unmarshal(data, &a); err != nil {
			return Value{}, &DecodeError{Reason: "vec3d[]: " + err.Error()}
		}
		return NewVec3dArray(a), nil
	case KindAssetPath:
		var w struct {
			Asset    string `json:"asset"`
			Resolved string `json:"resolved"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return Value{}, &DecodeError{Reason: "assetPath: " + err.Error()}
		}
		return NewAssetPath(AssetPath{Requested: w.Asset, Resolved: w.Resolved}), nil
	case KindReference:
		var w struct {
			Asset  string      `json:"asset"`
			Prim   Path        `json:"prim"`
			Offset LayerOffset `json:"offset"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return Value{}, &DecodeError{Reason: "reference: " + err.Error()}
		}
		return NewReference(Reference{Asset: w.Asset, TargetPath: w.Prim, Offset: w.Offset}), nil
	case KindLayerOffset:
		var w struct {
			Offset float64 `json:"offset"`
			Scale  float64 `json:"scale"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return Value{}, &DecodeError{Reason: "layerOffset: " + err.Error()}
		}
		return NewLayerOffset(LayerOffset(w)), nil
	case KindPathListOp:
		var w listOpWire[Path]
		if err := json.Unmarshal(data, &w); err != nil {
			return Value{}, &DecodeError{Reason: "listOp<path>: " + err.Error()}
		}
		return NewPathListOp(decodeListOp(w)), nil
	case KindTokenListOp:
		var w listOpWire[Token]
		if err := json.Unmarshal(data, &w); err != nil {
			return Value{}, &DecodeError{Reason: "listOp<token>: " + err.Error()}
		}
		return NewTokenListOp(TokenListOp(decodeListOp(w))), nil
	case KindReferenceListOp:
		var w listOpWire[Reference]
		if err := json.Unmarshal(data, &w); err != nil {
			return Value{}, &DecodeError{Reason: "listOp<reference>: " + err.Error()}
		}
		return NewReferenceListOp(ReferenceListOp(decodeListOp(w))), nil
	case KindDict:
		d, err := decodeDict(data)
		if err != nil {
			return Value{}, err
		}
		return NewDictValue(d), nil
	case KindValueBlock:
		return NewValueBlock(), nil
	case KindVariability:
		var i int32
		if err := json.Unmarshal(data, &i); err != nil {
			return Value{}, &DecodeError{Reason: "variability: " + err.Error()}
		}
		return NewVariabilityValue(Variability(i)), nil
	case KindSpecType:
		var i int32
		if err := json.Unmarshal(data, &i); err != nil {
			return Value{}, &DecodeError{Reason: "specType: " + err.Error()}
		}
		return NewSpecTypeValue(SpecType(i)), nil
	case KindSpecifier:
		var i int32
		if err := json.Unmarshal(data, &i); err != nil {
			return Value{}, &DecodeError{Reason: "specifier: " + err.Error()}
		}
		return NewSpecifierValue(Specifier(i)), nil
	case KindTimeSamples:
		ts, err := decodeTimeSamples(data)
		if err != nil {
			return Value{}, err
		}
		return NewTimeSamplesValue(ts), nil
	default:
		return Value{}, &DecodeError{Reason: "unknown type tag: " + string(kind)}
	}
}

// emptyToNil normalizes a zero-length slice (nil or wire-decoded
// `[]`) to nil, so a round trip through the wire doesn't turn an
// originally-nil bucket into a non-nil empty one under a strict
// reflect.DeepEqual comparison.
func emptyToNil[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}

// decodeListOp applies §4.1's rule: explicit wins if non-empty,
// otherwise the result is built from prepended/appended/deleted.
// added and ordered are read into the wire struct but dropped here.
func decodeListOp[T any](w listOpWire[T]) struct{ Explicit, Prepended, Appended, Deleted []T } {
	if len(w.Explicit) > 0 {
		return struct{ Explicit, Prepended, Appended, Deleted []T }{Explicit: w.Explicit}
	}
	return struct{ Explicit, Prepended, Appended, Deleted []T }{
		Prepended: emptyToNil(w.Prepended), Appended: emptyToNil(w.Appended), Deleted: emptyToNil(w.Deleted),
	}
}

func decodeDict(data json.RawMessage) (*Dict, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, &DecodeError{Reason: "dict: " + err.Error()}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &DecodeError{Reason: "dict: expected object"}
	}
	d := NewDict()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, &DecodeError{Reason: "dict key: " + err.Error()}
		}
		key, _ := keyTok.(string)
		var v Value
		if err := dec.Decode(&v); err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("dict[%q]: %s", key, err.Error())}
		}
		d.Set(key, v)
	}
	return d, nil
}

func decodeTimeSamples(data json.RawMessage) (*TimeSamples, error) {
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &DecodeError{Reason: "timeSamples: " + err.Error()}
	}
	ts := NewTimeSamples()
	for k, v := range m {
		var t float64
		if _, err := fmt.Sscanf(k, "%g", &t); err != nil {
			return nil, &DecodeError{Reason: "timeSamples key: " + err.Error()}
		}
		ts.Set(t, v)
	}
	return ts, nil
}
