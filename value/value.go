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
	"fmt"
)

// Kind is the closed set of scene value type tags. A decode error is
// reported for any tag outside this set (§3, §4.1): "The set is
// closed: a value whose type tag is not in this list is a protocol
// error."
type Kind string

const (
	KindBool     Kind = "bool"
	KindInt      Kind = "int"
	KindDouble   Kind = "double"
	KindFloat    Kind = "float"
	KindString   Kind = "string"
	KindToken    Kind = "token"
	KindVec2f    Kind = "vec2f"
	KindVec2d    Kind = "vec2d"
	KindVec3f    Kind = "vec3f"
	KindVec3d    Kind = "vec3d"
	KindMatrix4d Kind = "matrix4d"

	KindBoolArray   Kind = "bool[]"
	KindIntArray    Kind = "int[]"
	KindDoubleArray Kind = "double[]"
	KindFloatArray  Kind = "float[]"
	KindStringArray Kind = "string[]"
	KindTokenArray  Kind = "token[]"
	KindVec2fArray  Kind = "vec2f[]"
	KindVec3fArray  Kind = "vec3f[]"
	KindVec3dArray  Kind = "vec3d[]"

	KindAssetPath   Kind = "assetPath"
	KindReference   Kind = "reference"
	KindLayerOffset Kind = "layerOffset"

	KindPathListOp      Kind = "listOp<path>"
	KindTokenListOp     Kind = "listOp<token>"
	KindReferenceListOp Kind = "listOp<reference>"

	KindDict        Kind = "dict"
	KindValueBlock  Kind = "valueBlock"
	KindVariability Kind = "variability"
	KindSpecType    Kind = "specType"
	KindSpecifier   Kind = "specifier"
	KindTimeSamples Kind = "timeSamples"
)

// Value is the tagged union over the closed scene-value set (§3). The
// zero Value (Kind == "") is the empty value used as the erase
// sentinel by layerstore.Set.
type Value struct {
	Kind Kind
	data any
}

// IsEmpty reports whether v carries no data. Per §4.2's Set contract,
// setting a field to an empty Value erases it instead.
func (v Value) IsEmpty() bool { return v.Kind == "" }

// Vec2f, Vec2d, Vec3f, Vec3d, Matrix4d mirror the row-major encoding
// rule in §4.1 ("Vectors and matrices are JSON arrays in row-major
// order"), grounded on GfVec2f/GfVec3f/GfVec3d/GfMatrix4d in
// original_source/Sources/Serialization/Serialization.cpp.
type (
	Vec2f    [2]float32
	Vec2d    [2]float64
	Vec3f    [3]float32
	Vec3d    [3]float64
	Matrix4d [16]float64
)

// AssetPath carries both the path as authored and the path resolved
// by the (out-of-scope) asset resolver.
type AssetPath struct {
	Requested string
	Resolved  string
}

// LayerOffset is a sublayer's time offset and scale.
type LayerOffset struct {
	Offset float64
	Scale  float64
}

// Reference is a cross-layer reference: an asset, a target path
// within that asset, and the layer offset to apply.
type Reference struct {
	Asset      string
	TargetPath Path
	Offset     LayerOffset
}

// Variability is the SdfVariability-equivalent enum.
type Variability int

const (
	VariabilityVarying Variability = iota
	VariabilityUniform
)

// Specifier is the SdfSpecifier-equivalent enum.
type Specifier int

const (
	SpecifierDef Specifier = iota
	SpecifierOver
	SpecifierClass
)

// SpecType is the closed spec-kind enum shared with the wire protocol
// (§6.1). The integer order below IS the wire integer: clients and
// the hub both encode/decode SpecType as this ordinal.
type SpecType int

const (
	SpecTypePseudoRoot SpecType = iota
	SpecTypePrim
	SpecTypeAttribute
	SpecTypeRelationship
	SpecTypeConnection
	SpecTypeExpression
	SpecTypeMapper
	SpecTypeMapperArg
	SpecTypeVariant
	SpecTypeVariantSet
	SpecTypeUnknown
)

func (t SpecType) String() string {
	switch t {
	case SpecTypePseudoRoot:
		return "PseudoRoot"
	case SpecTypePrim:
		return "Prim"
	case SpecTypeAttribute:
		return "Attribute"
	case SpecTypeRelationship:
		return "Relationship"
	case SpecTypeConnection:
		return "Connection"
	case SpecTypeExpression:
		return "Expression"
	case SpecTypeMapper:
		return "Mapper"
	case SpecTypeMapperArg:
		return "MapperArg"
	case SpecTypeVariant:
		return "Variant"
	case SpecTypeVariantSet:
		return "VariantSet"
	default:
		return "Unknown"
	}
}

// Dict is an insertion-ordered string-keyed map of Values ("§4.1
// Dictionaries preserve insertion order of the JSON object").
type Dict struct {
	keys   []string
	values map[string]Value
}

// NewDict returns an empty ordered dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// Set inserts or overwrites a key, appending it to the order the
// first time it's seen.
func (d *Dict) Set(key string, v Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string { return d.keys }

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// TimeSamples is a double-keyed map of Values, carrying the ordered
// sample times alongside the lookup table so bracketing queries don't
// need to re-sort on every call.
type TimeSamples struct {
	times  []float64
	values map[float64]Value
}

// NewTimeSamples returns an empty time-sample map.
func NewTimeSamples() *TimeSamples {
	return &TimeSamples{values: make(map[float64]Value)}
}

// Set inserts or overwrites the sample at t, keeping Times() sorted.
func (ts *TimeSamples) Set(t float64, v Value) {
	if _, ok := ts.values[t]; !ok {
		ts.times = insertSorted(ts.times, t)
	}
	ts.values[t] = v
}

// Erase removes the sample at t, if present.
func (ts *TimeSamples) Erase(t float64) {
	if _, ok := ts.values[t]; !ok {
		return
	}
	delete(ts.values, t)
	for i, v := range ts.times {
		if v == t {
			ts.times = append(ts.times[:i], ts.times[i+1:]...)
			break
		}
	}
}

// Get returns the sample at t and whether it exists.
func (ts *TimeSamples) Get(t float64) (Value, bool) {
	v, ok := ts.values[t]
	return v, ok
}

// Times returns the sorted sample times.
func (ts *TimeSamples) Times() []float64 { return ts.times }

// Len returns the number of samples.
func (ts *TimeSamples) Len() int { return len(ts.times) }

func insertSorted(times []float64, t float64) []float64 {
	i := 0
	for i < len(times) && times[i] < t {
		i++
	}
	times = append(times, 0)
	copy(times[i+1:], times[i:])
	times[i] = t
	return times
}

// --- constructors ---

func NewBool(b bool) Value         { return Value{KindBool, b} }
func NewInt(i int64) Value         { return Value{KindInt, i} }
func NewDouble(f float64) Value    { return Value{KindDouble, f} }
func NewFloat(f float32) Value     { return Value{KindFloat, f} }
func NewString(s string) Value     { return Value{KindString, s} }
func NewToken(t Token) Value       { return Value{KindToken, t} }
func NewVec2f(v Vec2f) Value       { return Value{KindVec2f, v} }
func NewVec2d(v Vec2d) Value       { return Value{KindVec2d, v} }
func NewVec3f(v Vec3f) Value       { return Value{KindVec3f, v} }
func NewVec3d(v Vec3d) Value       { return Value{KindVec3d, v} }
func NewMatrix4d(m Matrix4d) Value { return Value{KindMatrix4d, m} }

func NewBoolArray(a []bool) Value     { return Value{KindBoolArray, a} }
func NewIntArray(a []int64) Value     { return Value{KindIntArray, a} }
func NewDoubleArray(a []float64) Value { return Value{KindDoubleArray, a} }
func NewFloatArray(a []float32) Value  { return Value{KindFloatArray, a} }
func NewStringArray(a []string) Value  { return Value{KindStringArray, a} }
func NewTokenArray(a []Token) Value    { return Value{KindTokenArray, a} }
func NewVec2fArray(a []Vec2f) Value    { return Value{KindVec2fArray, a} }
func NewVec3fArray(a []Vec3f) Value    { return Value{KindVec3fArray, a} }
func NewVec3dArray(a []Vec3d) Value    { return Value{KindVec3dArray, a} }

func NewAssetPath(a AssetPath) Value     { return Value{KindAssetPath, a} }
func NewReference(r Reference) Value     { return Value{KindReference, r} }
func NewLayerOffset(o LayerOffset) Value { return Value{KindLayerOffset, o} }

func NewPathListOp(op PathListOp) Value           { return Value{KindPathListOp, op} }
func NewTokenListOp(op TokenListOp) Value         { return Value{KindTokenListOp, op} }
func NewReferenceListOp(op ReferenceListOp) Value { return Value{KindReferenceListOp, op} }

func NewDictValue(d *Dict) Value             { return Value{KindDict, d} }
func NewValueBlock() Value                   { return Value{KindValueBlock, struct{}{}} }
func NewVariabilityValue(v Variability) Value { return Value{KindVariability, v} }
func NewSpecTypeValue(t SpecType) Value       { return Value{KindSpecType, t} }
func NewSpecifierValue(s Specifier) Value     { return Value{KindSpecifier, s} }
func NewTimeSamplesValue(ts *TimeSamples) Value { return Value{KindTimeSamples, ts} }

// --- accessors ---
//
// Each returns the stored payload and whether v.Kind matched. Callers
// that already know the kind (layerstore, delta) skip the bool.

func (v Value) Bool() (bool, bool)             { b, ok := v.data.(bool); return b, ok && v.Kind == KindBool }
func (v Value) Int() (int64, bool)             { i, ok := v.data.(int64); return i, ok && v.Kind == KindInt }
func (v Value) Double() (float64, bool)        { f, ok := v.data.(float64); return f, ok && v.Kind == KindDouble }
func (v Value) Float() (float32, bool)         { f, ok := v.data.(float32); return f, ok && v.Kind == KindFloat }
func (v Value) String() (string, bool) {
	s, ok := v.data.(string)
	return s, ok && v.Kind == KindString
}
func (v Value) Token() (Token, bool) {
	t, ok := v.data.(Token)
	return t, ok && v.Kind == KindToken
}
func (v Value) TokenArray() ([]Token, bool) {
	a, ok := v.data.([]Token)
	return a, ok && v.Kind == KindTokenArray
}
func (v Value) Dict() (*Dict, bool) {
	d, ok := v.data.(*Dict)
	return d, ok && v.Kind == KindDict
}
func (v Value) TimeSamples() (*TimeSamples, bool) {
	ts, ok := v.data.(*TimeSamples)
	return ts, ok && v.Kind == KindTimeSamples
}
func (v Value) SpecType() (SpecType, bool) {
	t, ok := v.data.(SpecType)
	return t, ok && v.Kind == KindSpecType
}

// GoString renders a Value for diagnostics; never used on the wire.
func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s %v}", v.Kind, v.data)
}

// ListOp buckets over the three parameter types the corpus exercises:
// path, token, and reference. §4.1: "List-ops encode all six buckets
// ... On decode, if explicit is non-empty the result is an explicit
// list-op; otherwise prepended/appended/deleted buckets are used
// (added and ordered are intentionally ignored on decode)."

type PathListOp struct {
	Explicit, Prepended, Appended, Deleted []Path
}

type TokenListOp struct {
	Explicit, Prepended, Appended, Deleted []Token
}

type ReferenceListOp struct {
	Explicit, Prepended, Appended, Deleted []Reference
}
