package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	NullValue ValueKind = iota
	BoolValue
	NumberValue
	StringValue
	ArrayValue
	ObjectValue
)

func (k ValueKind) String() string {
	switch k {
	case NullValue:
		return "null"
	case BoolValue:
		return "bool"
	case NumberValue:
		return "number"
	case StringValue:
		return "string"
	case ArrayValue:
		return "array"
	case ObjectValue:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a recursive JSON value. The zero value is null.
//
// Numbers that fit in an int64 keep their exact integer value; n always
// holds the float64 approximation.
type Value struct {
	kind  ValueKind
	b     bool
	n     float64
	i     int64
	isInt bool
	s     string
	a     []Value
	o     Document
}

// Document is a JSON object of Values.
// A nil Document means "no structured data".
type Document map[string]Value

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: BoolValue, b: b} }

// Number wraps a number.
func Number(n float64) Value { return Value{kind: NumberValue, n: n} }

// Int wraps an integer without loss of precision.
func Int(i int64) Value { return Value{kind: NumberValue, n: float64(i), i: i, isInt: true} }

// String wraps a string.
func String(s string) Value { return Value{kind: StringValue, s: s} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: ArrayValue, a: items}
}

// Object wraps a document.
func Object(d Document) Value {
	if d == nil {
		d = Document{}
	}
	return Value{kind: ObjectValue, o: d}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsBool returns the boolean and true if v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == BoolValue }

// AsNumber returns the number and true if v is a number.
// Integers above 2^53 are rounded; use AsInt for the exact value.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == NumberValue }

// AsInt returns the integer and true if v is an integer number.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == NumberValue && v.isInt }

// AsString returns the string and true if v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == StringValue }

// AsArray returns the items and true if v is an array.
func (v Value) AsArray() ([]Value, bool) { return v.a, v.kind == ArrayValue }

// AsObject returns the document and true if v is an object.
func (v Value) AsObject() (Document, bool) { return v.o, v.kind == ObjectValue }

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case NullValue:
		return true
	case BoolValue:
		return v.b == other.b
	case NumberValue:
		if v.isInt && other.isInt {
			return v.i == other.i
		}
		return v.n == other.n
	case StringValue:
		return v.s == other.s
	case ArrayValue:
		if len(v.a) != len(other.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(other.a[i]) {
				return false
			}
		}
		return true
	case ObjectValue:
		return v.o.Equal(other.o)
	}
	return false
}

// ToAny converts v to the generic encoding/json representation.
func (v Value) ToAny() any {
	switch v.kind {
	case BoolValue:
		return v.b
	case NumberValue:
		if v.isInt {
			return v.i
		}
		return v.n
	case StringValue:
		return v.s
	case ArrayValue:
		out := make([]any, len(v.a))
		for i, item := range v.a {
			out[i] = item.ToAny()
		}
		return out
	case ObjectValue:
		return v.o.ToMap()
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == NumberValue && (math.IsNaN(v.n) || math.IsInf(v.n, 0)) {
		return nil, fmt.Errorf("unsupported number %v", v.n)
	}
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a generic decoded value (encoding/json, msgpack or yaml
// output) into a Value. Unsupported Go types are rejected.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return fromUint(uint64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return fromUint(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		d, err := DocumentFromMap(t)
		if err != nil {
			return Value{}, err
		}
		return Object(d), nil
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			ks, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("non-string object key %v", k)
			}
			m[ks] = item
		}
		return FromAny(m)
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Number(float64(u))
	}
	return Int(int64(u))
}

// DocumentFromMap converts a generic string-keyed map into a Document.
// A nil map yields a nil Document.
func DocumentFromMap(m map[string]any) (Document, error) {
	if m == nil {
		return nil, nil
	}
	d := make(Document, len(m))
	for k, item := range m {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		d[k] = v
	}
	return d, nil
}

// ErrNotObject is returned when a document is parsed from non-object JSON.
var ErrNotObject = errors.New("json value is not an object")

// ParseDocument parses a JSON object.
func ParseDocument(data []byte) (Document, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	d, ok := v.AsObject()
	if !ok {
		return nil, ErrNotObject
	}
	return d, nil
}

// ToMap converts d to a generic map. A nil Document yields nil.
func (d Document) ToMap() map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.ToAny()
	}
	return out
}

// Keys returns the document keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy. Values are immutable through the public API,
// so sharing nested values is safe.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a new document holding d's keys overwritten by patch's keys.
// Keys only present in d survive. Nested objects are replaced, not merged.
// Merging an empty or nil patch returns d unchanged.
func (d Document) Merge(patch Document) Document {
	if len(patch) == 0 {
		return d
	}
	out := d.Clone()
	if out == nil {
		out = make(Document, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Equal reports deep equality. nil and empty documents are equal.
func (d Document) Equal(other Document) bool {
	if len(d) != len(other) {
		return false
	}
	for k, v := range d {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
