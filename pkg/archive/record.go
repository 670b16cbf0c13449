package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind discriminates the payload value variants.
type Kind int

const (
	// KindScalar is a string, int64, float64, bool, or null.
	KindScalar Kind = iota
	// KindMapping is a string-keyed map of values.
	KindMapping
	// KindSequence is an ordered list of values.
	KindSequence
	// KindTimestamp is a point in time, kept distinct from strings so it
	// survives round trips.
	KindTimestamp
)

// timeKey tags timestamp values in the canonical encoding. A mapping never
// carries this key with a string value unless it is a timestamp.
const timeKey = "$time"

// Value is a payload value: exactly one of the four kinds. The zero Value
// is the null scalar. Values are built through the constructors, which is
// what keeps the union closed.
type Value struct {
	kind     Kind
	scalar   any
	mapping  map[string]Value
	sequence []Value
	ts       time.Time
}

// String returns a string scalar.
func String(s string) Value { return Value{kind: KindScalar, scalar: s} }

// Int returns an integer scalar.
func Int(i int64) Value { return Value{kind: KindScalar, scalar: i} }

// Float returns a floating-point scalar.
func Float(f float64) Value { return Value{kind: KindScalar, scalar: f} }

// Bool returns a boolean scalar.
func Bool(b bool) Value { return Value{kind: KindScalar, scalar: b} }

// Null returns the null scalar.
func Null() Value { return Value{} }

// Time returns a timestamp value.
func Time(t time.Time) Value { return Value{kind: KindTimestamp, ts: t} }

// Mapping returns a mapping value over m. The map is used as-is; callers
// must not mutate it afterwards.
func Mapping(m map[string]Value) Value { return Value{kind: KindMapping, mapping: m} }

// Sequence returns a sequence value of elems in order.
func Sequence(elems ...Value) Value { return Value{kind: KindSequence, sequence: elems} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// Scalar returns the underlying scalar (string, int64, float64, bool, or
// nil). Meaningful only when Kind is KindScalar.
func (v Value) Scalar() any { return v.scalar }

// Map returns the underlying mapping. Meaningful only when Kind is
// KindMapping.
func (v Value) Map() map[string]Value { return v.mapping }

// Seq returns the underlying sequence. Meaningful only when Kind is
// KindSequence.
func (v Value) Seq() []Value { return v.sequence }

// Time returns the underlying timestamp. Meaningful only when Kind is
// KindTimestamp.
func (v Value) Time() time.Time { return v.ts }

// Equal reports whether two values are the same kind and content.
// Timestamps compare with time.Time.Equal, so location differences between
// equal instants do not matter.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindScalar:
		return v.scalar == o.scalar
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	case KindMapping:
		if len(v.mapping) != len(o.mapping) {
			return false
		}
		for k, ve := range v.mapping {
			oe, ok := o.mapping[k]
			if !ok || !ve.Equal(oe) {
				return false
			}
		}
		return true
	case KindSequence:
		if len(v.sequence) != len(o.sequence) {
			return false
		}
		for i := range v.sequence {
			if !v.sequence[i].Equal(o.sequence[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes v in the canonical form used for framing, so
// logically equal values always serialize to identical bytes.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendCanonical(nil)
}

// ValueFromJSON parses JSON bytes into a Value. Numbers without a
// fraction or exponent become integers, a mapping whose only key is
// "$time" becomes a timestamp.
func ValueFromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return valueFromJSON(tree)
}

// appendCanonical appends the canonical JSON encoding of v to dst.
// Mapping keys are emitted in sorted order and no insignificant whitespace
// is written, so logically equal values always produce identical bytes.
func (v Value) appendCanonical(dst []byte) ([]byte, error) {
	switch v.kind {
	case KindScalar:
		b, err := json.Marshal(v.scalar)
		if err != nil {
			return nil, fmt.Errorf("encode scalar: %w", err)
		}
		return append(dst, b...), nil
	case KindTimestamp:
		dst = append(dst, '{')
		dst = append(dst, `"`+timeKey+`":`...)
		b, _ := json.Marshal(v.ts.UTC().Format(time.RFC3339Nano))
		dst = append(dst, b...)
		return append(dst, '}'), nil
	case KindMapping:
		keys := make([]string, 0, len(v.mapping))
		for k := range v.mapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dst = append(dst, '{')
		for i, k := range keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, fmt.Errorf("encode mapping key: %w", err)
			}
			dst = append(dst, kb...)
			dst = append(dst, ':')
			var verr error
			dst, verr = v.mapping[k].appendCanonical(dst)
			if verr != nil {
				return nil, verr
			}
		}
		return append(dst, '}'), nil
	case KindSequence:
		dst = append(dst, '[')
		for i, e := range v.sequence {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			dst, err = e.appendCanonical(dst)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	}
	return nil, fmt.Errorf("encode value: unknown kind %d", v.kind)
}

// valueFromJSON rebuilds a Value from a decoded JSON tree. Numbers must
// arrive as json.Number so integers and floats stay distinct.
func valueFromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			i, err := t.Int64()
			if err == nil {
				return Int(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("decode number %q: %w", s, err)
		}
		return Float(f), nil
	case []any:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			v, err := valueFromJSON(e)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, v)
		}
		return Sequence(elems...), nil
	case map[string]any:
		if ts, ok := t[timeKey]; ok && len(t) == 1 {
			if s, ok := ts.(string); ok {
				parsed, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return Value{}, fmt.Errorf("decode timestamp %q: %w", s, err)
				}
				return Time(parsed), nil
			}
		}
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := valueFromJSON(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Mapping(m), nil
	}
	return Value{}, fmt.Errorf("decode value: unsupported type %T", raw)
}

// Record is one archived observation. Records are immutable once appended.
type Record struct {
	// Name identifies what was observed, conventionally "layer:detail".
	Name string

	// Timestamp is when the observation was captured.
	Timestamp time.Time

	// Payload is the observation body.
	Payload Value

	// Metadata carries optional flat annotations.
	Metadata map[string]string
}

// NewRecord builds a record stamped with the current time.
func NewRecord(name string, payload Value) Record {
	return Record{Name: name, Timestamp: time.Now().UTC(), Payload: payload}
}

// Equal reports whether two records match field for field.
func (r Record) Equal(o Record) bool {
	if r.Name != o.Name || !r.Timestamp.Equal(o.Timestamp) || !r.Payload.Equal(o.Payload) {
		return false
	}
	if len(r.Metadata) != len(o.Metadata) {
		return false
	}
	for k, v := range r.Metadata {
		if o.Metadata[k] != v {
			return false
		}
	}
	return true
}

// encode produces the canonical payload bytes for framing: a JSON object
// with exactly the keys metadata, name, payload, timestamp, in that order.
// All four keys are always present so equal records produce equal bytes.
func (r Record) encode() ([]byte, error) {
	buf := make([]byte, 0, 128)
	buf = append(buf, `{"metadata":{`...)
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("encode metadata key: %w", err)
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(r.Metadata[k])
		if err != nil {
			return nil, fmt.Errorf("encode metadata value: %w", err)
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, `},"name":`...)
	nb, err := json.Marshal(r.Name)
	if err != nil {
		return nil, fmt.Errorf("encode name: %w", err)
	}
	buf = append(buf, nb...)
	buf = append(buf, `,"payload":`...)
	buf, err = r.Payload.appendCanonical(buf)
	if err != nil {
		return nil, err
	}
	buf = append(buf, `,"timestamp":`...)
	tb, _ := json.Marshal(r.Timestamp.UTC().Format(time.RFC3339Nano))
	buf = append(buf, tb...)
	return append(buf, '}'), nil
}

// decodeRecord parses canonical payload bytes back into a record.
func decodeRecord(payload []byte) (Record, error) {
	var raw struct {
		Metadata  map[string]string `json:"metadata"`
		Name      string            `json:"name"`
		Payload   json.RawMessage   `json:"payload"`
		Timestamp string            `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("decode record timestamp %q: %w", raw.Timestamp, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Payload))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return Record{}, fmt.Errorf("decode record payload: %w", err)
	}
	value, err := valueFromJSON(tree)
	if err != nil {
		return Record{}, fmt.Errorf("decode record payload: %w", err)
	}

	meta := raw.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return Record{Name: raw.Name, Timestamp: ts, Payload: value, Metadata: meta}, nil
}
