package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known field names
const (
	FieldKind         = "kind"
	FieldCreationDate = "creationDate"
)

// Event kinds produced by SDK callers. Any other kind is passed through.
const (
	KindFeature  = "feature"
	KindIdentify = "identify"
	KindCustom   = "custom"
)

// Field is one key/value pair of an Event
type Field struct {
	Key   string
	Value any
}

// Event is an ordered set of fields. Setting an existing key replaces its
// value in place, so serialized output keeps first-insertion order.
// An Event is not safe for concurrent mutation.
type Event struct {
	fields []Field
}

// NewEvent creates an event with its kind field set
func NewEvent(kind string) *Event {
	e := &Event{}
	if kind != "" {
		e.Set(FieldKind, kind)
	}
	return e
}

// Set assigns value to key and returns the event for chaining
func (e *Event) Set(key string, value any) *Event {
	for i := range e.fields {
		if e.fields[i].Key == key {
			e.fields[i].Value = value
			return e
		}
	}
	e.fields = append(e.fields, Field{Key: key, Value: value})
	return e
}

// Get returns the value stored under key
func (e *Event) Get(key string) (any, bool) {
	for _, f := range e.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Kind returns the kind field as a string, or "" when absent
func (e *Event) Kind() string {
	v, ok := e.Get(FieldKind)
	if !ok {
		return ""
	}
	switch k := v.(type) {
	case string:
		return k
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(k, &s); err == nil {
			return s
		}
	}
	return ""
}

// CreationDate returns the stamped creation time in epoch milliseconds
func (e *Event) CreationDate() (int64, bool) {
	v, ok := e.Get(FieldCreationDate)
	if !ok {
		return 0, false
	}
	ms, ok := v.(int64)
	return ms, ok
}

// Stamp overwrites creationDate with t in epoch milliseconds
func (e *Event) Stamp(t time.Time) {
	e.Set(FieldCreationDate, t.UnixMilli())
}

// Len returns the number of fields
func (e *Event) Len() int {
	return len(e.fields)
}

// Fields returns a copy of the fields in order
func (e *Event) Fields() []Field {
	out := make([]Field, len(e.fields))
	copy(out, e.fields)
	return out
}

// Clone returns a shallow copy: the field list is new, values are shared.
func (e *Event) Clone() *Event {
	return &Event{fields: e.Fields()}
}

// MarshalJSON writes the fields as a JSON object in insertion order
func (e *Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range e.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order. Values are kept as
// json.RawMessage and re-emitted verbatim by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("event must be a JSON object")
	}

	e.fields = e.fields[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in event object", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		e.Set(key, raw)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// ParseEvents decodes either a single JSON object or an array of objects
func ParseEvents(data []byte) ([]*Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if trimmed[0] == '[' {
		var list []*Event
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		for i, ev := range list {
			if ev == nil {
				return nil, fmt.Errorf("event %d is null", i)
			}
		}
		return list, nil
	}

	ev := &Event{}
	if err := json.Unmarshal(trimmed, ev); err != nil {
		return nil, err
	}
	return []*Event{ev}, nil
}
