package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Fields is an ordered string map. Keys keep their insertion order, which
// is also the order of the JSON object produced by MarshalJSON.
type Fields struct {
	keys   []string
	values map[string]string
}

// NewFields builds Fields from alternating key/value pairs.
func NewFields(kv ...string) Fields {
	var f Fields
	for i := 0; i+1 < len(kv); i += 2 {
		f.Set(kv[i], kv[i+1])
	}
	return f
}

// Len returns the number of keys.
func (f Fields) Len() int { return len(f.keys) }

// Keys returns the keys in order. The slice must not be modified.
func (f Fields) Keys() []string { return f.keys }

// Get returns the value stored under key.
func (f Fields) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Value returns the value stored under key or "".
func (f Fields) Value(key string) string {
	return f.values[key]
}

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Set stores value under key, appending key if it is new.
func (f *Fields) Set(key, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Delete removes key.
func (f *Fields) Delete(key string) {
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i:i], f.keys[i+1:]...)
			break
		}
	}
}

// Rename moves the value of oldKey to newKey, keeping its position.
func (f *Fields) Rename(oldKey, newKey string) bool {
	v, ok := f.values[oldKey]
	if !ok || oldKey == newKey {
		return ok
	}
	if _, clash := f.values[newKey]; clash {
		f.Delete(newKey)
	}
	delete(f.values, oldKey)
	f.values[newKey] = v
	for i, k := range f.keys {
		if k == oldKey {
			f.keys[i] = newKey
			break
		}
	}
	return true
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	if f.keys == nil {
		return Fields{}
	}
	out := Fields{
		keys:   append([]string(nil), f.keys...),
		values: make(map[string]string, len(f.values)),
	}
	for k, v := range f.values {
		out.values[k] = v
	}
	return out
}

// Map returns a plain map copy.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same keys and values, ignoring order.
func (f Fields) Equal(o Fields) bool {
	if len(f.values) != len(o.values) {
		return false
	}
	for k, v := range f.values {
		if ov, ok := o.values[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// IsZero reports whether f was never populated.
func (f Fields) IsZero() bool { return f.keys == nil }

// MarshalJSON writes the fields as an object in key order.
func (f Fields) MarshalJSON() ([]byte, error) {
	if f.keys == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the document's key order.
// Non-string scalars are kept in their JSON text form.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Fields{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	out := Fields{keys: []string{}, values: map[string]string{}}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("fields: expected string key, got %v", kt)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("fields: value for %q: %w", key, err)
		}
		out.Set(key, stringify(raw))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
