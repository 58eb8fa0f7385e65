// Package capability builds the session capabilities sent to the automation server.
package capability

import (
	"encoding/json"
	"sort"
)

// Capabilities is an immutable set of session capabilities.
// Accessors return copies; the zero value is empty.
type Capabilities struct {
	env    string
	device string
	values map[string]interface{}
}

// Env returns the environment the capabilities were built for.
func (c Capabilities) Env() string {
	return c.env
}

// Device returns the catalog device name the capabilities were built from.
func (c Capabilities) Device() string {
	return c.device
}

// Get returns one capability.
func (c Capabilities) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// String returns a capability as a string, or "" when absent or not a string.
func (c Capabilities) String(key string) string {
	s, _ := c.values[key].(string)
	return s
}

// Has reports whether key is set.
func (c Capabilities) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Len returns the number of capabilities.
func (c Capabilities) Len() int {
	return len(c.values)
}

// Keys returns the capability names in sorted order.
func (c Capabilities) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a deep copy suitable for sending on the wire.
func (c Capabilities) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = copyValue(v)
	}
	return out
}

// MarshalJSON encodes the capabilities as a flat object.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.values)
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, inner := range val {
			m[k] = copyValue(inner)
		}
		return m
	case []string:
		return append([]string(nil), val...)
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, inner := range val {
			s[i] = copyValue(inner)
		}
		return s
	default:
		return v
	}
}
