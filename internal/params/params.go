// Package params decodes the compact query format used by the billing
// endpoints: "key1@value1$key2@value2".
package params

import (
	"errors"
	"strings"
)

const (
	pairSep  = "$"
	valueSep = "@"
)

// ErrMalformed is returned when any part of the input is not a single
// key@value pair. Partial results are never returned.
var ErrMalformed = errors.New("params: malformed parameter string")

// Params is an ordered key→value mapping. Keys keep the position of their
// first occurrence; a repeated key overwrites the earlier value.
type Params struct {
	keys   []string
	values map[string]string
}

// Parse decodes s. An empty string yields an empty Params and no error.
func Parse(s string) (Params, error) {
	p := Params{values: make(map[string]string)}
	if s == "" {
		return p, nil
	}

	for _, part := range strings.Split(s, pairSep) {
		kv := strings.Split(part, valueSep)
		if len(kv) != 2 {
			return Params{}, ErrMalformed
		}
		p.set(kv[0], kv[1])
	}
	return p, nil
}

func (p *Params) set(key, value string) {
	if _, seen := p.values[key]; !seen {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored under key.
func (p Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Len reports the number of distinct keys.
func (p Params) Len() int { return len(p.keys) }

// Keys returns the keys in first-occurrence order.
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Values returns the values in key order.
func (p Params) Values() []string {
	out := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, p.values[k])
	}
	return out
}

// Map returns a copy of the mapping.
func (p Params) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
