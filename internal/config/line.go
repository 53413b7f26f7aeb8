// Package config parses the single-line key=value configuration strings
// components are initialized from, e.g.
//
//	input-x-dim=8 input-y-dim=8 input-z-dim=8 filt-x-dim=3 num-filters=4
//
// Lookups mark keys as used so a caller can reject lines carrying keys
// the component does not understand.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

type pair struct {
	key   string
	value string
	used  bool
}

// Line is one parsed configuration line.
type Line struct {
	whole string
	pairs []pair
}

// ParseLine splits a configuration line into key=value pairs. Values may
// be double-quoted to carry spaces. Duplicate keys and bare tokens are
// rejected.
func ParseLine(line string) (*Line, error) {
	l := &Line{whole: line}
	rest := strings.TrimSpace(line)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("config: expected key=value, got %q", rest)
		}
		key := rest[:eq]
		if strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("config: bare token before %q in line %q", key, line)
		}
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("config: unterminated quote in value of %q", key)
			}
			value = rest[1 : 1+end]
			rest = strings.TrimSpace(rest[2+end:])
		} else {
			sp := strings.IndexAny(rest, " \t")
			if sp < 0 {
				value, rest = rest, ""
			} else {
				value = rest[:sp]
				rest = strings.TrimSpace(rest[sp:])
			}
		}

		for _, p := range l.pairs {
			if p.key == key {
				return nil, fmt.Errorf("config: duplicate key %q in line %q", key, line)
			}
		}
		l.pairs = append(l.pairs, pair{key: key, value: value})
	}
	return l, nil
}

// WholeLine returns the original line.
func (l *Line) WholeLine() string { return l.whole }

// StringValue looks up key, stores its value in dst and marks it used.
// Returns false if the key is absent.
func (l *Line) StringValue(key string, dst *string) bool {
	for i := range l.pairs {
		if l.pairs[i].key == key {
			l.pairs[i].used = true
			*dst = l.pairs[i].value
			return true
		}
	}
	return false
}

// IntValue looks up key and parses its value as an integer. A present but
// unparseable value still counts as found and leaves dst unchanged.
func (l *Line) IntValue(key string, dst *int) bool {
	var s string
	if !l.StringValue(key, &s) {
		return false
	}
	if v, err := strconv.Atoi(s); err == nil {
		*dst = v
	}
	return true
}

// FloatValue looks up key and parses its value as a float64.
func (l *Line) FloatValue(key string, dst *float64) bool {
	var s string
	if !l.StringValue(key, &s) {
		return false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*dst = v
	}
	return true
}

// BoolValue looks up key and parses its value as true or false.
func (l *Line) BoolValue(key string, dst *bool) bool {
	var s string
	if !l.StringValue(key, &s) {
		return false
	}
	if v, err := strconv.ParseBool(s); err == nil {
		*dst = v
	}
	return true
}

// HasUnusedValues reports whether any key was never looked up.
func (l *Line) HasUnusedValues() bool {
	for _, p := range l.pairs {
		if !p.used {
			return true
		}
	}
	return false
}

// UnusedValues returns the unread key=value pairs, space separated.
func (l *Line) UnusedValues() string {
	var parts []string
	for _, p := range l.pairs {
		if !p.used {
			parts = append(parts, p.key+"="+p.value)
		}
	}
	return strings.Join(parts, " ")
}
