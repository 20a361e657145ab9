// Package reconcile provides the reconciliation framework for making
// observed state match desired state, one resource at a time.
package reconcile

import (
	"fmt"
	"strings"
)

// Well-known state attributes.
const (
	AttrName     = "name"
	AttrID       = "id"
	AttrPresence = "presence"
)

// Presence says whether a resource does or should exist.
type Presence string

const (
	PresenceUnknown Presence = ""
	Present         Presence = "present"
	Absent          Presence = "absent"
)

// ParsePresence normalizes a presence value. Comparison is case-insensitive
// and surrounding whitespace is ignored. Anything else is PresenceUnknown.
func ParsePresence(v any) Presence {
	var s string
	switch val := v.(type) {
	case Presence:
		s = string(val)
	case string:
		s = val
	case fmt.Stringer:
		s = val.String()
	default:
		return PresenceUnknown
	}

	switch Presence(strings.ToLower(strings.TrimSpace(s))) {
	case Present:
		return Present
	case Absent:
		return Absent
	default:
		return PresenceUnknown
	}
}

// State is a resource's attributes. The presence attribute is interpreted
// by this package; every other attribute is opaque and belongs to the handler.
type State map[string]any

// AbsentState returns the synthetic state used when observed or desired
// state was not supplied.
func AbsentState(name string) State {
	return State{AttrName: name, AttrPresence: string(Absent)}
}

// Presence returns the normalized presence attribute.
func (s State) Presence() Presence {
	v, ok := s[AttrPresence]
	if !ok {
		return PresenceUnknown
	}
	return ParsePresence(v)
}

// Name returns the name attribute, falling back to id.
func (s State) Name() string {
	for _, key := range []string{AttrName, AttrID} {
		if v, ok := s[key]; ok {
			if str, ok := v.(string); ok && str != "" {
				return str
			}
		}
	}
	return ""
}

// Diff is the per-resource input to a reconciliation call.
// A nil map means "not supplied"; a non-nil map, even an empty one, is used as is.
type Diff struct {
	Is     State `yaml:"is,omitempty" json:"is,omitempty"`
	Should State `yaml:"should,omitempty" json:"should,omitempty"`
}

// Batch maps resource names to their diffs for one reconciliation call.
type Batch map[string]Diff
