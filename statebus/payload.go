package statebus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is the latest known value of one external entity.
type State struct {
	EntityID   string         `json:"entity_id"`
	Value      string         `json:"value"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Updated    time.Time      `json:"updated"`
}

// Available reports whether the value is usable. "unavailable" and
// "unknown" are the conventional markers for a dead source.
func (s State) Available() bool {
	return s.Value != "" && s.Value != "unavailable" && s.Value != "unknown"
}

// Float parses the value as a number, nil when unavailable or non-numeric.
func (s State) Float() *float64 {
	if !s.Available() {
		return nil
	}
	f, err := strconv.ParseFloat(s.Value, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Bool interprets the value as a boolean. "on", "true", "home" and positive
// numbers count as true; "off", "false", "not_home", "away" and zero as
// false. Anything else is nil.
func (s State) Bool() *bool {
	if !s.Available() {
		return nil
	}
	var v bool
	switch strings.ToLower(s.Value) {
	case "on", "true", "home", "1":
		v = true
	case "off", "false", "not_home", "away", "0":
		v = false
	default:
		if f := s.Float(); f != nil {
			v = *f > 0
			return &v
		}
		return nil
	}
	return &v
}

// Attr returns a named attribute as a float, nil when absent or non-numeric.
func (s State) Attr(name string) *float64 {
	raw, ok := s.Attributes[name]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		return &v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// ParseState extracts an entity state from a state-topic message. The entity
// id is the topic path below <base>/state/. The payload is either a bare
// scalar or a JSON object with "state" and optional "attributes".
func ParseState(baseTopic, topic string, payload []byte) (State, error) {
	prefix := baseTopic + "/state/"
	if !strings.HasPrefix(topic, prefix) {
		return State{}, fmt.Errorf("topic %q outside state tree", topic)
	}
	entityID := strings.TrimPrefix(topic, prefix)
	if entityID == "" {
		return State{}, fmt.Errorf("empty entity id in topic %q", topic)
	}
	// Nested topic levels map onto the dotted entity id convention.
	entityID = strings.ReplaceAll(entityID, "/", ".")

	state := State{
		EntityID: entityID,
		Updated:  time.Now(),
	}

	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) == 0 {
		return State{}, fmt.Errorf("empty payload for %s", entityID)
	}

	if trimmed[0] == '{' {
		var doc struct {
			State      any            `json:"state"`
			Attributes map[string]any `json:"attributes"`
		}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return State{}, fmt.Errorf("parse state payload for %s: %w", entityID, err)
		}
		state.Value = scalarString(doc.State)
		state.Attributes = doc.Attributes
		if state.Value == "" {
			return State{}, fmt.Errorf("state object without state field for %s", entityID)
		}
		return state, nil
	}

	// Bare scalar payload; strip optional quoting.
	state.Value = strings.Trim(trimmed, `"`)
	return state, nil
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		if s {
			return "on"
		}
		return "off"
	default:
		return ""
	}
}

// Domain returns the entity id's domain prefix ("sensor" for
// "sensor.indoor_temp"), empty when the id has no domain.
func Domain(entityID string) string {
	if i := strings.Index(entityID, "."); i > 0 {
		return entityID[:i]
	}
	return ""
}
