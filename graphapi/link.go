package graphapi

import (
	"encoding/json"
	"math"
	"strconv"
)

// LinkRef is an input value produced by another node's output. In API-format
// JSON it is the two element array [source node id, output slot].
type LinkRef struct {
	OriginID   string
	OriginSlot int
}

// ParseLinkRef interprets an input value as a link reference. Anything that is
// not a two element [id, slot] pair is not a link.
func ParseLinkRef(v interface{}) (LinkRef, bool) {
	tmp, ok := v.([]interface{})
	if !ok || len(tmp) != 2 {
		return LinkRef{}, false
	}

	var l LinkRef
	switch id := tmp[0].(type) {
	case string:
		l.OriginID = id
	case json.Number:
		l.OriginID = id.String()
	case float64:
		if id != math.Trunc(id) {
			return LinkRef{}, false
		}
		l.OriginID = strconv.FormatInt(int64(id), 10)
	case int:
		l.OriginID = strconv.Itoa(id)
	default:
		return LinkRef{}, false
	}

	slot, ok := toInt64(tmp[1])
	if !ok {
		return LinkRef{}, false
	}
	l.OriginSlot = int(slot)
	return l, true
}

// Value returns the reference in its API-format input representation.
func (l LinkRef) Value() []interface{} {
	return []interface{}{l.OriginID, l.OriginSlot}
}

func (l LinkRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Value())
}

// toInt64 converts the integral JSON number representations to int64.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
