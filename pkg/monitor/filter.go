package monitor

import "strings"

// Filter is the tagged-variant predicate family from spec.md §3 "Filter".
type Filter interface {
	Match(f Frame) bool
}

// IdRange matches frames whose arbitration id falls within [Lo, Hi] inclusive.
type IdRange struct {
	Lo, Hi uint32
}

func (r IdRange) Match(f Frame) bool { return f.CAN.ID >= r.Lo && f.CAN.ID <= r.Hi }

// IdSet matches frames whose arbitration id is a member of Ids.
type IdSet struct {
	Ids map[uint32]struct{}
}

func (s IdSet) Match(f Frame) bool {
	_, ok := s.Ids[f.CAN.ID]
	return ok
}

// NewIdSet builds an IdSet from a plain list of ids.
func NewIdSet(ids ...uint32) IdSet {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return IdSet{Ids: set}
}

// DataPattern matches the uppercase hex rendering of the payload against a
// mask where '*' is a single-hex-digit wildcard. Shorter payloads never match
// a longer pattern and vice versa.
type DataPattern struct {
	Mask string // uppercase hex digits and '*' wildcards, no spaces
}

func (p DataPattern) Match(f Frame) bool {
	hexStr := strings.ToUpper(hexNoSpaces(f.CAN.Data))
	mask := strings.ToUpper(p.Mask)
	if len(hexStr) != len(mask) {
		return false
	}
	for i := 0; i < len(mask); i++ {
		if mask[i] == '*' {
			continue
		}
		if mask[i] != hexStr[i] {
			return false
		}
	}
	return true
}

func hexNoSpaces(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*2)
	for _, v := range b {
		out = append(out, digits[v>>4], digits[v&0x0F])
	}
	return string(out)
}

// Custom wraps an arbitrary predicate.
type Custom struct {
	Predicate func(Frame) bool
}

func (c Custom) Match(f Frame) bool {
	if c.Predicate == nil {
		return true
	}
	return c.Predicate(f)
}

// NamedFilter pairs a Filter with a name and an enabled flag. Multiple
// enabled filters combine by logical AND (spec.md §3 "Filter").
type NamedFilter struct {
	Name    string
	Enabled bool
	Filter  Filter
}

// matchAll reports whether frame passes every enabled filter. An empty or
// all-disabled filter set passes everything.
func matchAll(filters []NamedFilter, frame Frame) bool {
	for _, nf := range filters {
		if !nf.Enabled || nf.Filter == nil {
			continue
		}
		if !nf.Filter.Match(frame) {
			return false
		}
	}
	return true
}
