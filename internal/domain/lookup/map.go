// Package lookup builds label-to-id maps for label based foreign key input.
package lookup

import (
	"fmt"
	"slices"
	"sort"

	"specforge/internal/core/id"
)

// Candidate is one row's primary label.
type Candidate struct {
	Label string
	ID    id.RecordID
}

// Map resolves label strings of one target entity to row ids. Several keys
// may point at the same id: the primary label, the secondary label, the
// combined "LABEL (LABEL2)" form and the positional "#N" key.
//
// A Map is built per batch and never persisted. It is not safe for
// concurrent use; a batch resolves its records sequentially.
type Map struct {
	Entity string
	// Separators are the literal parts of a concat label; empty when the
	// label is a single column.
	Separators []string
	Concat     bool
	// Synthetic is set when ids are positions of pending records rather
	// than stored ids.
	Synthetic bool

	keys       map[string]id.RecordID
	ambiguous  map[string]bool
	ids        map[id.RecordID]string
	secondary  map[id.RecordID]string
	positions  map[id.RecordID]int
	last       int
	candidates []Candidate
}

func newMap(entity string) *Map {
	return &Map{
		Entity:    entity,
		keys:      make(map[string]id.RecordID),
		ambiguous: make(map[string]bool),
		ids:       make(map[id.RecordID]string),
		secondary: make(map[id.RecordID]string),
		positions: make(map[id.RecordID]int),
	}
}

// add registers a row with its labels and positional index.
func (m *Map) add(rid id.RecordID, position int, primary, secondary string) {
	m.ids[rid] = primary
	m.positions[rid] = position
	m.last = max(m.last, position)
	if primary != "" {
		m.put(primary, rid)
		m.candidates = append(m.candidates, Candidate{Label: primary, ID: rid})
	}
	if secondary != "" {
		m.secondary[rid] = secondary
		m.put(secondary, rid)
		if primary != "" {
			m.put(fmt.Sprintf("%s (%s)", primary, secondary), rid)
		}
	}
	m.put(fmt.Sprintf("#%d", position), rid)
}

// Add registers a row stored after the map was built, or refreshes the
// labels of a row the map already holds. A new row gets the next positional
// key. Keys cached by fuzzy matches keep pointing at their row.
func (m *Map) Add(rid id.RecordID, primary, secondary string) {
	position, known := m.positions[rid]
	if !known {
		m.add(rid, m.last+1, primary, secondary)
		return
	}
	m.drop(rid)
	m.add(rid, position, primary, secondary)
}

// drop removes the label keys and the candidate of rid.
func (m *Map) drop(rid id.RecordID) {
	primary, secondary := m.ids[rid], m.secondary[rid]
	keys := []string{primary, secondary}
	if primary != "" && secondary != "" {
		keys = append(keys, fmt.Sprintf("%s (%s)", primary, secondary))
	}
	for _, k := range keys {
		if got, ok := m.keys[k]; k != "" && ok && got == rid {
			delete(m.keys, k)
		}
	}
	m.candidates = slices.DeleteFunc(m.candidates, func(c Candidate) bool { return c.ID == rid })
	delete(m.secondary, rid)
}

func (m *Map) put(key string, rid id.RecordID) {
	if m.ambiguous[key] {
		return
	}
	if prev, ok := m.keys[key]; ok && prev != rid {
		delete(m.keys, key)
		m.ambiguous[key] = true
		return
	}
	m.keys[key] = rid
}

// Lookup returns the id of an exact key.
func (m *Map) Lookup(key string) (id.RecordID, bool) {
	rid, ok := m.keys[key]
	return rid, ok
}

// Ambiguous reports whether key names more than one row.
func (m *Map) Ambiguous(key string) bool {
	return m.ambiguous[key]
}

// Cache stores a resolved key so later lookups hit directly.
func (m *Map) Cache(key string, rid id.RecordID) {
	if !m.ambiguous[key] {
		m.keys[key] = rid
	}
}

// HasID reports whether rid is a row of the map's source.
func (m *Map) HasID(rid id.RecordID) bool {
	_, ok := m.ids[rid]
	return ok
}

// Label returns the primary label of a row.
func (m *Map) Label(rid id.RecordID) (string, bool) {
	l, ok := m.ids[rid]
	return l, ok
}

// KeyFor returns a key that looks up rid again: the primary label, the
// secondary label, the combined form, or the positional key when every
// label is ambiguous.
func (m *Map) KeyFor(rid id.RecordID) (string, bool) {
	pos, ok := m.positions[rid]
	if !ok {
		return "", false
	}
	primary, secondary := m.ids[rid], m.secondary[rid]
	keys := []string{primary, secondary}
	if primary != "" && secondary != "" {
		keys = append(keys, fmt.Sprintf("%s (%s)", primary, secondary))
	}
	for _, k := range keys {
		if got, ok := m.keys[k]; k != "" && ok && got == rid {
			return k, true
		}
	}
	return fmt.Sprintf("#%d", pos), true
}

// Candidates returns the primary labels in the order rows were added.
func (m *Map) Candidates() []Candidate {
	return m.candidates
}

// Keys returns every key, sorted. Intended for diagnostics.
func (m *Map) Keys() []string {
	out := make([]string, 0, len(m.keys))
	for k := range m.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len is the number of rows in the map.
func (m *Map) Len() int {
	return len(m.ids)
}
