package protocol

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDuplicateID   = errors.New("protocol: duplicate message id")
	ErrDuplicateType = errors.New("protocol: duplicate message type")
	ErrNilFactory    = errors.New("protocol: nil message factory")
)

type tableKey struct {
	phase Phase
	dir   Direction
}

type entry struct {
	id      int32
	typ     Type
	factory Factory
}

// Table is the immutable ID <-> type mapping for one phase and direction.
type Table struct {
	phase  Phase
	dir    Direction
	byID   map[int32]entry
	byType map[Type]int32
}

func (t *Table) Phase() Phase { return t.phase }

func (t *Table) Direction() Direction { return t.dir }

// ID returns the wire ID registered for typ.
func (t *Table) ID(typ Type) (int32, bool) {
	if t == nil {
		return 0, false
	}
	id, ok := t.byType[typ]
	return id, ok
}

// New builds an empty message for id.
func (t *Table) New(id int32) (Message, bool) {
	if t == nil {
		return nil, false
	}
	e, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return e.factory(), true
}

// Len returns the number of registered message kinds.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byID)
}

// IDs returns the registered IDs in ascending order.
func (t *Table) IDs() []int32 {
	if t == nil {
		return nil
	}
	out := make([]int32, 0, len(t.byID))
	for id := range t.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Protocol is the full set of dispatch tables. It is built once and shared
// read-only by every connection.
type Protocol struct {
	version int32
	tables  map[tableKey]*Table
	phases  map[Direction]map[Type][]Phase
}

func (p *Protocol) Version() int32 { return p.version }

// Table returns the table for phase and dir, or nil when none is defined.
func (p *Protocol) Table(phase Phase, dir Direction) *Table {
	return p.tables[tableKey{phase: phase, dir: dir}]
}

// PhasesOf returns every phase that registers typ for dir.
func (p *Protocol) PhasesOf(typ Type, dir Direction) []Phase {
	phases := p.phases[dir][typ]
	out := make([]Phase, len(phases))
	copy(out, phases)
	return out
}

// Registry collects registrations before Build freezes them.
type Registry struct {
	version int32
	entries map[tableKey][]entry
	order   []tableKey
}

func NewRegistry(version int32) *Registry {
	return &Registry{
		version: version,
		entries: make(map[tableKey][]entry),
	}
}

// Register adds one message kind. The factory is called once to learn the
// message's type tag.
func (r *Registry) Register(phase Phase, dir Direction, id int32, factory Factory) *Registry {
	key := tableKey{phase: phase, dir: dir}
	if _, ok := r.entries[key]; !ok {
		r.order = append(r.order, key)
	}
	var typ Type
	if factory != nil {
		typ = factory().Type()
	}
	r.entries[key] = append(r.entries[key], entry{id: id, typ: typ, factory: factory})
	return r
}

// Build validates every table and returns the frozen protocol.
func (r *Registry) Build() (*Protocol, error) {
	p := &Protocol{
		version: r.version,
		tables:  make(map[tableKey]*Table, len(r.entries)),
		phases: map[Direction]map[Type][]Phase{
			Serverbound: {},
			Clientbound: {},
		},
	}
	for _, key := range r.order {
		t := &Table{
			phase:  key.phase,
			dir:    key.dir,
			byID:   make(map[int32]entry),
			byType: make(map[Type]int32),
		}
		for _, e := range r.entries[key] {
			if e.factory == nil {
				return nil, fmt.Errorf("%w: phase=%s direction=%s id=0x%02x", ErrNilFactory, key.phase, key.dir, e.id)
			}
			if prev, ok := t.byID[e.id]; ok {
				return nil, fmt.Errorf("%w: phase=%s direction=%s id=0x%02x (%q, %q)", ErrDuplicateID, key.phase, key.dir, e.id, prev.typ, e.typ)
			}
			if _, ok := t.byType[e.typ]; ok {
				return nil, fmt.Errorf("%w: phase=%s direction=%s type=%q", ErrDuplicateType, key.phase, key.dir, e.typ)
			}
			t.byID[e.id] = e
			t.byType[e.typ] = e.id
			p.phases[key.dir][e.typ] = append(p.phases[key.dir][e.typ], key.phase)
		}
		p.tables[key] = t
	}
	for _, byType := range p.phases {
		for _, phases := range byType {
			sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
		}
	}
	return p, nil
}

// MustBuild is Build for static catalogs.
func (r *Registry) MustBuild() *Protocol {
	p, err := r.Build()
	if err != nil {
		panic(err)
	}
	return p
}
