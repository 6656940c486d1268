// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package window

import (
	"sync"

	"github.com/dchest/siphash"

	"github.com/nebulastream/nes-core/schema"
	"github.com/nebulastream/nes-core/slicestore"
)

// GlobalState is spec §4.2's scalar (non-keyed) slice payload: one cell
// per AggSpec, shared by every tuple in the slice regardless of key.
type GlobalState struct {
	specs []AggSpec
	cells map[string]*cell
}

// NewGlobalState creates an empty GlobalState for the given aggregation
// specs.
func NewGlobalState(specs []AggSpec) *GlobalState {
	cells := make(map[string]*cell, len(specs))
	for _, s := range specs {
		cells[s.AsField] = newCell(s)
	}
	return &GlobalState{specs: specs, cells: cells}
}

// Add folds one tuple's projected values into the state's cells.
func (g *GlobalState) Add(values map[string]float64) {
	for _, s := range g.specs {
		if v, ok := values[s.OnField]; ok {
			g.cells[s.AsField].add(v)
		}
	}
}

func (g *GlobalState) Merge(other slicestore.State) {
	o := other.(*GlobalState)
	for name, c := range g.cells {
		c.merge(o.cells[name])
	}
}

func (g *GlobalState) Clone() slicestore.State {
	cells := make(map[string]*cell, len(g.cells))
	for name, c := range g.cells {
		cells[name] = c.clone()
	}
	return &GlobalState{specs: g.specs, cells: cells}
}

// Row materializes the state's current aggregate values as an output
// record, one field per AggSpec in declared order.
func (g *GlobalState) Row() schema.Record { return rowFromCells(g.cells, g.specs) }

// keyHash is the siphash-keyed 128-bit digest of a serialized key tuple,
// spec §9's choice for keyed-window hash maps and join-key hashing.
type keyHash [2]uint64

func hashKey(siphashK0, siphashK1 uint64, key []byte) keyHash {
	h0, h1 := siphash.Hash128(siphashK0, siphashK1, key)
	return keyHash{h0, h1}
}

// KeyedState is spec §4.2's "keyed hash table" slice payload: a hash map
// from key-tuple to per-key GlobalState, merged by hash-map union.
type KeyedState struct {
	specs []AggSpec
	k0    uint64
	k1    uint64

	mu     sync.Mutex
	byHash map[keyHash]*keyedEntry
}

type keyedEntry struct {
	key    []byte
	fields map[string]*cell
}

// NewKeyedState creates an empty KeyedState. k0/k1 are the siphash key,
// fixed per query so that two workers computing partial slices for the
// same window hash identical key tuples to the same bucket.
func NewKeyedState(specs []AggSpec, k0, k1 uint64) *KeyedState {
	return &KeyedState{specs: specs, k0: k0, k1: k1, byHash: make(map[keyHash]*keyedEntry)}
}

// Add folds one tuple, identified by its serialized key, into the
// matching per-key cell set, creating one if this is the first tuple
// seen for that key.
func (k *KeyedState) Add(key []byte, values map[string]float64) {
	h := hashKey(k.k0, k.k1, key)
	k.mu.Lock()
	e, ok := k.byHash[h]
	if !ok {
		e = &keyedEntry{key: append([]byte(nil), key...), fields: make(map[string]*cell, len(k.specs))}
		for _, s := range k.specs {
			e.fields[s.AsField] = newCell(s)
		}
		k.byHash[h] = e
	}
	k.mu.Unlock()
	for _, s := range k.specs {
		if v, ok := values[s.OnField]; ok {
			e.fields[s.AsField].add(v)
		}
	}
}

func (k *KeyedState) Merge(other slicestore.State) {
	o := other.(*KeyedState)
	o.mu.Lock()
	entries := make([]*keyedEntry, 0, len(o.byHash))
	hashes := make([]keyHash, 0, len(o.byHash))
	for h, e := range o.byHash {
		hashes = append(hashes, h)
		entries = append(entries, e)
	}
	o.mu.Unlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	for i, h := range hashes {
		e, ok := k.byHash[h]
		if !ok {
			cp := &keyedEntry{key: entries[i].key, fields: make(map[string]*cell, len(k.specs))}
			for name, c := range entries[i].fields {
				cp.fields[name] = c.clone()
			}
			k.byHash[h] = cp
			continue
		}
		for name, c := range e.fields {
			c.merge(entries[i].fields[name])
		}
	}
}

func (k *KeyedState) Clone() slicestore.State {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := &KeyedState{specs: k.specs, k0: k.k0, k1: k.k1, byHash: make(map[keyHash]*keyedEntry, len(k.byHash))}
	for h, e := range k.byHash {
		cp := &keyedEntry{key: e.key, fields: make(map[string]*cell, len(e.fields))}
		for name, c := range e.fields {
			cp.fields[name] = c.clone()
		}
		out.byHash[h] = cp
	}
	return out
}

// Rows materializes one output record per distinct key, each prefixed
// with the raw key bytes so the sink can re-attach the key schema.
func (k *KeyedState) Rows() []schema.Record {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]schema.Record, 0, len(k.byHash))
	for _, e := range k.byHash {
		row := schema.Record{schema.Str(schema.VariableChar, string(e.key))}
		out = append(out, append(row, rowFromCells(e.fields, k.specs)...))
	}
	return out
}
