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

// Package window implements spec §4.2's pre-aggregation and slice-merging
// handlers, watermark tracking, and the join build/probe state machine.
package window

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/nes-core/internal/atomicext"
	"github.com/nebulastream/nes-core/schema"
)

// AggType is one of spec §4.1's window aggregation function kinds.
type AggType string

const (
	Sum    AggType = "sum"
	Min    AggType = "min"
	Max    AggType = "max"
	Count  AggType = "count"
	Avg    AggType = "avg"
	Median AggType = "median"
)

// AggSpec is one entry of spec §4.1's Window payload aggregation list:
// `{onField, asField, type}`.
type AggSpec struct {
	OnField string
	AsField string
	Type    AggType
}

// cell accumulates one AggSpec's running value. Sum/count/min/max update
// lock-free via internal/atomicext CAS loops, since those are the cells
// spec's HASH_JOIN_GLOBAL_LOCK_FREE-style global aggregation wants to
// support without a mutex on the hot path. Median has no lock-free
// incremental form, so it falls back to a mutex-guarded sample list.
type cell struct {
	spec AggSpec

	sum   float64
	count int64
	min   float64
	max   float64

	mu      sync.Mutex
	samples []float64 // only populated for Median
}

func newCell(spec AggSpec) *cell {
	return &cell{spec: spec, min: math.Inf(1), max: math.Inf(-1)}
}

// add folds one input value into the cell.
func (c *cell) add(v float64) {
	switch c.spec.Type {
	case Sum, Avg:
		atomicext.AddFloat64(&c.sum, v)
		atomic.AddInt64(&c.count, 1)
	case Count:
		atomic.AddInt64(&c.count, 1)
	case Min:
		atomicext.MinFloat64(&c.min, v)
	case Max:
		atomicext.MaxFloat64(&c.max, v)
	case Median:
		c.mu.Lock()
		c.samples = append(c.samples, v)
		c.mu.Unlock()
	}
}

// merge combines other into c, the "scalar combine" spec §4.2 describes
// for global slice merging.
func (c *cell) merge(other *cell) {
	switch c.spec.Type {
	case Sum, Avg:
		atomicext.AddFloat64(&c.sum, other.sum)
		atomic.AddInt64(&c.count, other.count)
	case Count:
		atomic.AddInt64(&c.count, other.count)
	case Min:
		atomicext.MinFloat64(&c.min, other.min)
	case Max:
		atomicext.MaxFloat64(&c.max, other.max)
	case Median:
		other.mu.Lock()
		add := append([]float64(nil), other.samples...)
		other.mu.Unlock()
		c.mu.Lock()
		c.samples = append(c.samples, add...)
		c.mu.Unlock()
	}
}

func (c *cell) clone() *cell {
	n := newCell(c.spec)
	n.sum, n.count, n.min, n.max = c.sum, c.count, c.min, c.max
	c.mu.Lock()
	n.samples = append([]float64(nil), c.samples...)
	c.mu.Unlock()
	return n
}

// value reports the cell's current result.
func (c *cell) value() float64 {
	switch c.spec.Type {
	case Sum:
		return c.sum
	case Count:
		return float64(c.count)
	case Avg:
		if c.count == 0 {
			return 0
		}
		return c.sum / float64(c.count)
	case Min:
		return c.min
	case Max:
		return c.max
	case Median:
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.samples) == 0 {
			return 0
		}
		sorted := append([]float64(nil), c.samples...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	}
	return 0
}

// rowFromCells converts a set of AggSpecs' current values into an output
// record holding one F64 value per spec, in spec order. The window's
// start/end attributes are not included.
func rowFromCells(cells map[string]*cell, specs []AggSpec) schema.Record {
	rec := make(schema.Record, len(specs))
	for i, s := range specs {
		rec[i] = schema.Float(schema.F64, cells[s.AsField].value())
	}
	return rec
}
