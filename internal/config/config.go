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

// Package config decodes the CLI knobs the surrounding service layer is
// expected to pass into the core (spec §6).
package config

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

type QueryCompilerType string

const (
	Default  QueryCompilerType = "DEFAULT"
	Nautilus QueryCompilerType = "NAUTILUS"
)

type WindowingStrategy string

const (
	Legacy     WindowingStrategy = "LEGACY"
	ThreadLocal WindowingStrategy = "THREAD_LOCAL"
)

type JoinStrategy string

const (
	HashJoinLocal        JoinStrategy = "HASH_JOIN_LOCAL"
	HashJoinGlobalLocking JoinStrategy = "HASH_JOIN_GLOBAL_LOCKING"
	HashJoinGlobalLockFree JoinStrategy = "HASH_JOIN_GLOBAL_LOCK_FREE"
	NestedLoopJoin       JoinStrategy = "NESTED_LOOP_JOIN"
)

type HashJoinConfig struct {
	TotalSize       uint64 `json:"totalSize"`
	PageSize        uint64 `json:"pageSize"`
	PreAllocPageCnt uint64 `json:"preAllocPageCnt"`
	NumPartitions   uint32 `json:"numPartitions"`
}

type BufferManagerConfig struct {
	BufferSize         uint32  `json:"bufferSize"`
	NumBuffers         uint32  `json:"numBuffers"`
	PreAllocatedPerPool uint32 `json:"preAllocatedPerPool"`
	EvictionWatermark  float64 `json:"evictionWatermark"`
}

// Config mirrors the flat knob namespace described in spec §6.
type Config struct {
	QueryCompiler struct {
		QueryCompilerType QueryCompilerType `json:"queryCompilerType"`
	} `json:"queryCompiler"`
	WindowingStrategy  WindowingStrategy   `json:"windowingStrategy"`
	StreamJoinStrategy JoinStrategy        `json:"streamJoinStrategy"`
	HashJoin           HashJoinConfig      `json:"hashJoin"`
	BufferManager      BufferManagerConfig `json:"bufferManager"`
}

// Defaults returns a Config with every field set to the values implied by
// spec §3's TupleBuffer size range and §4.1's pool semantics.
func Defaults() *Config {
	c := &Config{}
	c.QueryCompiler.QueryCompilerType = Nautilus
	c.WindowingStrategy = ThreadLocal
	c.StreamJoinStrategy = HashJoinLocal
	c.HashJoin = HashJoinConfig{
		TotalSize:       1 << 26,
		PageSize:        1 << 16,
		PreAllocPageCnt: 4,
		NumPartitions:   4,
	}
	c.BufferManager = BufferManagerConfig{
		BufferSize:          4096,
		NumBuffers:          1024,
		PreAllocatedPerPool: 32,
		EvictionWatermark:   0.8,
	}
	return c
}

// Parse decodes YAML-encoded configuration, filling in any field the
// document omits with the Defaults() value.
func Parse(doc []byte) (*Config, error) {
	c := Defaults()
	if err := yaml.Unmarshal(doc, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.QueryCompiler.QueryCompilerType {
	case Default, Nautilus:
	default:
		return fmt.Errorf("config: unknown queryCompiler.queryCompilerType %q", c.QueryCompiler.QueryCompilerType)
	}
	switch c.WindowingStrategy {
	case Legacy, ThreadLocal:
	default:
		return fmt.Errorf("config: unknown windowingStrategy %q", c.WindowingStrategy)
	}
	switch c.StreamJoinStrategy {
	case HashJoinLocal, HashJoinGlobalLocking, HashJoinGlobalLockFree, NestedLoopJoin:
	default:
		return fmt.Errorf("config: unknown streamJoinStrategy %q", c.StreamJoinStrategy)
	}
	if c.BufferManager.BufferSize == 0 {
		return fmt.Errorf("config: bufferManager.bufferSize must be > 0")
	}
	return nil
}
