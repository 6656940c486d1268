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

// Package buffer implements the pinned/floating/spillable tuple-buffer
// pool described in spec §4.1: a fixed-size segment pool with reference
// counted control blocks, child-buffer attachment, content-addressed
// spilling to disk, and clock-based eviction.
//
// The spec's native implementation suspends C++20 coroutines at each I/O
// boundary; this port follows spec §9's explicit fallback ("implementers
// without native coroutines must use an explicit state machine with the
// same four states: SUBMITTED, POLLING, COMPLETED, ABANDONED") built on
// goroutines and channels, which is the idiomatic Go equivalent.
package buffer
