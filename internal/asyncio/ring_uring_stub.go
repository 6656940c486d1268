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

//go:build !(linux && giouring)
// +build !linux !giouring

package asyncio

import "fmt"

// NewIOURingRing is available when built with -tags giouring on linux.
// Mirrors ehrlich-b-go-ublk/internal/uring's NewRealRing/stub split: a
// real io_uring-backed implementation is opt-in, so a plain `go build`
// stays fully portable and falls back to NewPreadRing.
func NewIOURingRing(queueDepth int) (Ring, error) {
	return nil, fmt.Errorf("asyncio: io_uring backend not enabled; build with -tags giouring on linux")
}
