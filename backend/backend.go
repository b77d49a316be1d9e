// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backend provides the representation of a single upstream
// instance that requests can be routed to. Backends are normally
// produced by a membership provider and shared, read-only, by every
// pool that tracks the group they belong to. Backends created with
// [NewSynthetic] are instead owned exclusively by the pool that
// created them, for addressing instances outside of the tracked
// membership.
package backend

import (
	"fmt"
	"net/netip"

	"github.com/bufbuild/keylb/metadata"
)

// HealthStatus represents the reported health of a backend. The
// natural ordering is for "better" statuses to be before "worse"
// statuses, so Healthy is the lowest value and Unhealthy the highest.
type HealthStatus int

const (
	Healthy   = HealthStatus(-1)
	Unknown   = HealthStatus(0)
	Unhealthy = HealthStatus(1)
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unknown:
		return "unknown"
	case Unhealthy:
		return "unhealthy"
	default:
		return fmt.Sprintf("HealthStatus(%d)", int(s))
	}
}

// Backend identifies one upstream instance. A Backend is immutable
// after construction; membership changes are modeled as new Backend
// values in a new group snapshot, never as in-place mutation.
type Backend struct {
	addr      netip.AddrPort
	addrStr   string
	meta      metadata.Values
	weight    uint32
	health    HealthStatus
	synthetic bool
}

// New creates a discovered backend with the given address, weight,
// health status, and metadata. The weight must be at least 1; a zero
// weight is treated as 1.
func New(addr netip.AddrPort, weight uint32, health HealthStatus, meta metadata.Values) *Backend {
	if weight == 0 {
		weight = 1
	}
	return &Backend{
		addr:    addr,
		addrStr: addr.String(),
		meta:    meta,
		weight:  weight,
		health:  health,
	}
}

// NewSynthetic creates a backend for an address that is not part of
// any discovered membership: weight 1, unknown health, no metadata.
// Unlike discovered backends, a synthetic backend is owned exclusively
// by the pool that created it.
func NewSynthetic(addr netip.AddrPort) *Backend {
	b := New(addr, 1, Unknown, metadata.Values{})
	b.synthetic = true
	return b
}

// Addr returns the backend's network address.
func (b *Backend) Addr() netip.AddrPort {
	return b.addr
}

// AddrString returns the normalized "host:port" form of the backend's
// address (IPv6 hosts are bracketed). Two backends with the same
// address always produce the same string, so it is suitable as a
// lookup key.
func (b *Backend) AddrString() string {
	return b.addrStr
}

// Weight returns the backend's load-balancing weight.
func (b *Backend) Weight() uint32 {
	return b.weight
}

// Health returns the backend's reported health status.
func (b *Backend) Health() HealthStatus {
	return b.health
}

// Metadata returns the opaque metadata attached to the backend by
// whatever component discovered it. Synthetic backends have none.
func (b *Backend) Metadata() metadata.Values {
	return b.meta
}

// Synthetic reports whether this backend was created on demand for
// direct addressing rather than discovered through membership.
func (b *Backend) Synthetic() bool {
	return b.synthetic
}
