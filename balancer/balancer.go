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

// Package balancer provides backend selection for key-addressed
// requests. A [Balancer] chooses one backend out of a group's current
// membership for a given key. Selection policies in this package skip
// backends that report unhealthy; backends with unknown health (such
// as ones never health-checked) remain eligible.
package balancer

import "github.com/bufbuild/keylb/backend"

// Balancer selects a backend for a key. Implementations must be safe
// for concurrent use, since every worker pool consults the same
// Balancer instance.
type Balancer interface {
	// Pick returns the backend to route to, out of the given
	// candidates. It reports false if no backend can be selected,
	// for example because every candidate is unhealthy. The candidate
	// slice is read-only and must not be retained past the call.
	Pick(key KeyContext, candidates []*backend.Backend) (*backend.Backend, bool)
}

func usable(b *backend.Backend) bool {
	return b.Health() != backend.Unhealthy
}
