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

package balancer

import (
	"sync/atomic"

	"github.com/bufbuild/keylb/backend"
)

// NewRoundRobin returns a Balancer that ignores the key and picks
// usable backends in sequential order. Useful when requests carry no
// meaningful key affinity.
func NewRoundRobin() Balancer {
	return &roundRobin{}
}

type roundRobin struct {
	// +checkatomic
	counter atomic.Uint64
}

func (r *roundRobin) Pick(_ KeyContext, candidates []*backend.Backend) (*backend.Backend, bool) {
	eligible := make([]*backend.Backend, 0, len(candidates))
	for _, candidate := range candidates {
		if usable(candidate) {
			eligible = append(eligible, candidate)
		}
	}
	if len(eligible) == 0 {
		return nil, false
	}
	idx := r.counter.Add(1) - 1
	return eligible[idx%uint64(len(eligible))], true
}
