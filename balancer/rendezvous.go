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
	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/internal"
)

// NewRendezvous returns a Balancer that uses rendezvous (highest
// random weight) hashing over the effective hash key. A given key
// maps to the same backend as long as that backend remains in the
// group; when a backend is removed, only the keys that mapped to it
// are redistributed, randomly, across the remaining backends.
func NewRendezvous() Balancer {
	return rendezvous{}
}

type rendezvous struct{}

func (rendezvous) Pick(key KeyContext, candidates []*backend.Backend) (*backend.Backend, bool) {
	hashKey := key.HashKey()
	var best *backend.Backend
	var bestScore uint32
	for _, candidate := range candidates {
		if !usable(candidate) {
			continue
		}
		score := rendezvousScore(hashKey, candidate.AddrString())
		if best == nil || score > bestScore ||
			(score == bestScore && candidate.AddrString() < best.AddrString()) {
			best = candidate
			bestScore = score
		}
	}
	return best, best != nil
}

func rendezvousScore(hashKey, addr string) uint32 {
	buf := make([]byte, 0, len(hashKey)+len(addr)+1)
	buf = append(buf, hashKey...)
	buf = append(buf, 0)
	buf = append(buf, addr...)
	return internal.MurmurHash3Sum(buf, 0)
}
