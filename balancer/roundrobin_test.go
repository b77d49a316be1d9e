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

package balancer_test

import (
	"testing"

	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/balancer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	t.Parallel()

	candidates := []*backend.Backend{
		newTestBackend(t, "10.0.0.1:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.2:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.3:6379", backend.Healthy),
	}
	bal := balancer.NewRoundRobin()
	key := balancer.NewKeyContext("ignored", false)

	for i := 0; i < 9; i++ {
		picked, ok := bal.Pick(key, candidates)
		require.True(t, ok)
		assert.Same(t, candidates[i%3], picked)
	}
}

func TestRoundRobinSkipsUnhealthy(t *testing.T) {
	t.Parallel()

	first := newTestBackend(t, "10.0.0.1:6379", backend.Healthy)
	down := newTestBackend(t, "10.0.0.2:6379", backend.Unhealthy)
	last := newTestBackend(t, "10.0.0.3:6379", backend.Healthy)
	candidates := []*backend.Backend{first, down, last}
	bal := balancer.NewRoundRobin()
	key := balancer.NewKeyContext("ignored", false)

	picked, ok := bal.Pick(key, candidates)
	require.True(t, ok)
	assert.Same(t, first, picked)
	picked, ok = bal.Pick(key, candidates)
	require.True(t, ok)
	assert.Same(t, last, picked)
	picked, ok = bal.Pick(key, candidates)
	require.True(t, ok)
	assert.Same(t, first, picked)
}

func TestRoundRobinEmpty(t *testing.T) {
	t.Parallel()

	bal := balancer.NewRoundRobin()
	_, ok := bal.Pick(balancer.NewKeyContext("ignored", false), nil)
	assert.False(t, ok)
}
