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
	"fmt"
	"net/netip"
	"testing"

	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/balancer"
	"github.com/bufbuild/keylb/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, addr string, health backend.HealthStatus) *backend.Backend {
	t.Helper()
	addrPort, err := netip.ParseAddrPort(addr)
	require.NoError(t, err)
	return backend.New(addrPort, 1, health, metadata.Values{})
}

func TestRendezvousDeterministic(t *testing.T) {
	t.Parallel()

	candidates := []*backend.Backend{
		newTestBackend(t, "10.0.0.1:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.2:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.3:6379", backend.Healthy),
	}
	bal := balancer.NewRendezvous()

	for i := 0; i < 20; i++ {
		key := balancer.NewKeyContext(fmt.Sprintf("key-%d", i), false)
		first, ok := bal.Pick(key, candidates)
		require.True(t, ok)
		again, ok := bal.Pick(key, candidates)
		require.True(t, ok)
		assert.Same(t, first, again)
	}
}

func TestRendezvousIndependentOfOrder(t *testing.T) {
	t.Parallel()

	forward := []*backend.Backend{
		newTestBackend(t, "10.0.0.1:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.2:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.3:6379", backend.Healthy),
	}
	reversed := []*backend.Backend{forward[2], forward[1], forward[0]}
	bal := balancer.NewRendezvous()

	for i := 0; i < 20; i++ {
		key := balancer.NewKeyContext(fmt.Sprintf("key-%d", i), false)
		first, ok := bal.Pick(key, forward)
		require.True(t, ok)
		second, ok := bal.Pick(key, reversed)
		require.True(t, ok)
		assert.Same(t, first, second)
	}
}

func TestRendezvousMinimalDisruption(t *testing.T) {
	t.Parallel()

	candidates := []*backend.Backend{
		newTestBackend(t, "10.0.0.1:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.2:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.3:6379", backend.Healthy),
	}
	bal := balancer.NewRendezvous()

	// Removing one backend must only move the keys that mapped to it.
	removed := candidates[2]
	remaining := candidates[:2]
	for i := 0; i < 50; i++ {
		key := balancer.NewKeyContext(fmt.Sprintf("key-%d", i), false)
		before, ok := bal.Pick(key, candidates)
		require.True(t, ok)
		after, ok := bal.Pick(key, remaining)
		require.True(t, ok)
		if before != removed {
			assert.Same(t, before, after)
		}
	}
}

func TestRendezvousSkipsUnhealthy(t *testing.T) {
	t.Parallel()

	healthy := newTestBackend(t, "10.0.0.1:6379", backend.Healthy)
	unknown := newTestBackend(t, "10.0.0.2:6379", backend.Unknown)
	unhealthy := newTestBackend(t, "10.0.0.3:6379", backend.Unhealthy)
	bal := balancer.NewRendezvous()

	for i := 0; i < 20; i++ {
		key := balancer.NewKeyContext(fmt.Sprintf("key-%d", i), false)
		picked, ok := bal.Pick(key, []*backend.Backend{healthy, unknown, unhealthy})
		require.True(t, ok)
		assert.NotSame(t, unhealthy, picked)
	}

	// Nothing usable.
	_, ok := bal.Pick(balancer.NewKeyContext("key", false), []*backend.Backend{unhealthy})
	assert.False(t, ok)
	_, ok = bal.Pick(balancer.NewKeyContext("key", false), nil)
	assert.False(t, ok)
}

func TestRendezvousHashtagAffinity(t *testing.T) {
	t.Parallel()

	candidates := []*backend.Backend{
		newTestBackend(t, "10.0.0.1:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.2:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.3:6379", backend.Healthy),
		newTestBackend(t, "10.0.0.4:6379", backend.Healthy),
	}
	bal := balancer.NewRendezvous()

	// Keys sharing a hashtag land on the same backend.
	following, ok := bal.Pick(balancer.NewKeyContext("{user1000}.following", true), candidates)
	require.True(t, ok)
	followers, ok := bal.Pick(balancer.NewKeyContext("{user1000}.followers", true), candidates)
	require.True(t, ok)
	assert.Same(t, following, followers)
}
