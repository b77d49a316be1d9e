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

package backend_test

import (
	"net/netip"
	"testing"

	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	var locality = metadata.NewKey[string]()
	addr := netip.MustParseAddrPort("10.0.0.1:6379")
	b := backend.New(addr, 3, backend.Healthy, metadata.NewValues(locality.Value("us-east1")))

	assert.Equal(t, addr, b.Addr())
	assert.Equal(t, "10.0.0.1:6379", b.AddrString())
	assert.Equal(t, uint32(3), b.Weight())
	assert.Equal(t, backend.Healthy, b.Health())
	assert.False(t, b.Synthetic())
	value, ok := metadata.GetValue(b.Metadata(), locality)
	require.True(t, ok)
	assert.Equal(t, "us-east1", value)
}

func TestNewZeroWeight(t *testing.T) {
	t.Parallel()

	b := backend.New(netip.MustParseAddrPort("10.0.0.1:6379"), 0, backend.Unknown, metadata.Values{})
	assert.Equal(t, uint32(1), b.Weight())
}

func TestNewSynthetic(t *testing.T) {
	t.Parallel()

	b := backend.NewSynthetic(netip.MustParseAddrPort("10.0.0.2:7000"))
	assert.True(t, b.Synthetic())
	assert.Equal(t, uint32(1), b.Weight())
	assert.Equal(t, backend.Unknown, b.Health())
	assert.Equal(t, 0, b.Metadata().Len())
}

func TestAddrString(t *testing.T) {
	t.Parallel()

	v6 := backend.New(netip.MustParseAddrPort("[::1]:6379"), 1, backend.Healthy, metadata.Values{})
	assert.Equal(t, "[::1]:6379", v6.AddrString())

	v4 := backend.New(netip.MustParseAddrPort("127.0.0.1:6379"), 1, backend.Healthy, metadata.Values{})
	assert.Equal(t, "127.0.0.1:6379", v4.AddrString())
}

func TestHealthStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "healthy", backend.Healthy.String())
	assert.Equal(t, "unknown", backend.Unknown.String())
	assert.Equal(t, "unhealthy", backend.Unhealthy.String())
	assert.Equal(t, "HealthStatus(7)", backend.HealthStatus(7).String())
}
