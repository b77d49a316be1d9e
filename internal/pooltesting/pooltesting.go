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

// Package pooltesting provides fake implementations of the client and
// balancer interfaces for testing pool behavior without real network
// connections.
package pooltesting

import (
	"net/netip"
	"sync"

	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/balancer"
	"github.com/bufbuild/keylb/client"
	"github.com/bufbuild/keylb/eventloop"
	"github.com/bufbuild/keylb/metadata"
)

// MustAddrPort parses an address in "host:port" form, panicking on
// error. For test fixtures only.
func MustAddrPort(s string) netip.AddrPort {
	addr, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Backends builds discovered backends, weight 1 and healthy, for the
// given "host:port" strings.
func Backends(addrs ...string) []*backend.Backend {
	backends := make([]*backend.Backend, len(addrs))
	for i, addr := range addrs {
		backends[i] = backend.New(MustAddrPort(addr), 1, backend.Healthy, metadata.NewValues())
	}
	return backends
}

// FakeFactory is a client.Factory that creates FakeConns and records
// every connection it has created.
type FakeFactory struct {
	mu sync.Mutex
	// +checklocks:mu
	conns []*FakeConn
}

// NewFakeFactory creates a new FakeFactory.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{}
}

// New implements client.Factory.
func (f *FakeFactory) New(target *backend.Backend, loop *eventloop.Loop, config client.Config) client.Conn {
	conn := &FakeConn{Backend: target, Loop: loop, Config: config}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns = append(f.conns, conn)
	return conn
}

// Conns returns a snapshot of every connection created so far.
func (f *FakeFactory) Conns() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]*FakeConn, len(f.conns))
	copy(snapshot, f.conns)
	return snapshot
}

// ConnCount returns the number of connections created so far.
func (f *FakeFactory) ConnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// ConnTo returns the most recent connection created to the given
// normalized address, or nil.
func (f *FakeFactory) ConnTo(addr string) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.conns) - 1; i >= 0; i-- {
		if f.conns[i].Backend.AddrString() == addr {
			return f.conns[i]
		}
	}
	return nil
}

// FakeConn is a client.Conn that records requests and close
// notifications. It performs no I/O; callbacks passed to MakeRequest
// are never invoked.
type FakeConn struct {
	Backend *backend.Backend
	Loop    *eventloop.Loop
	Config  client.Config

	mu sync.Mutex
	// +checklocks:mu
	closed bool
	// +checklocks:mu
	closeNotifications int
	// +checklocks:mu
	watchers []func()
	// +checklocks:mu
	requests []client.Request
	// +checklocks:mu
	reject bool
}

// MakeRequest implements client.Conn. It returns nil if the
// connection is closed or Reject(true) was called.
func (c *FakeConn) MakeRequest(req client.Request, _ client.Callbacks) client.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reject {
		return nil
	}
	c.requests = append(c.requests, req)
	return &FakeHandle{}
}

// AddCloseWatcher implements client.Conn.
func (c *FakeConn) AddCloseWatcher(watcher func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, watcher)
}

// Close implements client.Conn. Watchers are notified synchronously,
// at most once no matter how many times Close is called.
func (c *FakeConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeNotifications++
	watchers := make([]func(), len(c.watchers))
	copy(watchers, c.watchers)
	c.mu.Unlock()
	for _, watcher := range watchers {
		watcher()
	}
}

// RemoteClose simulates the remote side closing the connection: the
// close notification is delivered as a task on the owning loop.
func (c *FakeConn) RemoteClose() {
	c.Loop.Run(c.Close)
}

// Closed reports whether the connection has been closed.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseNotifications returns how many times watchers were notified.
// It can never legitimately exceed 1.
func (c *FakeConn) CloseNotifications() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeNotifications
}

// Requests returns a snapshot of the requests issued on this
// connection.
func (c *FakeConn) Requests() []client.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]client.Request, len(c.requests))
	copy(snapshot, c.requests)
	return snapshot
}

// Reject makes subsequent MakeRequest calls return nil handles.
func (c *FakeConn) Reject(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = reject
}

// FakeHandle is the handle returned by FakeConn.MakeRequest.
type FakeHandle struct {
	mu sync.Mutex
	// +checklocks:mu
	cancelled bool
}

// Cancel implements client.Handle.
func (h *FakeHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
}

// Cancelled reports whether Cancel was called.
func (h *FakeHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// FakeBalancer is a balancer.Balancer that records the hash key of
// every pick. By default it picks the first candidate; tests can
// script selection with SetPickFunc.
type FakeBalancer struct {
	mu sync.Mutex
	// +checklocks:mu
	pickFunc func(key balancer.KeyContext, candidates []*backend.Backend) (*backend.Backend, bool)
	// +checklocks:mu
	hashKeys []string
}

// NewFakeBalancer creates a new FakeBalancer.
func NewFakeBalancer() *FakeBalancer {
	return &FakeBalancer{}
}

// SetPickFunc overrides the selection logic.
func (b *FakeBalancer) SetPickFunc(pick func(key balancer.KeyContext, candidates []*backend.Backend) (*backend.Backend, bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pickFunc = pick
}

// Pick implements balancer.Balancer.
func (b *FakeBalancer) Pick(key balancer.KeyContext, candidates []*backend.Backend) (*backend.Backend, bool) {
	b.mu.Lock()
	b.hashKeys = append(b.hashKeys, key.HashKey())
	pick := b.pickFunc
	b.mu.Unlock()
	if pick != nil {
		return pick(key, candidates)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[0], true
}

// HashKeys returns the hash keys observed by Pick, in order.
func (b *FakeBalancer) HashKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := make([]string, len(b.hashKeys))
	copy(snapshot, b.hashKeys)
	return snapshot
}
