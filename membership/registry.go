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

package membership

import (
	"io"
	"net/netip"
	"sync"

	"github.com/bufbuild/keylb/backend"
)

// Registry is an in-memory [Provider] driven by an external discovery
// or control-plane layer. Mutations fan out synchronously, on the
// mutator's goroutine, to every subscribed watcher.
type Registry struct {
	mu sync.Mutex
	// +checklocks:mu
	groups map[string]*Group
	// +checklocks:mu
	watchers map[*registrySub]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		groups:   map[string]*Group{},
		watchers: map[*registrySub]struct{}{},
	}
}

// Lookup implements Provider.
func (r *Registry) Lookup(name string) (*Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[name]
	return group, ok
}

// Subscribe implements Provider.
func (r *Registry) Subscribe(watcher Watcher) io.Closer {
	sub := &registrySub{registry: r, watcher: watcher}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers[sub] = struct{}{}
	return sub
}

// SetGroup adds the named group, or replaces it with a new generation
// carrying the given backends. Watchers are notified either way; an
// existing generation's removal watchers are not, since the whole
// generation is superseded.
func (r *Registry) SetGroup(name string, backends []*backend.Backend) *Group {
	group := NewGroup(name, backends)
	r.mu.Lock()
	r.groups[name] = group
	watchers := r.snapshotWatchersLocked()
	r.mu.Unlock()

	for _, watcher := range watchers {
		watcher.OnGroupUpdate(group)
	}
	return group
}

// RemoveGroup removes the named group, notifying watchers. It is a
// no-op for an unknown name.
func (r *Registry) RemoveGroup(name string) {
	r.mu.Lock()
	_, ok := r.groups[name]
	if ok {
		delete(r.groups, name)
	}
	watchers := r.snapshotWatchersLocked()
	r.mu.Unlock()

	if !ok {
		return
	}
	for _, watcher := range watchers {
		watcher.OnGroupRemoved(name)
	}
}

// RemoveBackends removes individual members, identified by address,
// from the named group's current generation. Removal watchers on the
// group are notified with the removed backends.
func (r *Registry) RemoveBackends(name string, addrs ...netip.AddrPort) {
	r.mu.Lock()
	group, ok := r.groups[name]
	r.mu.Unlock()
	if !ok {
		return
	}

	drop := make(map[netip.AddrPort]struct{}, len(addrs))
	for _, addr := range addrs {
		drop[addr] = struct{}{}
	}
	var removed []*backend.Backend
	for _, b := range group.Backends() {
		if _, ok := drop[b.Addr()]; ok {
			removed = append(removed, b)
		}
	}
	group.removeBackends(removed)
}

// AddBackends appends members to the named group's current generation.
// It is a no-op for an unknown name. There is no add notification;
// consumers observe additions on their next read of the group.
func (r *Registry) AddBackends(name string, backends ...*backend.Backend) {
	r.mu.Lock()
	group, ok := r.groups[name]
	r.mu.Unlock()
	if !ok {
		return
	}
	group.addBackends(backends)
}

// +checklocks:r.mu
func (r *Registry) snapshotWatchersLocked() []Watcher {
	watchers := make([]Watcher, 0, len(r.watchers))
	for sub := range r.watchers {
		watchers = append(watchers, sub.watcher)
	}
	return watchers
}

type registrySub struct {
	registry *Registry
	watcher  Watcher
}

func (s *registrySub) Close() error {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	delete(s.registry.watchers, s)
	return nil
}
