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

// Package membership provides continuous tracking of named backend
// groups. A [Provider] is the authoritative source of which backends
// belong to which group; pools subscribe to it and mirror the
// membership of the one group they route for.
//
// A group "update" always carries the full new backend set, never a
// delta: consumers are expected to treat it as a removal of the old
// generation followed by an add of the new one. Removal of individual
// members within a generation is reported separately, through
// [Group.OnRemoval].
package membership

import (
	"io"
	"sync"

	"github.com/bufbuild/keylb/backend"
)

// Watcher receives group-level membership changes from a Provider.
// Callbacks may be invoked from arbitrary goroutines; consumers that
// need serialization must re-post to their own loop.
type Watcher interface {
	// OnGroupUpdate is called when a group is added or replaced. The
	// group carries its full current backend set.
	OnGroupUpdate(group *Group)
	// OnGroupRemoved is called when a group ceases to exist.
	OnGroupRemoved(name string)
}

// Provider is the authoritative source of group membership.
type Provider interface {
	// Lookup returns the group with the given name, if it exists.
	Lookup(name string) (*Group, bool)
	// Subscribe registers a watcher for group changes. Closing the
	// returned value unregisters it; after Close returns there are no
	// further callbacks to the watcher.
	Subscribe(watcher Watcher) io.Closer
}

// Group is one generation of a named backend group. Its member set
// can shrink within the generation (reported via OnRemoval); any other
// change is modeled as a whole new Group.
type Group struct {
	name string

	mu sync.Mutex
	// +checklocks:mu
	backends []*backend.Backend
	// +checklocks:mu
	removalWatchers map[*removalSub]struct{}
}

// NewGroup creates a group with the given name and members.
func NewGroup(name string, backends []*backend.Backend) *Group {
	members := make([]*backend.Backend, len(backends))
	copy(members, backends)
	return &Group{
		name:            name,
		backends:        members,
		removalWatchers: map[*removalSub]struct{}{},
	}
}

// Name returns the group's name.
func (g *Group) Name() string {
	return g.name
}

// Backends returns a copy of the group's current member set. The
// returned backends themselves are shared and read-only.
func (g *Group) Backends() []*backend.Backend {
	g.mu.Lock()
	defer g.mu.Unlock()
	members := make([]*backend.Backend, len(g.backends))
	copy(members, g.backends)
	return members
}

// OnRemoval registers a callback invoked with members removed from
// this group generation. Closing the returned value unregisters it.
func (g *Group) OnRemoval(watcher func(removed []*backend.Backend)) io.Closer {
	sub := &removalSub{group: g, watcher: watcher}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removalWatchers[sub] = struct{}{}
	return sub
}

// removeBackends drops the given members from the group and notifies
// removal watchers. Members not present are ignored.
func (g *Group) removeBackends(removed []*backend.Backend) {
	drop := make(map[*backend.Backend]struct{}, len(removed))
	for _, b := range removed {
		drop[b] = struct{}{}
	}
	g.mu.Lock()
	kept := g.backends[:0]
	var actual []*backend.Backend
	for _, b := range g.backends {
		if _, ok := drop[b]; ok {
			actual = append(actual, b)
			continue
		}
		kept = append(kept, b)
	}
	g.backends = kept
	watchers := make([]func([]*backend.Backend), 0, len(g.removalWatchers))
	for sub := range g.removalWatchers {
		watchers = append(watchers, sub.watcher)
	}
	g.mu.Unlock()

	if len(actual) == 0 {
		return
	}
	for _, watcher := range watchers {
		watcher(actual)
	}
}

// addBackends appends new members to the group. There is no add
// notification: consumers observe additions the next time they read
// Backends.
func (g *Group) addBackends(added []*backend.Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.backends = append(g.backends, added...)
}

type removalSub struct {
	group   *Group
	watcher func(removed []*backend.Backend)
}

func (s *removalSub) Close() error {
	s.group.mu.Lock()
	defer s.group.mu.Unlock()
	delete(s.group.removalWatchers, s)
	return nil
}
