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

package keylb

import (
	"io"

	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/balancer"
	"github.com/bufbuild/keylb/client"
	"github.com/bufbuild/keylb/eventloop"
	"github.com/bufbuild/keylb/membership"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// workerPool mirrors the membership of one group and owns the
// connections of one worker. Everything below the "loop-owned state"
// marker is exclusively owned and exclusively mutated by tasks running
// on w.loop; no locks guard it because nothing else ever touches it.
type workerPool struct {
	groupName    string
	provider     membership.Provider
	factory      client.Factory
	balancer     balancer.Balancer
	clientConfig client.Config
	hashtagging  bool
	logger       *zap.Logger
	metrics      *metrics
	loop         *eventloop.Loop

	// loop-owned state
	group       *membership.Group
	providerSub io.Closer
	removalSub  io.Closer
	conns       map[*backend.Backend]*activeConn
	// addrIndex maps normalized address strings to backends: the
	// authoritative membership plus any synthetic backends created for
	// direct addressing.
	addrIndex  map[string]*backend.Backend
	synthetics *lru.Cache[string, *backend.Backend]
}

func newWorkerPool(
	groupName string,
	provider membership.Provider,
	factory client.Factory,
	bal balancer.Balancer,
	opts *poolOptions,
	poolMetrics *metrics,
) (*workerPool, error) {
	worker := &workerPool{
		groupName:    groupName,
		provider:     provider,
		factory:      factory,
		balancer:     bal,
		clientConfig: opts.clientConfig,
		hashtagging:  opts.enableHashtagging,
		logger:       opts.logger,
		metrics:      poolMetrics,
		loop:         eventloop.New(),
		conns:        map[*backend.Backend]*activeConn{},
		addrIndex:    map[string]*backend.Backend{},
	}
	synthetics, err := lru.NewWithEvict(opts.maxSyntheticBackends, worker.onSyntheticEvicted)
	if err != nil {
		_ = worker.loop.Close()
		return nil, err
	}
	worker.synthetics = synthetics
	worker.loop.Run(worker.init)
	return worker, nil
}

// init subscribes to membership changes and, if the group already
// exists, adopts it as if it had just been added.
func (w *workerPool) init() {
	w.providerSub = w.provider.Subscribe(poolWatcher{worker: w})
	if group, ok := w.provider.Lookup(w.groupName); ok {
		w.handleGroupUpdate(group)
	}
}

// poolWatcher re-posts membership notifications onto the worker's
// loop, so they are never concurrent with other mutation of its state.
type poolWatcher struct {
	worker *workerPool
}

func (pw poolWatcher) OnGroupUpdate(group *membership.Group) {
	pw.worker.loop.Run(func() { pw.worker.handleGroupUpdate(group) })
}

func (pw poolWatcher) OnGroupRemoved(name string) {
	pw.worker.loop.Run(func() { pw.worker.handleGroupRemoved(name) })
}

func (w *workerPool) handleGroupUpdate(group *membership.Group) {
	if group.Name() != w.groupName {
		return
	}
	if w.group != nil {
		// An update is a removal followed by an add. Patching the
		// backend set in place risks orphaning connections to
		// backends that silently left the set.
		w.handleGroupRemoved(w.groupName)
	}
	w.group = group
	w.removalSub = group.OnRemoval(func(removed []*backend.Backend) {
		w.loop.Run(func() { w.handleBackendsRemoved(group, removed) })
	})
	members := group.Backends()
	w.addrIndex = make(map[string]*backend.Backend, len(members))
	for _, member := range members {
		w.addrIndex[member.AddrString()] = member
	}
	w.logger.Info("tracking group",
		zap.String("group", w.groupName),
		zap.Int("backends", len(members)),
	)
}

func (w *workerPool) handleGroupRemoved(name string) {
	if name != w.groupName || w.group == nil {
		return
	}
	// Group removal is a removal of every member: close every
	// connection, failing whatever requests were in flight on them.
	for _, active := range w.snapshotConns() {
		active.conn.Close()
	}
	w.synthetics.Purge()
	w.group = nil
	if w.removalSub != nil {
		_ = w.removalSub.Close()
		w.removalSub = nil
	}
	w.addrIndex = map[string]*backend.Backend{}
	w.logger.Info("group removed", zap.String("group", w.groupName))
}

func (w *workerPool) handleBackendsRemoved(group *membership.Group, removed []*backend.Backend) {
	// A removal notification can still be in flight when its
	// generation is superseded; it must not touch the state of the
	// generation that replaced it.
	if w.group != group {
		return
	}
	for _, member := range removed {
		if active, ok := w.conns[member]; ok {
			// No draining: if a backend is gone its connection just
			// closes, failing any requests still in flight on it.
			active.conn.Close()
		}
		delete(w.addrIndex, member.AddrString())
	}
	w.logger.Debug("backends removed",
		zap.String("group", w.groupName),
		zap.Int("count", len(removed)),
	)
}

// makeRequest routes by key through the balancer. A nil handle means
// the request could not be routed.
func (w *workerPool) makeRequest(key string, req client.Request, cbs client.Callbacks) client.Handle {
	var handle client.Handle
	w.loop.Do(func() { handle = w.routeByKey(key, req, cbs) })
	return handle
}

// makeRequestToHost routes directly to a "host:port" string, bypassing
// the balancer. A nil handle means the request could not be routed.
func (w *workerPool) makeRequestToHost(hostAddress string, req client.Request, cbs client.Callbacks) client.Handle {
	var handle client.Handle
	w.loop.Do(func() { handle = w.routeToHost(hostAddress, req, cbs) })
	return handle
}

func (w *workerPool) routeByKey(key string, req client.Request, cbs client.Callbacks) client.Handle {
	if w.group == nil {
		w.metrics.requestsTotal.WithLabelValues(modeKey, outcomeNoGroup).Inc()
		return nil
	}
	keyCtx := balancer.NewKeyContext(key, w.hashtagging)
	target, ok := w.balancer.Pick(keyCtx, w.group.Backends())
	if !ok {
		w.metrics.requestsTotal.WithLabelValues(modeKey, outcomeNoBackend).Inc()
		return nil
	}
	// Keep addrIndex in sync with whatever the balancer can select.
	if _, ok := w.addrIndex[target.AddrString()]; !ok {
		w.addrIndex[target.AddrString()] = target
	}
	return w.forward(modeKey, w.connFor(target), req, cbs)
}

func (w *workerPool) routeToHost(hostAddress string, req client.Request, cbs client.Callbacks) client.Handle {
	if w.group == nil {
		w.metrics.requestsTotal.WithLabelValues(modeHost, outcomeNoGroup).Inc()
		return nil
	}
	addr, normalized, ok := parseHostAddress(hostAddress)
	if !ok {
		w.metrics.requestsTotal.WithLabelValues(modeHost, outcomeBadAddress).Inc()
		return nil
	}
	target, ok := w.addrIndex[normalized]
	switch {
	case !ok:
		// This address is outside the tracked membership: synthesize a
		// backend owned by this worker, so operators can address
		// arbitrary instances directly.
		target = backend.NewSynthetic(addr)
		w.addrIndex[normalized] = target
		w.synthetics.Add(normalized, target)
		w.metrics.syntheticBackends.Inc()
		w.logger.Debug("synthetic backend created",
			zap.String("backend", normalized),
		)
	case target.Synthetic():
		w.synthetics.Get(normalized) // bump recency
	}
	return w.forward(modeHost, w.connFor(target), req, cbs)
}

// connFor returns the live connection for a backend, lazily creating
// one. At most one live connection exists per backend at a time.
func (w *workerPool) connFor(target *backend.Backend) *activeConn {
	if active, ok := w.conns[target]; ok {
		return active
	}
	active := newActiveConn(w, target)
	w.conns[target] = active
	return active
}

func (w *workerPool) forward(mode string, active *activeConn, req client.Request, cbs client.Callbacks) client.Handle {
	handle := active.conn.MakeRequest(req, cbs)
	if handle == nil {
		w.metrics.requestsTotal.WithLabelValues(mode, outcomeRejected).Inc()
		return nil
	}
	w.metrics.requestsTotal.WithLabelValues(mode, outcomeOK).Inc()
	return handle
}

// onSyntheticEvicted runs on the loop, from inside the cache call that
// displaced the victim.
func (w *workerPool) onSyntheticEvicted(normalized string, victim *backend.Backend) {
	if current, ok := w.addrIndex[normalized]; ok && current == victim {
		delete(w.addrIndex, normalized)
	}
	if active, ok := w.conns[victim]; ok {
		active.conn.Close()
	}
	w.metrics.syntheticBackends.Dec()
	w.metrics.syntheticEvictions.Inc()
}

func (w *workerPool) snapshotConns() []*activeConn {
	snapshot := make([]*activeConn, 0, len(w.conns))
	for _, active := range w.conns {
		snapshot = append(snapshot, active)
	}
	return snapshot
}

func (w *workerPool) close() error {
	w.loop.Do(func() {
		if w.providerSub != nil {
			_ = w.providerSub.Close()
			w.providerSub = nil
		}
		w.handleGroupRemoved(w.groupName)
	})
	return w.loop.Close()
}
