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
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bufbuild/keylb/balancer"
	"github.com/bufbuild/keylb/client"
	"github.com/bufbuild/keylb/membership"
	"golang.org/x/sync/errgroup"
)

// Pool is the process-wide entry point for routing requests to one
// backend group. It owns a fixed set of worker pools and forwards each
// call to one of them; all state mutation happens inside the chosen
// worker, on that worker's own loop.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers []*workerPool
	metrics *metrics
	// +checkatomic
	next atomic.Uint64
}

// New creates a pool routing to the named group. The provider is the
// authoritative source of the group's membership, the factory creates
// the underlying connections, and the balancer picks a backend per
// key. If the group already exists it is adopted immediately;
// otherwise the pool routes nothing until the provider reports it.
func New(
	groupName string,
	provider membership.Provider,
	factory client.Factory,
	bal balancer.Balancer,
	options ...Option,
) (*Pool, error) {
	if groupName == "" {
		return nil, errors.New("group name is required")
	}
	if provider == nil {
		return nil, errors.New("membership provider is required")
	}
	if factory == nil {
		return nil, errors.New("client factory is required")
	}
	if bal == nil {
		return nil, errors.New("balancer is required")
	}
	var opts poolOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()

	poolMetrics := newMetrics(groupName, opts.registerer)
	pool := &Pool{
		workers: make([]*workerPool, opts.workers),
		metrics: poolMetrics,
	}
	for i := range pool.workers {
		worker, err := newWorkerPool(groupName, provider, factory, bal, &opts, poolMetrics)
		if err != nil {
			for _, started := range pool.workers[:i] {
				_ = started.close()
			}
			poolMetrics.unregister()
			return nil, fmt.Errorf("creating worker %d: %w", i, err)
		}
		pool.workers[i] = worker
	}
	return pool, nil
}

// MakeRequest routes a request by key: the effective hash key is given
// to the balancer to pick among the group's current backends, and the
// request is forwarded on that backend's connection, creating it if
// needed.
//
// It returns nil when the request cannot be routed: no group is
// currently tracked, or the balancer selected no backend. A nil
// result means "unavailable for this key"; callers must not retry
// through the pool.
func (p *Pool) MakeRequest(key string, req client.Request, cbs client.Callbacks) client.Handle {
	return p.worker().makeRequest(key, req, cbs)
}

// MakeRequestToHost routes a request directly to a "host:port" string,
// bypassing the balancer. Addresses outside the tracked membership get
// a synthetic backend created on the fly.
//
// It returns nil when the request cannot be routed: no group is
// currently tracked, or the address string is malformed (no colon,
// trailing colon, port above 65535, or an invalid address literal).
// The address may come from untrusted routing metadata, so a
// malformed address is never a fault.
func (p *Pool) MakeRequestToHost(hostAddress string, req client.Request, cbs client.Callbacks) client.Handle {
	return p.worker().makeRequestToHost(hostAddress, req, cbs)
}

// Close tears down every worker: connections are closed, membership
// subscriptions are cancelled, each worker's loop is drained and
// stopped, and the pool's metric collectors are unregistered. The
// pool cannot be used after it has been closed.
func (p *Pool) Close() error {
	var group errgroup.Group
	for _, worker := range p.workers {
		group.Go(worker.close)
	}
	err := group.Wait()
	p.metrics.unregister()
	return err
}

// worker returns the worker pool for the current caller. Callers are
// spread across workers; each worker's state stays private to its own
// loop.
func (p *Pool) worker() *workerPool {
	idx := p.next.Add(1) - 1
	return p.workers[idx%uint64(len(p.workers))]
}
