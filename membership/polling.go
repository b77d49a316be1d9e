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
	"context"
	"io"
	"net/netip"
	"time"

	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/internal"
	"go.uber.org/zap"
)

// Prober is a single-shot source of a group's membership, such as a
// query against a service-discovery API. The second return value
// specifies the TTL of the result, or 0 if there is no known TTL.
type Prober interface {
	ProbeOnce(ctx context.Context, group string) (backends []*backend.Backend, ttl time.Duration, err error)
}

// PollingOption configures a PollingProvider.
type PollingOption func(*PollingProvider)

// WithPollingLogger sets the logger used to report probe failures.
func WithPollingLogger(logger *zap.Logger) PollingOption {
	return func(p *PollingProvider) {
		p.logger = logger
	}
}

// PollingProvider is a [Provider] that keeps one group's membership
// current by polling a Prober whenever the result-set TTL expires. If
// the Prober does not return a TTL with the result set, defaultTTL is
// used. Between polls, consumers can hint that they need fresh results
// (for example because they ran out of usable backends) via Refresh.
//
// Consecutive polls are diffed by address: members that disappear are
// reported through the group's removal watchers, new members are
// appended to the current generation, and a member whose weight or
// health changed is modeled as a removal plus an add. The group
// generation itself is only replaced on the first successful poll, so
// steady-state churn never invalidates unrelated members.
type PollingProvider struct {
	registry   *Registry
	prober     Prober
	group      string
	defaultTTL time.Duration
	logger     *zap.Logger
	clock      internal.Clock

	refresh    chan struct{}
	cancel     context.CancelFunc
	doneSignal chan struct{}
}

// NewPollingProvider creates a polling provider for the given group.
// It does not poll until [PollingProvider.Start] is called.
func NewPollingProvider(group string, prober Prober, defaultTTL time.Duration, opts ...PollingOption) *PollingProvider {
	provider := &PollingProvider{
		registry:   NewRegistry(),
		prober:     prober,
		group:      group,
		defaultTTL: defaultTTL,
		logger:     zap.NewNop(),
		clock:      internal.NewRealClock(),
		refresh:    make(chan struct{}, 1),
		doneSignal: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(provider)
	}
	return provider
}

// Lookup implements Provider.
func (p *PollingProvider) Lookup(name string) (*Group, bool) {
	return p.registry.Lookup(name)
}

// Subscribe implements Provider.
func (p *PollingProvider) Subscribe(watcher Watcher) io.Closer {
	return p.registry.Subscribe(watcher)
}

// Start begins polling. It returns immediately; polling continues in
// the background until the given context is cancelled or Close is
// called.
func (p *PollingProvider) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Refresh hints that the current results may be stale, causing the
// next poll to happen immediately. It never blocks.
func (p *PollingProvider) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Close stops polling and waits for the background goroutine to exit.
// The registry keeps its last observed state. Close before Start is a
// no-op.
func (p *PollingProvider) Close() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	<-p.doneSignal
	return nil
}

func (p *PollingProvider) run(ctx context.Context) {
	defer close(p.doneSignal)

	timer := p.clock.NewTimer(0)
	if !timer.Stop() {
		<-timer.Chan()
	}

	for {
		ttl := p.poll(ctx)
		if ttl == 0 {
			ttl = p.defaultTTL
		}
		timer.Reset(ttl)

		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.Chan()
			}
			return
		case <-p.refresh:
			// We still want to drain the timer in this case:
			// > Reset should be invoked only on stopped or expired timers
			// > with drained channels.
			// https://pkg.go.dev/time#Timer.Reset
			if !timer.Stop() {
				<-timer.Chan()
			}
			// Continue.
		case <-timer.Chan():
			// Continue.
		}
	}
}

func (p *PollingProvider) poll(ctx context.Context) time.Duration {
	observed, ttl, err := p.prober.ProbeOnce(ctx, p.group)
	if err != nil {
		// Keep the last known membership and retry after the TTL.
		p.logger.Warn("membership probe failed",
			zap.String("group", p.group),
			zap.Error(err),
		)
		return ttl
	}

	current, ok := p.registry.Lookup(p.group)
	if !ok {
		p.registry.SetGroup(p.group, observed)
		return ttl
	}

	desired := make(map[netip.AddrPort]*backend.Backend, len(observed))
	for _, b := range observed {
		desired[b.Addr()] = b
	}
	var removed []netip.AddrPort
	var added []*backend.Backend
	known := map[netip.AddrPort]struct{}{}
	for _, have := range current.Backends() {
		known[have.Addr()] = struct{}{}
		want, stillThere := desired[have.Addr()]
		switch {
		case !stillThere:
			removed = append(removed, have.Addr())
		case want.Weight() != have.Weight() || want.Health() != have.Health():
			removed = append(removed, have.Addr())
			added = append(added, want)
		}
	}
	for _, b := range observed {
		if _, ok := known[b.Addr()]; !ok {
			added = append(added, b)
		}
	}

	if len(removed) > 0 {
		p.registry.RemoveBackends(p.group, removed...)
	}
	if len(added) > 0 {
		p.registry.AddBackends(p.group, added...)
	}
	return ttl
}
