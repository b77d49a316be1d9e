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
	"runtime"

	"github.com/bufbuild/keylb/client"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultMaxSyntheticBackends = 256

// Option is an option used to customize the behavior of a [Pool].
type Option interface {
	apply(*poolOptions)
}

// WithWorkers configures the number of worker pools the facade shards
// across. Each worker owns its own connections and membership mirror.
// If not specified, [runtime.GOMAXPROCS] is used.
func WithWorkers(count int) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.workers = count
	})
}

// WithHashtagging enables hashtag extraction on request keys: only the
// portion of the key between '{' and '}' is hashed for backend
// selection. See [balancer.Hashtag]. If not specified, the whole key
// is hashed.
func WithHashtagging() Option {
	return optionFunc(func(opts *poolOptions) {
		opts.enableHashtagging = true
	})
}

// WithClientConfig configures the per-connection settings handed to
// the connection factory. If not specified, [client.DefaultConfig] is
// used.
func WithClientConfig(config client.Config) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.clientConfig = config
	})
}

// WithMaxSyntheticBackends bounds, per worker, the number of backends
// created on demand by [Pool.MakeRequestToHost] for addresses outside
// the tracked membership. When the bound is exceeded the least
// recently used synthetic backend is evicted and its connection
// closed. If not specified, a limit of 256 is used.
func WithMaxSyntheticBackends(count int) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.maxSyntheticBackends = count
	})
}

// WithLogger configures the logger used by the pool. If not specified,
// logging is disabled.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.logger = logger
	})
}

// WithMetricsRegisterer configures where the pool registers its
// Prometheus metrics. If not specified,
// [prometheus.DefaultRegisterer] is used. Tests will usually pass a
// private [prometheus.NewRegistry].
//
// Metrics carry the group name as a constant label, so at most one
// open pool per group may share a registerer. [Pool.Close]
// unregisters the pool's collectors.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.registerer = registerer
	})
}

type optionFunc func(*poolOptions)

func (f optionFunc) apply(opts *poolOptions) {
	f(opts)
}

type poolOptions struct {
	workers              int
	enableHashtagging    bool
	maxSyntheticBackends int
	clientConfig         client.Config
	logger               *zap.Logger
	registerer           prometheus.Registerer
}

func (opts *poolOptions) applyDefaults() {
	if opts.workers <= 0 {
		opts.workers = runtime.GOMAXPROCS(0)
	}
	if opts.maxSyntheticBackends <= 0 {
		opts.maxSyntheticBackends = defaultMaxSyntheticBackends
	}
	if opts.clientConfig == (client.Config{}) {
		opts.clientConfig = client.DefaultConfig()
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.registerer == nil {
		opts.registerer = prometheus.DefaultRegisterer
	}
}
