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
	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/client"
	"go.uber.org/zap"
)

// activeConn binds one client connection to the worker that owns it.
// It exists from the first request to a backend until the connection
// closes (from either side) or the backend leaves the membership. All
// of its methods run as tasks on the owning worker's loop.
type activeConn struct {
	worker  *workerPool
	backend *backend.Backend
	conn    client.Conn
	closed  bool
}

func newActiveConn(worker *workerPool, target *backend.Backend) *activeConn {
	active := &activeConn{
		worker:  worker,
		backend: target,
	}
	active.conn = worker.factory.New(target, worker.loop, worker.clientConfig)
	active.conn.AddCloseWatcher(active.onClose)
	worker.metrics.connectionsCreated.Inc()
	worker.metrics.activeConnections.Inc()
	worker.logger.Debug("connection created",
		zap.String("backend", target.AddrString()),
		zap.Bool("synthetic", target.Synthetic()),
	)
	return active
}

// onClose runs on the worker's loop as part of the connection's close
// notification. It removes this connection from the worker's map, so
// the map never holds an entry for a closed connection, and defers the
// final teardown until after the notification has fully unwound, so
// the connection is not released while its own call stack is still
// executing.
func (a *activeConn) onClose() {
	if a.closed {
		return
	}
	a.closed = true
	if current, ok := a.worker.conns[a.backend]; ok && current == a {
		delete(a.worker.conns, a.backend)
	}
	a.worker.metrics.connectionsClosed.Inc()
	a.worker.metrics.activeConnections.Dec()
	a.worker.loop.Defer(a.teardown)
}

func (a *activeConn) teardown() {
	a.worker.logger.Debug("connection released",
		zap.String("backend", a.backend.AddrString()),
	)
	a.conn = nil
}
