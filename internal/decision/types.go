/*
 * Copyright (c) 2026, the policy-gate authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package decision holds the client side of the policy decision service:
// the asynchronous Check call that gates a request and the best-effort
// Report call issued after the request completes.
package decision

import (
	"time"

	"google.golang.org/grpc/status"

	"github.com/gateway-mesh/policy-gate/pkg/api"
)

// DoneFunc receives the outcome of an asynchronous Check or Report call.
// It is invoked exactly once, on an unspecified goroutine.
type DoneFunc func(st *status.Status)

// CheckData is the request-scoped snapshot shared between the per-request
// filter and this client. It is created at header time and kept alive by
// whoever still references it, so a Report callback firing after the filter
// instance is gone only ever touches this snapshot.
type CheckData struct {
	RequestID string

	Method   string
	Path     string
	Host     string
	Scheme   string
	Protocol string

	// Headers is a flattened snapshot of the request headers taken at
	// header-arrival time. Later mutations of the live header map are
	// deliberately not reflected here.
	Headers map[string]string

	// OriginIdentity is the downstream peer identity (URI SAN of the client
	// certificate), empty for plaintext connections.
	OriginIdentity string

	// Attributes is the merged attribute bag sent with the check: the
	// listener's static attributes plus anything request-specific.
	Attributes map[string]string

	RemoteAddress string
	StartTime     time.Time
}

// Client is the collaborator contract the filter core relies on.
//
// Check fills data from the given headers, issues the policy decision and
// invokes done with a canonical status. The call may complete before Check
// returns (synchronous fast path) or on another goroutine afterwards.
//
// Report ships a telemetry record built from the shared data and whatever
// response state the host exposes. Its outcome is only observed by done;
// failures are never surfaced to the stream.
type Client interface {
	Check(data *CheckData, headers api.RequestHeaderMap, originIdentity string, done DoneFunc)
	Report(data *CheckData, responseHeaders api.ResponseHeaderMap, info api.StreamInfo, checkStatusCode int, done DoneFunc)
}

// Snapshot populates data from the live request header map. It is exported
// so fake clients in tests mirror the real client's behavior.
func Snapshot(data *CheckData, headers api.RequestHeaderMap) {
	data.Method = headers.Method()
	data.Path = headers.Path()
	data.Host = headers.Host()
	data.Scheme = headers.Scheme()
	snap := make(map[string]string)
	headers.Range(func(key, value string) bool {
		// First value wins, matching the single-valued wire snapshot.
		if _, ok := snap[key]; !ok {
			snap[key] = value
		}
		return true
	})
	data.Headers = snap
}
