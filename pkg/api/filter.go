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

// Package api defines the contract between the host stream-processing
// pipeline and the filters it runs. Hosts implement the callback side;
// filters implement the lifecycle hooks. Filters are driven by a single
// owning execution context per request; work arriving on any other
// goroutine must be re-dispatched through Post before it touches filter
// state or stream APIs.
package api

import "time"

// HeaderMap is a mutable, case-insensitive view of a header block.
type HeaderMap interface {
	// Get returns the first value for key, and whether the key is present.
	Get(key string) (string, bool)
	// Values returns all values for key, nil if absent.
	Values(key string) []string
	Set(key, value string)
	Add(key, value string)
	Del(key string)
	// Range iterates all key/value pairs until f returns false.
	Range(f func(key, value string) bool)
}

// RequestHeaderMap is the request header block plus its pseudo request line.
type RequestHeaderMap interface {
	HeaderMap
	Method() string
	Path() string
	Host() string
	Scheme() string
}

// ResponseHeaderMap is the response header block plus its status code.
type ResponseHeaderMap interface {
	HeaderMap
	StatusCode() int
}

// RouteEntry is the matched route's narrow capability surface. The core
// only depends on the opaque per-route key/value configuration.
type RouteEntry interface {
	Name() string
	// OpaqueConfig returns the per-route key/value options, possibly nil.
	OpaqueConfig() map[string]string
}

// StreamInfo exposes per-stream facts the host tracks on the filter's
// behalf. Fields describing the response are only meaningful at log time.
type StreamInfo interface {
	// Route returns the matched route, nil when no route matched.
	Route() RouteEntry
	// RequestID is the host-assigned correlation id for this stream.
	RequestID() string
	// PeerCertificateURI returns the URI SAN of the downstream client
	// certificate, empty when the connection is not mutually authenticated.
	PeerCertificateURI() string
	// DownstreamRemoteAddress is the client host:port.
	DownstreamRemoteAddress() string
	Protocol() string
	StartTime() time.Time

	ResponseCode() int
	BytesReceived() uint64
	BytesSent() uint64
	Duration() time.Duration
}

// Dispatcher posts work onto the request's owning execution context.
// Post never blocks the caller; the closure runs later, serialized with
// every other hook and posted closure of the same stream. A closure may
// run after the stream itself is gone, so it must re-check state and must
// not assume the stream is still writable.
type Dispatcher interface {
	Post(fn func())
}

// FilterCallbacks is the stream surface a filter may drive. Continue and
// SendLocalReply must only be invoked from the owning execution context.
type FilterCallbacks interface {
	Dispatcher

	// Continue resumes a stream previously suspended by StopIteration or
	// StopAndBuffer. Buffered data is delivered downstream in its original
	// order before any new data.
	Continue(status StatusType)

	// SendLocalReply short-circuits the stream with a direct response to
	// the client. No further resume is possible afterwards.
	SendLocalReply(responseCode int, bodyText string)
}

// FilterCallbackHandler is what the host hands a filter at creation time.
type FilterCallbackHandler interface {
	FilterCallbacks
	StreamInfo() StreamInfo
}

// StreamDecoderFilter receives the request-direction stream events.
//
// A hook returning StopIteration or StopAndBuffer suspends the stream; the
// filter later resumes it via FilterCallbacks.Continue, or terminates it
// via SendLocalReply. Returning LocalReply from DecodeHeaders signals that
// a direct response was already sent from within the hook.
type StreamDecoderFilter interface {
	DecodeHeaders(headers RequestHeaderMap, endStream bool) StatusType
	DecodeData(data []byte, endStream bool) StatusType
	DecodeTrailers(trailers HeaderMap) StatusType
}

// StreamResetHandler is notified when the downstream tears the stream down
// before it completes.
type StreamResetHandler interface {
	OnStreamReset()
}

// AccessLogHandler runs once per stream after the response completes.
// It may be invoked after the filter's stream bindings are already torn
// down, so implementations must only touch data they own or share.
type AccessLogHandler interface {
	OnLog(requestHeaders RequestHeaderMap, responseHeaders ResponseHeaderMap, info StreamInfo)
}
