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

package proxy

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-mesh/policy-gate/pkg/api"
)

// eventLoop is the owning execution context of one stream. Every filter
// hook and every posted closure runs under execMu, which is the
// serialization the filter contract requires: the drainer goroutine holds
// it for each queued closure, and posts landing after stop take it
// directly on the caller's goroutine.
type eventLoop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool

	execMu sync.Mutex
}

func newEventLoop() *eventLoop {
	l := &eventLoop{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// run drains the queue until stop is called and the queue is empty.
func (l *eventLoop) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.execMu.Lock()
		fn()
		l.execMu.Unlock()
	}
}

// Post enqueues fn onto the owning context. A post landing after the loop
// stopped runs on the caller's goroutine under execMu, so it stays
// serialized with the drainer and with every other late post; the closures
// re-check filter state before acting on a stream that is already gone.
func (l *eventLoop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.execMu.Lock()
		fn()
		l.execMu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	l.mu.Unlock()
}

// call runs fn on the loop and waits for it.
func (l *eventLoop) call(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

func (l *eventLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.cond.Signal()
	l.mu.Unlock()
}

// localReply is a direct response produced by a filter.
type localReply struct {
	code int
	body string
}

// stream wires one request's filter to its owning loop and to the handler
// goroutine waiting on the stream's fate.
type stream struct {
	loop *eventLoop
	info *streamInfo

	// Buffered size 1: Continue/SendLocalReply fire at most once each, and
	// the terminal Responded state in the filter guards against repeats.
	resumeCh chan api.StatusType
	replyCh  chan localReply
}

var _ api.FilterCallbackHandler = (*stream)(nil)

func newStream(loop *eventLoop, info *streamInfo) *stream {
	return &stream{
		loop:     loop,
		info:     info,
		resumeCh: make(chan api.StatusType, 1),
		replyCh:  make(chan localReply, 1),
	}
}

func (s *stream) Post(fn func()) { s.loop.Post(fn) }

func (s *stream) Continue(status api.StatusType) {
	select {
	case s.resumeCh <- status:
	default:
	}
}

func (s *stream) SendLocalReply(responseCode int, bodyText string) {
	select {
	case s.replyCh <- localReply{code: responseCode, body: bodyText}:
	default:
	}
}

func (s *stream) StreamInfo() api.StreamInfo { return s.info }

// streamInfo implements api.StreamInfo for one request. The response facts
// are filled in by the handler before OnLog runs.
type streamInfo struct {
	route      api.RouteEntry
	requestID  string
	peerURI    string
	remoteAddr string
	protocol   string
	start      time.Time

	responseCode  int
	bytesReceived uint64
	bytesSent     uint64
	duration      time.Duration
}

func newStreamInfo(r *http.Request, route api.RouteEntry) *streamInfo {
	requestID := r.Header.Get("x-request-id")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var peerURI string
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		if uris := r.TLS.PeerCertificates[0].URIs; len(uris) > 0 {
			peerURI = uris[0].String()
		}
	}

	return &streamInfo{
		route:      route,
		requestID:  requestID,
		peerURI:    peerURI,
		remoteAddr: r.RemoteAddr,
		protocol:   r.Proto,
		start:      time.Now(),
	}
}

func (s *streamInfo) Route() api.RouteEntry           { return s.route }
func (s *streamInfo) RequestID() string               { return s.requestID }
func (s *streamInfo) PeerCertificateURI() string      { return s.peerURI }
func (s *streamInfo) DownstreamRemoteAddress() string { return s.remoteAddr }
func (s *streamInfo) Protocol() string                { return s.protocol }
func (s *streamInfo) StartTime() time.Time            { return s.start }
func (s *streamInfo) ResponseCode() int               { return s.responseCode }
func (s *streamInfo) BytesReceived() uint64           { return s.bytesReceived }
func (s *streamInfo) BytesSent() uint64               { return s.bytesSent }

func (s *streamInfo) Duration() time.Duration {
	if s.duration > 0 {
		return s.duration
	}
	return time.Since(s.start)
}
