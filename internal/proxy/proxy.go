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

// Package proxy is the host side of the filter contract: an HTTP reverse
// proxy that runs one policy filter per request, owns the request's
// execution context, buffers body data while the filter suspends the
// stream, and invokes the access-log hook after the response completes.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gateway-mesh/policy-gate/internal/config"
	"github.com/gateway-mesh/policy-gate/internal/filter"
	"github.com/gateway-mesh/policy-gate/internal/metrics"
	"github.com/gateway-mesh/policy-gate/internal/route"
	"github.com/gateway-mesh/policy-gate/pkg/api"
)

const bodyChunkSize = 32 * 1024

// Proxy serves downstream traffic and forwards gated requests upstream.
type Proxy struct {
	cfg       *config.Server
	routes    *route.Table
	filterCfg *filter.Config

	upstream   *http.Client
	httpServer *http.Server
}

// New builds the proxy server.
func New(cfg *config.Server, routes *route.Table, filterCfg *filter.Config) *Proxy {
	p := &Proxy{
		cfg:       cfg,
		routes:    routes,
		filterCfg: filterCfg,
		upstream:  &http.Client{},
	}
	p.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      p,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return p
}

// Start starts the proxy listener.
func (p *Proxy) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "Starting proxy server", "port", p.cfg.Port)
	if err := p.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("proxy server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the proxy listener.
func (p *Proxy) Stop(ctx context.Context) error {
	slog.InfoContext(ctx, "Stopping proxy server")
	return p.httpServer.Shutdown(ctx)
}

// bodyResult is what the body reader hands back to the handler goroutine.
type bodyResult struct {
	data []byte
	err  error
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	matched := p.routes.Match(r.URL.Path)
	var routeEntry api.RouteEntry
	if matched != nil {
		routeEntry = matched
	}

	info := newStreamInfo(r, routeEntry)
	loop := newEventLoop()
	go loop.run()

	s := newStream(loop, info)
	f := filter.New(p.filterCfg, s)
	reqHeaders := newRequestHeaders(r)

	var headerStatus api.StatusType
	endStream := r.ContentLength == 0
	loop.call(func() { headerStatus = f.DecodeHeaders(reqHeaders, endStream) })

	// The body is read concurrently with a possible suspension: chunks keep
	// arriving while the check is outstanding, pass through the filter's
	// data hook on the owning loop, and are buffered here in order.
	bodyCh := make(chan bodyResult, 1)
	go p.readBody(r, f, loop, bodyCh)

	switch headerStatus {
	case api.LocalReply:
		p.finishLocal(w, <-s.replyCh, f, loop, reqHeaders, info)
		return
	case api.StopIteration:
		select {
		case <-s.resumeCh:
			// Check passed; fall through to forwarding.
		case rep := <-s.replyCh:
			p.finishLocal(w, rep, f, loop, reqHeaders, info)
			return
		case <-r.Context().Done():
			loop.call(func() { f.OnStreamReset() })
			p.finish(f, loop, reqHeaders, nil, info)
			return
		}
	case api.Continue:
	}

	body := <-bodyCh
	if body.err != nil {
		loop.call(func() { f.OnStreamReset() })
		p.finish(f, loop, reqHeaders, nil, info)
		return
	}
	info.bytesReceived = uint64(len(body.data))

	if matched == nil {
		p.finishLocal(w, localReply{code: http.StatusNotFound, body: "no route matched"}, f, loop, reqHeaders, info)
		return
	}

	upstreamResp, err := p.forward(r, matched, body.data)
	if err != nil {
		slog.Warn("Upstream request failed",
			"request_id", info.requestID,
			"route", matched.Name(),
			"error", err)
		p.finishLocal(w, localReply{code: http.StatusBadGateway, body: "upstream request failed"}, f, loop, reqHeaders, info)
		return
	}
	defer upstreamResp.Body.Close()

	for key, vs := range upstreamResp.Header {
		for _, v := range vs {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(upstreamResp.StatusCode)
	sent, _ := io.Copy(w, upstreamResp.Body)

	info.responseCode = upstreamResp.StatusCode
	info.bytesSent = uint64(sent)
	respHeaders := newResponseHeaders(upstreamResp.Header, upstreamResp.StatusCode)
	p.finish(f, loop, reqHeaders, respHeaders, info)
}

// readBody drains the downstream body chunk by chunk through the filter's
// data hook and hands the assembled body back in original order. Trailers,
// when present, go through the trailer hook after the last chunk.
func (p *Proxy) readBody(r *http.Request, f *filter.Filter, loop *eventLoop, out chan<- bodyResult) {
	var buf bytes.Buffer
	chunk := make([]byte, bodyChunkSize)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			end := err == io.EOF
			loop.call(func() { f.DecodeData(data, end) })
			buf.Write(data)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			out <- bodyResult{err: err}
			return
		}
	}

	if len(r.Trailer) > 0 {
		loop.call(func() { f.DecodeTrailers(headerMap{h: r.Trailer}) })
	}
	out <- bodyResult{data: buf.Bytes()}
}

// forward sends the gated request to the route's upstream cluster.
func (p *Proxy) forward(r *http.Request, matched *route.Entry, body []byte) (*http.Response, error) {
	addr, ok := p.routes.ClusterAddress(matched.Cluster())
	if !ok {
		return nil, fmt.Errorf("unknown cluster %q", matched.Cluster())
	}

	u := &url.URL{
		Scheme:   "http",
		Host:     addr,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	req.Host = r.Host
	return p.upstream.Do(req)
}

// finishLocal writes a filter-produced (or host-produced) direct response
// and completes the stream.
func (p *Proxy) finishLocal(w http.ResponseWriter, rep localReply, f *filter.Filter, loop *eventLoop, reqHeaders api.RequestHeaderMap, info *streamInfo) {
	w.Header().Set("content-type", "text/plain")
	w.WriteHeader(rep.code)
	n, _ := io.WriteString(w, rep.body)

	info.responseCode = rep.code
	info.bytesSent = uint64(n)
	respHeaders := newResponseHeaders(w.Header().Clone(), rep.code)
	p.finish(f, loop, reqHeaders, respHeaders, info)
}

// finish runs the access-log hook on the owning loop, then releases it.
func (p *Proxy) finish(f *filter.Filter, loop *eventLoop, reqHeaders api.RequestHeaderMap, respHeaders api.ResponseHeaderMap, info *streamInfo) {
	info.duration = time.Since(info.start)
	loop.call(func() { f.OnLog(reqHeaders, respHeaders, info) })
	loop.stop()
}
