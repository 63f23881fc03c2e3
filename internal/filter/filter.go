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

// Package filter implements the policy-control decoder filter: it gates
// each request on an asynchronous decision-service check and reports the
// outcome after the request completes.
package filter

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gateway-mesh/policy-gate/internal/decision"
	"github.com/gateway-mesh/policy-gate/internal/metrics"
	"github.com/gateway-mesh/policy-gate/internal/tracing"
	"github.com/gateway-mesh/policy-gate/pkg/api"
)

// Per-route opaque config keys.
const (
	// RouteKeyControl turns policy control on for a route. Control is off
	// unless the route sets it to exactly "on".
	RouteKeyControl = "policy_control"
	// RouteKeyForward turns attribute forwarding off for a route.
	// Forwarding is on unless the route sets it to exactly "off".
	RouteKeyForward = "policy_forward"
)

type state int

const (
	stateNotStarted state = iota
	stateCalling
	stateComplete
	stateResponded
)

// Filter is the per-request state machine. One instance serves exactly one
// request/response cycle and is driven only from the request's owning
// execution context; check completions arriving elsewhere are hopped back
// through the callbacks' dispatcher.
type Filter struct {
	cfg       *Config
	callbacks api.FilterCallbackHandler
	tracer    trace.Tracer

	// checkData is shared with the decision client and must outlive this
	// struct: the report path reaches it after the stream bindings are gone.
	checkData *decision.CheckData

	st              state
	initiatingCall  bool
	checkStatusCode int
	controlDisabled bool

	checkSpan trace.Span
}

var (
	_ api.StreamDecoderFilter = (*Filter)(nil)
	_ api.StreamResetHandler  = (*Filter)(nil)
	_ api.AccessLogHandler    = (*Filter)(nil)
)

// New creates a filter bound to one request.
func New(cfg *Config, callbacks api.FilterCallbackHandler) *Filter {
	return &Filter{
		cfg:             cfg,
		callbacks:       callbacks,
		tracer:          otel.Tracer("policy-gate/filter"),
		st:              stateNotStarted,
		checkStatusCode: HTTPStatus(codes.Unknown),
	}
}

// controlDisabledForRoute reads the policy-control switch; off by default.
func (f *Filter) controlDisabledForRoute() bool {
	if route := f.callbacks.StreamInfo().Route(); route != nil {
		if v, ok := route.OpaqueConfig()[RouteKeyControl]; ok && v == "on" {
			return false
		}
	}
	return true
}

// forwardDisabledForRoute reads the attribute-forward switch; on by default.
func (f *Filter) forwardDisabledForRoute() bool {
	if route := f.callbacks.StreamInfo().Route(); route != nil {
		if v, ok := route.OpaqueConfig()[RouteKeyForward]; ok && v == "off" {
			return true
		}
	}
	return false
}

// DecodeHeaders resolves the route switches, forwards attributes and issues
// the check. The stream continues immediately when control is disabled or
// the check completed synchronously with success; a synchronous failure has
// already produced a local reply by the time the call returns.
func (f *Filter) DecodeHeaders(headers api.RequestHeaderMap, endStream bool) api.StatusType {
	if f.cfg.ForwardAttributes != "" && !f.forwardDisabledForRoute() {
		headers.Set(AttributesHeader, f.cfg.ForwardAttributes)
	}

	f.controlDisabled = f.controlDisabledForRoute()
	if f.controlDisabled {
		return api.Continue
	}

	info := f.callbacks.StreamInfo()
	f.st = stateCalling
	f.initiatingCall = true
	f.checkData = &decision.CheckData{
		RequestID:     info.RequestID(),
		Protocol:      info.Protocol(),
		RemoteAddress: info.DownstreamRemoteAddress(),
		StartTime:     info.StartTime(),
	}

	_, span := f.tracer.Start(tracing.Extract(context.Background(), headers), "policy_gate.check",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("request_id", info.RequestID()))
	f.checkSpan = span

	f.cfg.Client.Check(f.checkData, headers, info.PeerCertificateURI(), f.hop(f.completeCheck))
	f.initiatingCall = false

	switch f.st {
	case stateComplete:
		return api.Continue
	case stateResponded:
		// The synchronous completion already sent the reply.
		return api.LocalReply
	default:
		slog.Debug("Check outstanding, suspending stream", "request_id", info.RequestID())
		return api.StopIteration
	}
}

// DecodeData buffers body data only while the check is outstanding; in any
// other state the chunk passes through untouched and in order.
func (f *Filter) DecodeData(data []byte, endStream bool) api.StatusType {
	if f.controlDisabled {
		return api.Continue
	}
	if f.st == stateCalling {
		return api.StopAndBuffer
	}
	return api.Continue
}

// DecodeTrailers suspends trailers only while the check is outstanding.
func (f *Filter) DecodeTrailers(trailers api.HeaderMap) api.StatusType {
	if f.controlDisabled {
		return api.Continue
	}
	if f.st == stateCalling {
		return api.StopIteration
	}
	return api.Continue
}

// OnStreamReset forces the terminal state so that a check completing later
// is inert with respect to the stream.
func (f *Filter) OnStreamReset() {
	f.st = stateResponded
}

// hop wraps done so it runs on the request's owning context. The closure
// carries only the status value; done re-checks state before acting, which
// keeps a post that lands after reset or teardown harmless.
func (f *Filter) hop(done func(*status.Status)) decision.DoneFunc {
	post := f.callbacks.Post
	return func(st *status.Status) {
		post(func() { done(st) })
	}
}

// completeCheck runs on the owning context, in the issuing frame when the
// call finished synchronously and from a posted closure otherwise.
func (f *Filter) completeCheck(st *status.Status) {
	slog.Debug("Check complete", "code", st.Code().String(), "message", st.Message())

	if f.checkSpan != nil {
		span := f.checkSpan
		f.checkSpan = nil
		span.SetAttributes(attribute.String("decision.code", st.Code().String()))
		if st.Code() != codes.OK {
			span.SetStatus(otelcodes.Error, st.Message())
		}
		span.End()
	}

	if st.Code() != codes.OK {
		// The mapped code is recorded even when the stream is already gone:
		// the report still carries the decision's real outcome.
		f.checkStatusCode = HTTPStatus(st.Code())
		if f.st == stateResponded {
			return
		}
		f.st = stateResponded
		metrics.LocalRepliesTotal.WithLabelValues(strconv.Itoa(f.checkStatusCode)).Inc()
		f.callbacks.SendLocalReply(f.checkStatusCode, statusBody(st))
		return
	}

	if f.st == stateResponded {
		return
	}
	f.st = stateComplete
	if !f.initiatingCall {
		f.callbacks.Continue(api.Continue)
	}
}

// OnLog fires the report once per request. It is skipped entirely when
// header processing never issued a check. The done callback must not touch
// the filter: only the shared check data and the process-wide logger are
// safe once the stream is gone.
func (f *Filter) OnLog(requestHeaders api.RequestHeaderMap, responseHeaders api.ResponseHeaderMap, info api.StreamInfo) {
	if f.checkData == nil {
		return
	}
	f.cfg.Client.Report(f.checkData, responseHeaders, info, f.checkStatusCode, func(st *status.Status) {
		slog.Debug("Report returned", "code", st.Code().String(), "message", st.Message())
	})
}

// statusBody renders the human-readable failure description sent to the
// client.
func statusBody(st *status.Status) string {
	if st.Message() == "" {
		return st.Code().String()
	}
	return st.Code().String() + ": " + st.Message()
}
