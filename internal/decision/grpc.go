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

package decision

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	alsdatav3 "github.com/envoyproxy/go-control-plane/envoy/data/accesslog/v3"
	alsv3 "github.com/envoyproxy/go-control-plane/envoy/service/accesslog/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/gateway-mesh/policy-gate/internal/metrics"
	"github.com/gateway-mesh/policy-gate/pkg/api"
)

const defaultCheckTimeout = 5 * time.Second

// Options tunes the gRPC decision client.
type Options struct {
	// CheckTimeout bounds a single Check RPC. Zero means the default.
	CheckTimeout time.Duration
	// LogName identifies this listener in the telemetry stream.
	LogName string
	// NodeID identifies this process in the telemetry stream.
	NodeID string
}

// GRPCClient talks to the decision service over gRPC: unary
// Authorization/Check for policy decisions and a client-streaming
// access-log RPC for reports.
type GRPCClient struct {
	conn *grpc.ClientConn
	auth authv3.AuthorizationClient
	als  alsv3.AccessLogServiceClient

	staticAttributes map[string]string
	checkTimeout     time.Duration
	logName          string
	nodeID           string

	// The report stream is opened lazily and shared by all requests.
	mu         sync.Mutex
	logStream  alsv3.AccessLogService_StreamAccessLogsClient
	identified bool
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient builds a client for the given decision service address.
// An empty address is tolerated: the client is constructed, but every
// Check fails at call time with Unavailable.
func NewGRPCClient(address string, staticAttributes map[string]string, opts Options) (*GRPCClient, error) {
	c := &GRPCClient{
		staticAttributes: staticAttributes,
		checkTimeout:     opts.CheckTimeout,
		logName:          opts.LogName,
		nodeID:           opts.NodeID,
	}
	if c.checkTimeout <= 0 {
		c.checkTimeout = defaultCheckTimeout
	}
	if c.logName == "" {
		c.logName = "policy-gate"
	}

	if address == "" {
		return c, nil
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    5 * time.Minute,
			Timeout: 20 * time.Second,
		}),
	)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.auth = authv3.NewAuthorizationClient(conn)
	c.als = alsv3.NewAccessLogServiceClient(conn)
	return c, nil
}

// Close tears down the underlying connection.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check snapshots the request into data, issues the decision RPC on its own
// goroutine and invokes done exactly once with the canonical outcome.
func (c *GRPCClient) Check(data *CheckData, headers api.RequestHeaderMap, originIdentity string, done DoneFunc) {
	Snapshot(data, headers)
	data.OriginIdentity = originIdentity
	if data.Attributes == nil {
		data.Attributes = make(map[string]string, len(c.staticAttributes))
	}
	for k, v := range c.staticAttributes {
		if _, ok := data.Attributes[k]; !ok {
			data.Attributes[k] = v
		}
	}

	if c.auth == nil {
		done(status.New(codes.Unavailable, "decision service address not configured"))
		return
	}

	req := c.buildCheckRequest(data)
	go func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), c.checkTimeout)
		defer cancel()

		resp, err := c.auth.Check(ctx, req)
		st := checkOutcome(resp, err)
		metrics.CheckDurationSeconds.Observe(time.Since(start).Seconds())
		metrics.ChecksTotal.WithLabelValues(st.Code().String()).Inc()
		done(st)
	}()
}

// checkOutcome reduces an RPC result to the canonical decision status.
func checkOutcome(resp *authv3.CheckResponse, err error) *status.Status {
	if err != nil {
		return status.Convert(err)
	}
	if resp == nil || resp.Status == nil {
		return status.New(codes.OK, "")
	}
	return status.FromProto(resp.Status)
}

func (c *GRPCClient) buildCheckRequest(data *CheckData) *authv3.CheckRequest {
	return &authv3.CheckRequest{
		Attributes: &authv3.AttributeContext{
			Source: &authv3.AttributeContext_Peer{
				Address:   socketAddress(data.RemoteAddress),
				Principal: data.OriginIdentity,
			},
			Request: &authv3.AttributeContext_Request{
				Time: timestamppb.New(data.StartTime),
				Http: &authv3.AttributeContext_HttpRequest{
					Id:       data.RequestID,
					Method:   data.Method,
					Headers:  data.Headers,
					Path:     data.Path,
					Host:     data.Host,
					Scheme:   data.Scheme,
					Protocol: data.Protocol,
				},
			},
			ContextExtensions: data.Attributes,
		},
	}
}

// Report ships one access-log entry for the completed request. The entry is
// built purely from the shared data plus host-tracked stream facts, so it
// stays valid after the per-request filter is destroyed. done only observes
// the send outcome.
func (c *GRPCClient) Report(data *CheckData, responseHeaders api.ResponseHeaderMap, info api.StreamInfo, checkStatusCode int, done DoneFunc) {
	if c.als == nil {
		done(status.New(codes.Unavailable, "decision service address not configured"))
		return
	}

	entry := buildLogEntry(data, responseHeaders, info, checkStatusCode)
	go func() {
		st := c.sendLogEntry(entry)
		metrics.ReportsTotal.WithLabelValues(st.Code().String()).Inc()
		done(st)
	}()
}

func (c *GRPCClient) sendLogEntry(entry *alsdatav3.HTTPAccessLogEntry) *status.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logStream == nil {
		stream, err := c.als.StreamAccessLogs(context.Background())
		if err != nil {
			return status.Convert(err)
		}
		c.logStream = stream
		c.identified = false
	}

	msg := &alsv3.StreamAccessLogsMessage{
		LogEntries: &alsv3.StreamAccessLogsMessage_HttpLogs{
			HttpLogs: &alsv3.StreamAccessLogsMessage_HTTPAccessLogEntries{
				LogEntry: []*alsdatav3.HTTPAccessLogEntry{entry},
			},
		},
	}
	if !c.identified {
		msg.Identifier = &alsv3.StreamAccessLogsMessage_Identifier{
			Node:    &corev3.Node{Id: c.nodeID},
			LogName: c.logName,
		}
	}

	if err := c.logStream.Send(msg); err != nil {
		// Drop the broken stream; the next report reopens it. No retry of
		// this entry.
		c.logStream = nil
		return status.Convert(err)
	}
	c.identified = true
	return status.New(codes.OK, "")
}

func buildLogEntry(data *CheckData, responseHeaders api.ResponseHeaderMap, info api.StreamInfo, checkStatusCode int) *alsdatav3.HTTPAccessLogEntry {
	entry := &alsdatav3.HTTPAccessLogEntry{
		CommonProperties: &alsdatav3.AccessLogCommon{
			StartTime:               timestamppb.New(data.StartTime),
			DownstreamRemoteAddress: socketAddress(data.RemoteAddress),
		},
		Request: &alsdatav3.HTTPRequestProperties{
			RequestMethod: requestMethod(data.Method),
			Scheme:        data.Scheme,
			Authority:     data.Host,
			Path:          data.Path,
			RequestId:     data.RequestID,
			RequestHeaders: map[string]string{
				"x-policy-check-status": strconv.Itoa(checkStatusCode),
			},
		},
	}

	if info != nil {
		entry.CommonProperties.TimeToLastDownstreamTxByte = durationpb.New(info.Duration())
		entry.Response = &alsdatav3.HTTPResponseProperties{
			ResponseCode:      wrapperspb.UInt32(uint32(info.ResponseCode())),
			ResponseBodyBytes: info.BytesSent(),
		}
	} else {
		entry.Response = &alsdatav3.HTTPResponseProperties{}
	}

	if responseHeaders != nil {
		hdrs := make(map[string]string)
		responseHeaders.Range(func(key, value string) bool {
			if _, ok := hdrs[key]; !ok {
				hdrs[key] = value
			}
			return true
		})
		entry.Response.ResponseHeaders = hdrs
	}

	return entry
}

func requestMethod(method string) corev3.RequestMethod {
	if v, ok := corev3.RequestMethod_value[method]; ok {
		return corev3.RequestMethod(v)
	}
	return corev3.RequestMethod_METHOD_UNSPECIFIED
}

func socketAddress(hostPort string) *corev3.Address {
	if hostPort == "" {
		return nil
	}
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
		portStr = ""
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		port = 0
	}
	return &corev3.Address{
		Address: &corev3.Address_SocketAddress{
			SocketAddress: &corev3.SocketAddress{
				Address:       host,
				PortSpecifier: &corev3.SocketAddress_PortValue{PortValue: uint32(port)},
			},
		},
	}
}
