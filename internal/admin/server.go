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

package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gateway-mesh/policy-gate/internal/config"
	"github.com/gateway-mesh/policy-gate/internal/filter"
	"github.com/gateway-mesh/policy-gate/internal/route"
)

// Server exposes runtime introspection on its own listener, kept off the
// data-path port.
type Server struct {
	cfg        *config.Admin
	httpServer *http.Server
}

func NewServer(cfg *config.Admin, filterCfg *filter.Config, routes *route.Table) *Server {
	mux := http.NewServeMux()
	mux.Handle("/config_dump", allowlist(cfg.AllowedIPs, NewConfigDumpHandler(filterCfg, routes)))

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "Starting admin HTTP server",
		"port", s.cfg.Port,
		"allowed_ips", s.cfg.AllowedIPs)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.InfoContext(ctx, "Stopping admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// allowlist rejects requests whose peer address is not covered by allowed.
// Entries are exact IPs, CIDR ranges, or "*" for any peer. An empty list
// rejects everything.
func allowlist(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := peerIP(r)
		if !ipAllowed(ip, allowed) {
			slog.Warn("Rejected admin request from unauthorized peer",
				"client_ip", ip,
				"path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// peerIP is the connection's remote address. Forwarding headers are never
// consulted: the admin surface does not sit behind a trusted proxy.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipAllowed(ip string, allowed []string) bool {
	parsed := net.ParseIP(ip)
	for _, entry := range allowed {
		if entry == "*" || entry == ip {
			return true
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && parsed != nil && cidr.Contains(parsed) {
			return true
		}
	}
	return false
}
