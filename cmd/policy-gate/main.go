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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gateway-mesh/policy-gate/internal/admin"
	"github.com/gateway-mesh/policy-gate/internal/config"
	"github.com/gateway-mesh/policy-gate/internal/decision"
	"github.com/gateway-mesh/policy-gate/internal/filter"
	"github.com/gateway-mesh/policy-gate/internal/logging"
	"github.com/gateway-mesh/policy-gate/internal/metrics"
	"github.com/gateway-mesh/policy-gate/internal/proxy"
	"github.com/gateway-mesh/policy-gate/internal/route"
	"github.com/gateway-mesh/policy-gate/internal/tracing"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	configFile = flag.String("config", "", "Path to configuration file (required)")
	routesFile = flag.String("routes", "", "Path to route table file (overrides config)")
)

func main() {
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Usage: %s -config <path-to-config.toml>\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration from %s: %v\n", *configFile, err)
		os.Exit(1)
	}
	if *routesFile != "" {
		cfg.PolicyGate.Routes.Path = *routesFile
	}

	// Metrics must exist before any component records one.
	metrics.Init()

	logging.Setup(cfg.PolicyGate.Logging)
	ctx := context.Background()

	slog.InfoContext(ctx, "Policy Gate starting",
		"version", Version,
		"git_commit", GitCommit,
		"build_date", BuildDate,
		"config_file", *configFile,
		"listen_port", cfg.PolicyGate.Server.Port,
		"decision_service", cfg.PolicyGate.Filter.DecisionService)

	tracingShutdown, err := tracing.InitTracer(&cfg.PolicyGate.Tracing)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer tracingShutdown()

	routes, err := route.Load(cfg.PolicyGate.Routes.Path)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load route table",
			"path", cfg.PolicyGate.Routes.Path, "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "Route table loaded", "path", cfg.PolicyGate.Routes.Path)

	client, err := decision.NewGRPCClient(
		cfg.PolicyGate.Filter.DecisionService,
		cfg.PolicyGate.Filter.StaticAttributes,
		decision.Options{
			CheckTimeout: cfg.PolicyGate.Filter.CheckTimeout,
			LogName:      cfg.PolicyGate.Tracing.ServiceName,
		},
	)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create decision client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	filterCfg := filter.NewConfig(cfg.PolicyGate.Filter, routes, client)

	// Start admin HTTP server if enabled
	var adminServer *admin.Server
	if cfg.PolicyGate.Admin.Enabled {
		adminServer = admin.NewServer(&cfg.PolicyGate.Admin, filterCfg, routes)
		go func() {
			if err := adminServer.Start(ctx); err != nil {
				slog.ErrorContext(ctx, "Admin server error", "error", err)
			}
		}()
	}

	// Start metrics HTTP server if enabled
	var metricsServer *metrics.Server
	if cfg.PolicyGate.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.PolicyGate.Metrics)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				slog.ErrorContext(ctx, "Metrics server error", "error", err)
			}
		}()
		metrics.StartMemoryMetricsUpdater(ctx, 15*time.Second)
	}

	gate := proxy.New(&cfg.PolicyGate.Server, routes, filterCfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := gate.Start(ctx); err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case sig := <-sigChan:
		slog.InfoContext(ctx, "Received signal, shutting down gracefully", "signal", sig)
	case err := <-serverErrCh:
		slog.ErrorContext(ctx, "Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gate.Stop(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "Error stopping proxy server", "error", err)
	}

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminServer.Stop(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "Error stopping admin server", "error", err)
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "Error stopping metrics server", "error", err)
		}
	}

	slog.InfoContext(ctx, "Policy Gate shut down successfully")
}
