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
	"time"

	"github.com/gateway-mesh/policy-gate/internal/filter"
	"github.com/gateway-mesh/policy-gate/internal/route"
)

// ConfigDumpResponse is the JSON body served by /config_dump.
type ConfigDumpResponse struct {
	Timestamp time.Time  `json:"timestamp"`
	Filter    FilterDump `json:"filter"`
	Routes    RoutesDump `json:"routes"`
}

// FilterDump is the effective filter-level configuration.
type FilterDump struct {
	DecisionService     string            `json:"decision_service"`
	StaticAttributes    map[string]string `json:"static_attributes,omitempty"`
	ForwardAttributes   map[string]string `json:"forward_attributes,omitempty"`
	ForwardAttributeErr string            `json:"forward_attribute_error,omitempty"`
}

// RoutesDump is the compiled route table.
type RoutesDump struct {
	TotalClusters int                 `json:"total_clusters"`
	TotalRoutes   int                 `json:"total_routes"`
	Clusters      []route.ClusterSpec `json:"clusters"`
	RouteConfigs  []route.RouteSpec   `json:"route_configs"`
}

// DumpConfig dumps the current gate configuration
func DumpConfig(filterCfg *filter.Config, routes *route.Table) *ConfigDumpResponse {
	return &ConfigDumpResponse{
		Timestamp: time.Now(),
		Filter:    dumpFilter(filterCfg),
		Routes:    dumpRoutes(routes),
	}
}

func dumpFilter(cfg *filter.Config) FilterDump {
	dump := FilterDump{
		DecisionService:  cfg.DecisionService,
		StaticAttributes: cfg.StaticAttributes,
	}
	// TODO: redact sensitive attribute values from the dump
	if cfg.ForwardAttributes != "" {
		decoded, err := filter.DecodeAttributes(cfg.ForwardAttributes)
		if err != nil {
			dump.ForwardAttributeErr = err.Error()
		} else {
			dump.ForwardAttributes = decoded
		}
	}
	return dump
}

func dumpRoutes(routes *route.Table) RoutesDump {
	f := routes.Dump()
	return RoutesDump{
		TotalClusters: len(f.Clusters),
		TotalRoutes:   len(f.Routes),
		Clusters:      f.Clusters,
		RouteConfigs:  f.Routes,
	}
}
