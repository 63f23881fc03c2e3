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
	"encoding/json"
	"net/http"

	"github.com/gateway-mesh/policy-gate/internal/filter"
	"github.com/gateway-mesh/policy-gate/internal/route"
)

// ConfigDumpHandler handles GET /config_dump requests
type ConfigDumpHandler struct {
	filterCfg *filter.Config
	routes    *route.Table
}

// NewConfigDumpHandler creates a new config dump handler
func NewConfigDumpHandler(filterCfg *filter.Config, routes *route.Table) *ConfigDumpHandler {
	return &ConfigDumpHandler{
		filterCfg: filterCfg,
		routes:    routes,
	}
}

// ServeHTTP implements http.Handler
func (h *ConfigDumpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dump := DumpConfig(h.filterCfg, h.routes)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(dump); err != nil {
		// Headers are already sent; nothing useful to report downstream.
		return
	}
}
