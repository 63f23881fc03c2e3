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

package filter

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"github.com/gateway-mesh/policy-gate/internal/config"
	"github.com/gateway-mesh/policy-gate/internal/decision"
)

// AttributesHeader carries the encoded forwarded-attribute blob to the
// upstream hop.
const AttributesHeader = "x-policy-attributes"

// ClusterLookup is the narrow handle onto the service-discovery registry
// the listener shares with its filters.
type ClusterLookup interface {
	HasCluster(name string) bool
}

// Config is the listener-wide filter configuration. It is immutable after
// construction and shared by every per-request Filter on the listener.
type Config struct {
	// DecisionService is the decision service address. Empty when the
	// required configuration field was missing; checks then fail at call
	// time instead of blocking startup.
	DecisionService string

	// StaticAttributes are attached to every check, uninterpreted.
	StaticAttributes map[string]string

	// ForwardAttributes is the pre-encoded forwarded-attribute blob, empty
	// when no attributes are configured for forwarding.
	ForwardAttributes string

	// Client performs the Check and Report calls.
	Client decision.Client
}

// NewConfig builds the shared filter configuration. A missing decision
// service address is a configuration error: it is logged, and construction
// proceeds with an empty address. No network I/O happens here.
func NewConfig(cfg config.Filter, clusters ClusterLookup, client decision.Client) *Config {
	if cfg.DecisionService == "" {
		slog.Error("decision_service is required but not specified in the filter config")
	} else if clusters != nil && !clusters.HasCluster(cfg.DecisionService) {
		slog.Debug("Decision service is not a known cluster; relying on direct dialing",
			"decision_service", cfg.DecisionService)
	}

	c := &Config{
		DecisionService:  cfg.DecisionService,
		StaticAttributes: cfg.StaticAttributes,
		Client:           client,
	}

	if len(cfg.ForwardAttributes) > 0 {
		c.ForwardAttributes = EncodeAttributes(cfg.ForwardAttributes)
		slog.Debug("Forward attributes set", "count", len(cfg.ForwardAttributes))
	}

	return c
}

// EncodeAttributes serializes an attribute map into the opaque blob carried
// by AttributesHeader: deterministic JSON, Base64-encoded for safe header
// transport.
func EncodeAttributes(attributes map[string]string) string {
	if len(attributes) == 0 {
		return ""
	}
	// json.Marshal sorts map keys, so equal maps encode identically.
	serialized, err := json.Marshal(attributes)
	if err != nil {
		// A map[string]string cannot fail to marshal; keep the stream
		// unaffected if it somehow does.
		slog.Error("Failed to serialize forward attributes", "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(serialized)
}

// DecodeAttributes reverses EncodeAttributes. Upstream hops use it to
// recover the forwarded attribute map.
func DecodeAttributes(blob string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, err
	}
	var attributes map[string]string
	if err := json.Unmarshal(raw, &attributes); err != nil {
		return nil, err
	}
	return attributes, nil
}
