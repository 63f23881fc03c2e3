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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-mesh/policy-gate/internal/config"
)

func TestEncodeAttributes_RoundTrip(t *testing.T) {
	attributes := map[string]string{
		"mesh":   "edge",
		"region": "us-east-1",
	}

	blob := EncodeAttributes(attributes)
	require.NotEmpty(t, blob)

	decoded, err := DecodeAttributes(blob)
	require.NoError(t, err)
	assert.Equal(t, attributes, decoded)
}

func TestEncodeAttributes_Deterministic(t *testing.T) {
	attributes := map[string]string{
		"c": "3",
		"a": "1",
		"b": "2",
	}

	first := EncodeAttributes(attributes)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EncodeAttributes(attributes))
	}
}

func TestEncodeAttributes_Empty(t *testing.T) {
	assert.Empty(t, EncodeAttributes(nil))
	assert.Empty(t, EncodeAttributes(map[string]string{}))
}

func TestDecodeAttributes_Invalid(t *testing.T) {
	_, err := DecodeAttributes("not base64!!")
	assert.Error(t, err)

	// Valid base64, invalid JSON payload
	_, err = DecodeAttributes("bm90IGpzb24=")
	assert.Error(t, err)
}

type staticClusters map[string]bool

func (c staticClusters) HasCluster(name string) bool { return c[name] }

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(config.Filter{
		DecisionService:   "decision:9091",
		StaticAttributes:  map[string]string{"mesh": "edge"},
		ForwardAttributes: map[string]string{"source": "gateway"},
	}, staticClusters{"decision:9091": true}, nil)

	assert.Equal(t, "decision:9091", cfg.DecisionService)
	assert.Equal(t, map[string]string{"mesh": "edge"}, cfg.StaticAttributes)

	decoded, err := DecodeAttributes(cfg.ForwardAttributes)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "gateway"}, decoded)
}

func TestNewConfig_MissingDecisionService(t *testing.T) {
	// Construction proceeds; only checks fail later.
	cfg := NewConfig(config.Filter{}, nil, nil)
	assert.Empty(t, cfg.DecisionService)
	assert.Empty(t, cfg.ForwardAttributes)
}
