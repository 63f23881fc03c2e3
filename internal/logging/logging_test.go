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

package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gateway-mesh/policy-gate/internal/config"
)

func TestSetup_Levels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
	}{
		{level: "debug", debugOn: true, infoOn: true},
		{level: "info", debugOn: false, infoOn: true},
		{level: "warn", debugOn: false, infoOn: false},
		{level: "error", debugOn: false, infoOn: false},
		{level: "bogus", debugOn: false, infoOn: true},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(config.Logging{Level: tt.level, Format: "json"})
			h := slog.Default().Handler()
			assert.Equal(t, tt.debugOn, h.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.infoOn, h.Enabled(ctx, slog.LevelInfo))
		})
	}
}

func TestSetup_Format(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	Setup(config.Logging{Level: "info", Format: "text"})
	_, isText := slog.Default().Handler().(*slog.TextHandler)
	assert.True(t, isText)

	Setup(config.Logging{Level: "info", Format: "json"})
	_, isJSON := slog.Default().Handler().(*slog.JSONHandler)
	assert.True(t, isJSON)
}
