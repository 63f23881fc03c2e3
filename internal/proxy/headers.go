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

package proxy

import (
	"net/http"

	"github.com/gateway-mesh/policy-gate/pkg/api"
)

// headerMap adapts http.Header to api.HeaderMap.
type headerMap struct {
	h http.Header
}

func (m headerMap) Get(key string) (string, bool) {
	vs := m.h.Values(key)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (m headerMap) Values(key string) []string { return m.h.Values(key) }
func (m headerMap) Set(key, value string)      { m.h.Set(key, value) }
func (m headerMap) Add(key, value string)      { m.h.Add(key, value) }
func (m headerMap) Del(key string)             { m.h.Del(key) }

func (m headerMap) Range(f func(key, value string) bool) {
	for key, vs := range m.h {
		for _, v := range vs {
			if !f(key, v) {
				return
			}
		}
	}
}

// requestHeaders adds the pseudo request line on top of the header block.
type requestHeaders struct {
	headerMap
	method string
	path   string
	host   string
	scheme string
}

func newRequestHeaders(r *http.Request) *requestHeaders {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &requestHeaders{
		headerMap: headerMap{h: r.Header},
		method:    r.Method,
		path:      r.URL.RequestURI(),
		host:      r.Host,
		scheme:    scheme,
	}
}

func (r *requestHeaders) Method() string { return r.method }
func (r *requestHeaders) Path() string   { return r.path }
func (r *requestHeaders) Host() string   { return r.host }
func (r *requestHeaders) Scheme() string { return r.scheme }

// responseHeaders adds the status code on top of the header block.
type responseHeaders struct {
	headerMap
	status int
}

func newResponseHeaders(h http.Header, status int) *responseHeaders {
	if h == nil {
		h = make(http.Header)
	}
	return &responseHeaders{headerMap: headerMap{h: h}, status: status}
}

func (r *responseHeaders) StatusCode() int { return r.status }

var (
	_ api.RequestHeaderMap  = (*requestHeaders)(nil)
	_ api.ResponseHeaderMap = (*responseHeaders)(nil)
)
