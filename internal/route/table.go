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

// Package route loads the listener's route table from a YAML file and
// resolves request paths to routes. A route carries its upstream cluster
// and the opaque per-route options the filters read.
package route

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of the route table.
type File struct {
	Clusters []ClusterSpec `yaml:"clusters"`
	Routes   []RouteSpec   `yaml:"routes"`
}

// ClusterSpec names an upstream endpoint.
type ClusterSpec struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// RouteSpec declares one route.
type RouteSpec struct {
	Name         string            `yaml:"name"`
	Prefix       string            `yaml:"prefix"`
	Cluster      string            `yaml:"cluster"`
	OpaqueConfig map[string]string `yaml:"opaque_config"`
}

// Entry is a compiled route. It implements api.RouteEntry.
type Entry struct {
	name    string
	prefix  string
	cluster string
	opaque  map[string]string
}

// Name returns the route name.
func (e *Entry) Name() string { return e.name }

// Prefix returns the path prefix the route matches.
func (e *Entry) Prefix() string { return e.prefix }

// Cluster returns the upstream cluster name.
func (e *Entry) Cluster() string { return e.cluster }

// OpaqueConfig returns the per-route key/value options, possibly nil.
func (e *Entry) OpaqueConfig() map[string]string { return e.opaque }

// Table is the immutable compiled route table.
type Table struct {
	// entries sorted by descending prefix length for longest-prefix match.
	entries  []*Entry
	clusters map[string]string
}

// Load reads and compiles the route table at path.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse route table %s: %w", path, err)
	}
	return New(&f)
}

// New compiles a route table from its file form.
func New(f *File) (*Table, error) {
	t := &Table{clusters: make(map[string]string, len(f.Clusters))}

	for _, c := range f.Clusters {
		if c.Name == "" || c.Address == "" {
			return nil, fmt.Errorf("cluster needs both name and address, got name=%q address=%q", c.Name, c.Address)
		}
		if _, ok := t.clusters[c.Name]; ok {
			return nil, fmt.Errorf("duplicate cluster %q", c.Name)
		}
		t.clusters[c.Name] = c.Address
	}

	seen := make(map[string]struct{}, len(f.Routes))
	for _, r := range f.Routes {
		if r.Name == "" {
			return nil, fmt.Errorf("route with prefix %q has no name", r.Prefix)
		}
		if _, ok := seen[r.Name]; ok {
			return nil, fmt.Errorf("duplicate route %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix %q must start with /", r.Name, r.Prefix)
		}
		if _, ok := t.clusters[r.Cluster]; !ok {
			return nil, fmt.Errorf("route %q references unknown cluster %q", r.Name, r.Cluster)
		}
		t.entries = append(t.entries, &Entry{
			name:    r.Name,
			prefix:  r.Prefix,
			cluster: r.Cluster,
			opaque:  r.OpaqueConfig,
		})
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].prefix) > len(t.entries[j].prefix)
	})
	return t, nil
}

// Match returns the longest-prefix route for path, nil when nothing matches.
func (t *Table) Match(path string) *Entry {
	for _, e := range t.entries {
		if strings.HasPrefix(path, e.prefix) {
			return e
		}
	}
	return nil
}

// HasCluster reports whether name is a known upstream cluster.
func (t *Table) HasCluster(name string) bool {
	_, ok := t.clusters[name]
	return ok
}

// ClusterAddress resolves a cluster name to its address.
func (t *Table) ClusterAddress(name string) (string, bool) {
	addr, ok := t.clusters[name]
	return addr, ok
}

// Dump returns the table in its file form, for the admin config dump.
func (t *Table) Dump() *File {
	f := &File{}
	for name, addr := range t.clusters {
		f.Clusters = append(f.Clusters, ClusterSpec{Name: name, Address: addr})
	}
	sort.Slice(f.Clusters, func(i, j int) bool { return f.Clusters[i].Name < f.Clusters[j].Name })
	for _, e := range t.entries {
		f.Routes = append(f.Routes, RouteSpec{
			Name:         e.name,
			Prefix:       e.prefix,
			Cluster:      e.cluster,
			OpaqueConfig: e.opaque,
		})
	}
	return f
}
