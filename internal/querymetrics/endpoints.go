// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package querymetrics resolves the indexer-service metrics endpoints and
// reads per-subgraph query counters from their Prometheus exposition.
package querymetrics

import (
	"net/url"
	"strings"
)

var _ Endpoints = (*Static)(nil)
var _ Endpoints = (*K8sService)(nil)
var _ Endpoints = (*FakeEndpoints)(nil)

// Endpoints resolves the current set of indexer-service metrics URLs.
type Endpoints interface {
	URLs() []string
}

// NewStatic returns the fixed endpoint set parsed from a comma-separated
// list.
func NewStatic(commaSeparated string) *Static {
	urls := []string{}
	for _, u := range strings.Split(commaSeparated, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}
	return &Static{urls: urls}
}

// Static is an Endpoints implementation over a fixed URL list.
type Static struct {
	urls []string
}

// URLs returns the fixed list.
func (s *Static) URLs() []string {
	return append([]string{}, s.urls...)
}

// IsStaticOption reports whether the --indexer-service-metrics-endpoint
// value selects the static endpoint list. A comma-separated list or a URL
// with a dotted host is static; a single URL with a bare DNS label host
// selects Kubernetes service discovery instead.
func IsStaticOption(option string) bool {
	if strings.Contains(option, ",") {
		return true
	}
	u, err := url.Parse(option)
	if err != nil {
		return true
	}
	return strings.Contains(u.Hostname(), ".")
}

// FakeEndpoints provides a mock Endpoints implementation.
type FakeEndpoints struct {
	Endpoints []string
}

// URLs returns the list provided to the FakeEndpoints.
func (f *FakeEndpoints) URLs() []string {
	return f.Endpoints
}
