// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package modelbuilder renders Agora cost model documents from query timing
// stats and pushes them to the indexer-agent.
package modelbuilder

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/logsdb"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// Version is stamped into every generated document header.
const Version = "1.3.0"

// DefaultCostModel is the catch-all rule terminating every document.
const DefaultCostModel = "default => $DEFAULT_COST * $GLOBAL_COST_MULTIPLIER;"

// MinQueryCount is how many sightings a query skeleton needs before it gets
// its own pricing entry.
const MinQueryCount = 100

var entryTemplate = template.Must(
	template.New("entry").Funcs(template.FuncMap{
		"float": formatFloat,
	}).Parse(strings.TrimSpace(`
# count:        {{.Count}}
# min time:     {{.MinTime}}
# max time:     {{.MaxTime}}
# avg time:     {{float .AvgTime}}
# stddev time:  {{float .StddevTime}}
{{.Query}} => {{float .AvgTime}} * $GLOBAL_COST_MULTIPLIER;
`)),
)

// formatFloat prints shortest-form floats, matching how the stats read out
// of Postgres round-trip.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Builder renders Agora documents. ManualEntryDir optionally points at a
// directory of per-subgraph `<ID>.agora` fragments inserted verbatim under
// the header of that subgraph's documents.
type Builder struct {
	ManualEntryDir string
}

// Build renders the document for a subgraph: versioned header, optional
// manual fragment, one entry per stat in the given order, and the default
// rule last. Entries are separated by blank lines. Query skeletons are
// reformatted to their canonical body, variable definitions stripped;
// skeletons that fail to parse are dropped with a warning. With no stats
// this is the default model document used to seed fresh allocations.
func (b *Builder) Build(id subgraph.ID, stats []logsdb.QueryStats) (string, error) {
	parts := []string{"# Generated by AutoAgora " + Version}

	if manual := b.manualEntry(id); manual != "" {
		parts = append(parts, manual)
	}

	for _, qs := range stats {
		reformatted, err := logsdb.ReformatQuery(qs.Query)
		if err != nil {
			log.Log.Warnw("dropping unparseable query skeleton",
				"subgraph", string(id),
				"error", err,
			)
			continue
		}
		qs.Query = reformatted

		var buf strings.Builder
		if err := entryTemplate.Execute(&buf, qs); err != nil {
			return "", errors.Wrap(err, "rendering agora entry")
		}
		parts = append(parts, strings.TrimSpace(buf.String()))
	}

	parts = append(parts, DefaultCostModel)
	return strings.Join(parts, "\n\n"), nil
}

// manualEntry reads the subgraph's manual fragment. A missing directory or
// file is normal; any other read error is only worth a warning, a manual
// fragment must never block model generation.
func (b *Builder) manualEntry(id subgraph.ID) string {
	if b.ManualEntryDir == "" {
		return ""
	}

	path := filepath.Join(b.ManualEntryDir, string(id)+".agora")
	blob, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Log.Warnw("could not read manual agora entry", "path", path, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(blob))
}
