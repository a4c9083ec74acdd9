// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	ocprom "contrib.go.opencensus.io/exporter/prometheus"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/semiotic-ai/autoagora/internal/agent"
	"github.com/semiotic-ai/autoagora/internal/graphnode"
	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/logsdb"
	"github.com/semiotic-ai/autoagora/internal/modelbuilder"
	"github.com/semiotic-ai/autoagora/internal/mrq"
	"github.com/semiotic-ai/autoagora/internal/pricer"
	"github.com/semiotic-ai/autoagora/internal/querymetrics"
	"github.com/semiotic-ai/autoagora/internal/savestate"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
	"github.com/semiotic-ai/autoagora/internal/supervisor"
)

const name = "autoagora"

var (
	app = kingpin.New(name, "Automated pricing agent for Graph Protocol indexers.")

	logLevel = app.Flag("log-level", "Logging level.").
			Envar("LOG_LEVEL").Default("warn").Enum("debug", "info", "warn", "warning", "error")
	jsonLogs = app.Flag("json-logs", "Output logs in JSON format. Compatible with GKE.").
			Envar("JSON_LOGS").Bool()

	postgresHost = app.Flag("postgres-host", "Host of the postgres instance to be used by AutoAgora.").
			Envar("POSTGRES_HOST").Required().String()
	postgresPort = app.Flag("postgres-port", "Port of the postgres instance to be used by AutoAgora.").
			Envar("POSTGRES_PORT").Default("5432").Int()
	postgresDatabase = app.Flag("postgres-database", "Name of the database to be used by AutoAgora.").
				Envar("POSTGRES_DATABASE").Default("autoagora").String()
	postgresUsername = app.Flag("postgres-username", "Username for the database to be used by AutoAgora.").
				Envar("POSTGRES_USERNAME").Required().String()
	postgresPassword = app.Flag("postgres-password", "Password for the database to be used by AutoAgora.").
				Envar("POSTGRES_PASSWORD").Required().String()
	postgresMaxConnections = app.Flag("postgres-max-connections", "Maximum postgres connections (internal pool).").
				Envar("POSTGRES_MAX_CONNECTIONS").Default("1").Int32()

	agentEndpoint = app.Flag("indexer-agent-mgmt-endpoint", "URL to the indexer-agent management GraphQL endpoint.").
			Envar("INDEXER_AGENT_MGMT_ENDPOINT").Required().String()
	metricsEndpoint = app.Flag("indexer-service-metrics-endpoint", "HTTP endpoint for the indexer-service metrics. Comma-separated for multiple endpoints, or a bare Kubernetes service URL to watch its endpoints.").
			Envar("INDEXER_SERVICE_METRICS_ENDPOINT").Required().String()

	observationDuration = app.Flag("qps-observation-duration", "Duration of the query-per-second measurement period after a price multiplier update.").
				Envar("QPS_OBSERVATION_DURATION").Default("60s").Duration()

	relativeQueryCosts = app.Flag("relative-query-costs", "(EXPERIMENTAL) Enables the relative query cost generator. Otherwise only builds a default query pricing model with automated market price discovery.").
				Envar("RELATIVE_QUERY_COSTS").Bool()
	excludeSubgraphs = app.Flag("relative-query-costs-exclude-subgraphs", "Comma delimited list of subgraphs (ipfs hash) to exclude from the relative query costs model generator.").
				Envar("RELATIVE_QUERY_COSTS_EXCLUDE_SUBGRAPHS").String()
	refreshInterval = app.Flag("relative-query-costs-refresh-interval", "Interval between rebuilds of the relative query costs models.").
			Envar("RELATIVE_QUERY_COSTS_REFRESH_INTERVAL").Default("3600s").Duration()

	multiRootQueries = app.Flag("multi-root-queries", "(EXPERIMENTAL) Enables active measurement of frequent queries that have no organic timing data.").
				Envar("MULTI_ROOT_QUERIES").Bool()
	graphNodeEndpoint = app.Flag("graph-node-query-endpoint", "URL to the graph-node query endpoint, required for multi-root-queries.").
				Envar("GRAPH_NODE_QUERY_ENDPOINT").String()

	manualEntryPath = app.Flag("manual-entry-path", "Directory holding per-subgraph <ipfs-hash>.agora files to inject into generated models.").
			Envar("MANUAL_ENTRY_PATH").String()

	metricsPort = app.Flag("metrics-port", "Listen port for the prometheus metrics.").
			Envar("METRICS_PORT").Default("8000").Int()
)

var (
	viewMean = &view.View{
		Name:        "bandit_mean",
		Measure:     pricer.MeasureMean,
		Description: "Mean of the Gaussian price multiplier model.",
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{pricer.TagSubgraph},
	}
	viewStddev = &view.View{
		Name:        "bandit_stddev",
		Measure:     pricer.MeasureStddev,
		Description: "Standard deviation of the Gaussian price multiplier model.",
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{pricer.TagSubgraph},
	}
	viewPriceMultiplier = &view.View{
		Name:        "bandit_price_multiplier",
		Measure:     pricer.MeasurePriceMultiplier,
		Description: "Price multiplier sampled from the model.",
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{pricer.TagSubgraph},
	}
	viewReward = &view.View{
		Name:        "bandit_reward",
		Measure:     pricer.MeasureReward,
		Description: "Reward observed for the sampled price multiplier.",
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{pricer.TagSubgraph},
	}
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	glogWorkaround()

	kingpin.FatalIfError(log.Setup(*logLevel, *jsonLogs), "cannot configure logging")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := newPool(ctx)
	kingpin.FatalIfError(err, "cannot connect to postgres")
	defer pool.Close()

	agentClient := agent.NewClient(*agentEndpoint)

	endpoints, watcher, err := newEndpoints()
	kingpin.FatalIfError(err, "cannot resolve indexer-service metrics endpoints")
	counter := querymetrics.NewQueryCounter(endpoints)

	exporter, err := ocprom.NewExporter(ocprom.Options{
		Namespace: name,
		Registry:  prometheus.NewRegistry(),
	})
	kingpin.FatalIfError(err, "cannot export metrics")
	kingpin.FatalIfError(
		view.Register(viewMean, viewStddev, viewPriceMultiplier, viewReward),
		"cannot register metrics",
	)
	view.RegisterExporter(exporter)

	builder := &modelbuilder.Builder{ManualEntryDir: *manualEntryPath}
	saveStates := savestate.NewStore(pool)
	logs := logsdb.NewStore(pool)

	sup := &supervisor.Supervisor{
		Client:  agentClient,
		Exclude: parseExcluded(*excludeSubgraphs),
		Seed: func(ctx context.Context, id subgraph.ID) error {
			return modelbuilder.ApplyDefaultModel(ctx, agentClient, builder, id)
		},
		PriceLoop: func(ctx context.Context, id subgraph.ID) error {
			loop := &pricer.Loop{
				Env:                 pricer.NewEnv(agentClient, counter, id),
				Store:               saveStates,
				ObservationDuration: *observationDuration,
			}
			return loop.Run(ctx, id)
		},
		MetricsHandler: exporter,
		ListenAddr:     fmt.Sprintf(":%d", *metricsPort),
	}

	if *relativeQueryCosts {
		sup.ModelLoop = func(ctx context.Context, id subgraph.ID) error {
			loop := &modelbuilder.Loop{
				Client:          agentClient,
				DB:              logs,
				Builder:         builder,
				RefreshInterval: *refreshInterval,
			}
			return loop.Run(ctx, id)
		}
	}

	if *multiRootQueries {
		if *graphNodeEndpoint == "" {
			kingpin.Fatalf("--graph-node-query-endpoint is required with --multi-root-queries")
		}
		kingpin.FatalIfError(logsdb.CreateMRQLogTable(ctx, pool), "cannot create mrq log table")

		graph := graphnode.NewClient(*graphNodeEndpoint)
		sup.MRQLoop = func(ctx context.Context, id subgraph.ID) error {
			loop := &mrq.Loop{
				Client:          agentClient,
				Graph:           graph,
				DB:              logs,
				Builder:         builder,
				RefreshInterval: *refreshInterval,
			}
			return loop.Run(ctx, id)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(ctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(ctx) })
	}
	kingpin.FatalIfError(g.Wait(), "exited with error")
}

func newPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s",
		*postgresHost, *postgresPort, *postgresDatabase, *postgresUsername, *postgresPassword,
	))
	if err != nil {
		return nil, err
	}
	cfg.MinConns = 1
	cfg.MaxConns = *postgresMaxConnections
	return pgxpool.NewWithConfig(ctx, cfg)
}

// newEndpoints resolves the metrics endpoint option: explicit URLs are used
// as-is, a bare in-cluster service URL is watched for endpoint changes. The
// returned watcher is nil in the static case.
func newEndpoints() (querymetrics.Endpoints, *querymetrics.K8sService, error) {
	if querymetrics.IsStaticOption(*metricsEndpoint) {
		return querymetrics.NewStatic(*metricsEndpoint), nil, nil
	}

	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	watcher, err := querymetrics.NewK8sService(*metricsEndpoint, client)
	if err != nil {
		return nil, nil, err
	}
	return watcher, watcher, nil
}

func parseExcluded(commaSeparated string) map[subgraph.ID]bool {
	excluded := map[subgraph.ID]bool{}
	for _, raw := range strings.Split(commaSeparated, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := subgraph.ParseID(raw)
		if err != nil {
			kingpin.Fatalf("invalid excluded subgraph %q: %v", raw, err)
		}
		excluded[id] = true
	}
	return excluded
}

// Many Kubernetes client things depend on glog. glog gets sad when flag.Parse()
// is not called before it tries to emit a log line. flag.Parse() fights with
// kingpin.
func glogWorkaround() {
	os.Args = []string{os.Args[0], "-logtostderr=true", "-v=5", "-alsologtostderr"}
	flag.Parse()
}
