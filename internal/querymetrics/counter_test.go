package querymetrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

const counterTestSubgraph = subgraph.ID("Qmadj8x9km1YEyKmRnJ6EkC2zpJZFCfTyTZpuqC3j6e1QH")

func metricsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
}

func TestSubgraphQueryCountSumsAcrossEndpoints(t *testing.T) {
	srv1 := metricsServer(t, `indexer_service_queries_ok{deployment="Qmadj8x9km1YEyKmRnJ6EkC2zpJZFCfTyTZpuqC3j6e1QH"} 938
`)
	defer srv1.Close()
	srv2 := metricsServer(t, `indexer_service_queries_ok{deployment="Qmadj8x9km1YEyKmRnJ6EkC2zpJZFCfTyTZpuqC3j6e1QH"} 1669
indexer_service_queries_ok{deployment="Qmaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5K"} 42
`)
	defer srv2.Close()

	q := NewQueryCounter(&FakeEndpoints{Endpoints: []string{srv1.URL, srv2.URL}})
	got, err := q.SubgraphQueryCount(context.Background(), counterTestSubgraph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2607 {
		t.Errorf("expected 2607, got %d", got)
	}
}

func TestSubgraphQueryCountAbsentIsZero(t *testing.T) {
	srv := metricsServer(t, `indexer_service_queries_ok{deployment="Qmaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5K"} 42
`)
	defer srv.Close()

	q := NewQueryCounter(&FakeEndpoints{Endpoints: []string{srv.URL}})
	got, err := q.SubgraphQueryCount(context.Background(), counterTestSubgraph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 for a subgraph with no queries yet, got %d", got)
	}
}

func TestSampleErrorsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := NewQueryCounter(&FakeEndpoints{Endpoints: []string{srv.URL}})
	if _, err := q.sample(context.Background(), counterTestSubgraph); err == nil {
		t.Error("expected an error for a non-200 scrape")
	}
}

func TestIsStaticOption(t *testing.T) {
	cases := []struct {
		name   string
		option string
		want   bool
	}{
		{name: "comma-separated list", option: "http://a:7300/metrics,http://b:7300/metrics", want: true},
		{name: "dotted host", option: "http://indexer-service.default.svc.cluster.local:7300/metrics", want: true},
		{name: "bare service label", option: "http://indexer-service:7300/metrics", want: false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStaticOption(tt.option); got != tt.want {
				t.Errorf("IsStaticOption(%q) = %v, want %v", tt.option, got, tt.want)
			}
		})
	}
}

func TestNewStaticSplitsAndTrims(t *testing.T) {
	s := NewStatic("http://a:7300/metrics, http://b:7300/metrics")
	urls := s.URLs()
	if len(urls) != 2 || urls[0] != "http://a:7300/metrics" || urls[1] != "http://b:7300/metrics" {
		t.Errorf("unexpected urls: %v", urls)
	}
}
