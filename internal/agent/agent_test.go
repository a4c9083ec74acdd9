package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-test/deep"

	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

var variablesJSONCases = []struct {
	name string
	in   Variables
	want string
}{
	{
		name: "nil map is null",
		in:   nil,
		want: "null",
	},
	{
		name: "multiplier formatted with 18 fractional digits",
		in:   Variables{GlobalCostMultiplier: 5e-8},
		want: `{"GLOBAL_COST_MULTIPLIER":"0.000000050000000000"}`,
	},
	{
		name: "default cost variables",
		in:   DefaultCostVariables,
		want: `{"DEFAULT_COST":"50.000000000000000000"}`,
	},
	{
		name: "non-numeric values pass through",
		in:   Variables{"DEFAULT_COST": 50, "NOTE": "manual"},
		want: `{"DEFAULT_COST":"50.000000000000000000","NOTE":"manual"}`,
	},
}

func TestVariablesJSON(t *testing.T) {
	for _, tt := range variablesJSONCases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.JSON()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseVariables(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Variables
	}{
		{name: "null blob", in: "null", want: Variables{}},
		{name: "empty blob", in: "", want: Variables{}},
		{
			name: "string-formatted numbers stay strings",
			in:   `{"DEFAULT_COST":"50.000000000000000000"}`,
			want: Variables{"DEFAULT_COST": "50.000000000000000000"},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVariables(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := deep.Equal(got, tt.want); diff != nil {
				t.Errorf("unexpected variables: %v", diff)
			}
		})
	}
}

const testSubgraph = subgraph.ID("Qmaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5K")
const testSubgraphHex = "0xbbde25a2c85f55b53b7698b9476610c3d1202d88870e66502ab0076b7218f98a"

// gqlRequest mirrors the machinebox request body shape.
type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func gqlServer(t *testing.T, handle func(req gqlRequest) (data string, err string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("could not decode request: %v", err)
		}
		data, gqlErr := handle(req)
		w.Header().Set("Content-Type", "application/json")
		if gqlErr != "" {
			fmt.Fprintf(w, `{"errors":[{"message":%q}]}`, gqlErr)
			return
		}
		fmt.Fprintf(w, `{"data":%s}`, data)
	}))
}

func TestAllocatedSubgraphs(t *testing.T) {
	srv := gqlServer(t, func(req gqlRequest) (string, string) {
		if !strings.Contains(req.Query, "indexerAllocations") {
			return "", "unexpected query"
		}
		return fmt.Sprintf(
			`{"indexerAllocations":[{"subgraphDeployment":%q},{"subgraphDeployment":%q},{"subgraphDeployment":"0xnothex"}]}`,
			testSubgraph, testSubgraphHex,
		), ""
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.AllocatedSubgraphs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both wire forms parse; the unparseable entry is dropped, not fatal.
	want := []subgraph.ID{testSubgraph, testSubgraph}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("unexpected allocations: %v", diff)
	}
}

func TestCostVariables(t *testing.T) {
	srv := gqlServer(t, func(req gqlRequest) (string, string) {
		if req.Variables["deployment"] != testSubgraphHex {
			return "", "unexpected deployment"
		}
		return `{"costModel":{"variables":"{\"DEFAULT_COST\":\"50.000000000000000000\"}"}}`, ""
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.CostVariables(context.Background(), testSubgraph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Variables{"DEFAULT_COST": "50.000000000000000000"}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("unexpected variables: %v", diff)
	}
}

func TestCostVariablesAbsentModel(t *testing.T) {
	srv := gqlServer(t, func(req gqlRequest) (string, string) {
		return `{"costModel":null}`, ""
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.CostVariables(context.Background(), testSubgraph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty variables for an absent cost model, got %v", got)
	}
}

func TestSetCostModel(t *testing.T) {
	var seen gqlRequest
	srv := gqlServer(t, func(req gqlRequest) (string, string) {
		seen = req
		return `{"setCostModel":{"__typename":"CostModel"}}`, ""
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.SetCostModel(context.Background(), testSubgraph, nil, Variables{GlobalCostMultiplier: 5e-8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if seen.Variables["deployment"] != testSubgraphHex {
		t.Errorf("unexpected deployment: %v", seen.Variables["deployment"])
	}
	if seen.Variables["model"] != nil {
		t.Errorf("expected nil model to be sent as GraphQL null, got %v", seen.Variables["model"])
	}
	if seen.Variables["variables"] != `{"GLOBAL_COST_MULTIPLIER":"0.000000050000000000"}` {
		t.Errorf("unexpected variables blob: %v", seen.Variables["variables"])
	}
}

func TestSetCostModelRejectsDoubleNil(t *testing.T) {
	c := NewClient("http://nowhere")
	err := c.SetCostModel(context.Background(), testSubgraph, nil, nil)
	if err != ErrNilModelAndVariables {
		t.Fatalf("expected ErrNilModelAndVariables, got %v", err)
	}
}
