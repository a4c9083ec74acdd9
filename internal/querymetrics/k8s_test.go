package querymetrics

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/go-test/deep"
	core_v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func testK8sService(t *testing.T, rawURL string) (*K8sService, *fake.Clientset) {
	t.Helper()
	base, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("could not parse url: %v", err)
	}
	cs := fake.NewSimpleClientset()
	return &K8sService{
		base:      base,
		service:   "indexer-service",
		namespace: "default",
		client:    cs,
	}, cs
}

func TestK8sServiceRewritesURLs(t *testing.T) {
	k, cs := testK8sService(t, "http://indexer-service:7300/metrics")

	// The fake tracker only delivers events to watches that are already
	// registered, so wait for Run's watch to be in place before creating
	// the Endpoints object.
	watchStarted := make(chan struct{}, 1)
	cs.PrependWatchReactor("endpoints", func(action k8stesting.Action) (bool, watch.Interface, error) {
		w, err := cs.Tracker().Watch(action.GetResource(), action.GetNamespace())
		if err != nil {
			return false, nil, err
		}
		select {
		case watchStarted <- struct{}{}:
		default:
		}
		return true, w, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- k.Run(ctx)
	}()

	select {
	case <-watchStarted:
	case <-ctx.Done():
		t.Fatal("watch never started")
	}

	_, err := cs.CoreV1().Endpoints("default").Create(ctx, &core_v1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Name: "indexer-service", Namespace: "default"},
		Subsets: []core_v1.EndpointSubset{
			{
				Addresses: []core_v1.EndpointAddress{
					{IP: "192.168.42.78"},
					{IP: "192.168.95.50"},
				},
			},
		},
	}, metav1.CreateOptions{})
	if err != nil {
		t.Fatalf("could not create endpoints: %v", err)
	}

	want := []string{
		"http://192.168.42.78:7300/metrics",
		"http://192.168.95.50:7300/metrics",
	}
	deadline := time.After(2 * time.Second)
	for {
		if diff := deep.Equal(k.URLs(), want); diff == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("watcher never saw endpoint IPs, got %v", k.URLs())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled from Run, got %v", err)
	}
}

func TestK8sServiceURLWithoutPort(t *testing.T) {
	k, _ := testK8sService(t, "http://indexer-service/metrics")

	k.setEndpointIPs([]string{"10.0.0.1"})
	want := []string{"http://10.0.0.1/metrics"}
	if diff := deep.Equal(k.URLs(), want); diff != nil {
		t.Errorf("unexpected urls: %v", diff)
	}
}
