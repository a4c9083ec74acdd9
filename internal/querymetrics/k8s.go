// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package querymetrics

import (
	"context"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	core_v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/semiotic-ai/autoagora/internal/log"
)

const namespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// K8sService is an Endpoints implementation that watches the Kubernetes
// Endpoints object backing a service and substitutes each ready pod IP for
// the host in a template URL. It needs a role granting watch on endpoints.
type K8sService struct {
	base      *url.URL
	service   string
	namespace string
	client    kubernetes.Interface

	mu   sync.RWMutex
	urls []string
}

// NewK8sService builds a watcher from a scheme://service:port/path URL. The
// service name is the first DNS label of the URL host, and the namespace is
// the pod's own, read from the service-account namespace file.
func NewK8sService(rawURL string, client kubernetes.Interface) (*K8sService, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid metrics endpoint URL %q", rawURL)
	}
	service := strings.SplitN(base.Hostname(), ".", 2)[0]
	if service == "" {
		return nil, errors.Errorf("metrics endpoint URL %q has no host", rawURL)
	}

	ns, err := os.ReadFile(namespaceFile)
	if err != nil {
		return nil, errors.Wrap(err, "could not read service-account namespace, probably not running in Kubernetes")
	}

	return &K8sService{
		base:      base,
		service:   service,
		namespace: strings.TrimSpace(string(ns)),
		client:    client,
	}, nil
}

// URLs returns the current endpoint URL set. Empty until the first watch
// event arrives.
func (k *K8sService) URLs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string{}, k.urls...)
}

// Run watches the service's Endpoints object until ctx is cancelled. Expired
// watches (410 Gone) and closed event channels restart transparently; any
// other failure is returned and must terminate the process.
func (k *K8sService) Run(ctx context.Context) error {
	for {
		err := k.watch(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil || apierrors.IsGone(err) || apierrors.IsResourceExpired(err):
			log.Log.Debugw("restarting endpoints watch", zap.String("service", k.service))
		default:
			return errors.Wrapf(err, "endpoints watch for service %s failed", k.service)
		}
	}
}

func (k *K8sService) watch(ctx context.Context) error {
	w, err := k.client.CoreV1().Endpoints(k.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + k.service,
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			switch ev.Type {
			case watch.Error:
				return apierrors.FromObject(ev.Object)
			case watch.Deleted:
				k.setEndpointIPs(nil)
			default:
				if ep, ok := ev.Object.(*core_v1.Endpoints); ok {
					k.update(ep)
				}
			}
		}
	}
}

func (k *K8sService) update(ep *core_v1.Endpoints) {
	ips := []string{}
	for _, subset := range ep.Subsets {
		for _, addr := range subset.Addresses {
			ips = append(ips, addr.IP)
		}
	}
	k.setEndpointIPs(ips)
	log.Log.Debugw(
		"got endpoint IPs for service",
		zap.String("service", k.service),
		zap.Strings("ips", ips),
	)
}

func (k *K8sService) setEndpointIPs(ips []string) {
	urls := make([]string, 0, len(ips))
	for _, ip := range ips {
		u := *k.base
		if port := k.base.Port(); port != "" {
			u.Host = net.JoinHostPort(ip, port)
		} else {
			u.Host = ip
		}
		urls = append(urls, u.String())
	}

	k.mu.Lock()
	k.urls = urls
	k.mu.Unlock()
}
