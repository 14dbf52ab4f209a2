// Package probe provides ready-made probe functions for the discovery
// sweep and the health monitor. Probes are plain functions so callers
// can supply their own; these cover the common TCP and HTTP cases.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/stackmesh/lib-resilience/discovery"
	"github.com/stackmesh/lib-resilience/health"
)

// ErrUnexpectedStatus indicates an HTTP probe received a non-2xx response.
var ErrUnexpectedStatus = errors.New("probe: unexpected HTTP status")

// TCP returns an instance probe that dials the instance endpoint. A
// completed dial counts as healthy; the connection is closed immediately.
func TCP() discovery.ProbeFunc {
	var dialer net.Dialer

	return func(ctx context.Context, inst discovery.ServiceInstance) error {
		conn, err := dialer.DialContext(ctx, "tcp", inst.Endpoint)
		if err != nil {
			return err
		}

		return conn.Close()
	}
}

// HTTP returns an instance probe that issues a GET against the given
// path on the instance. Any 2xx status counts as healthy. A nil client
// falls back to http.DefaultClient.
func HTTP(client *http.Client, path string) discovery.ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, inst discovery.ServiceInstance) error {
		url := fmt.Sprintf("http://%s%s", inst.Endpoint, path)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
		}

		return nil
	}
}

// HTTPService returns a service probe for the health monitor that hits
// one URL per service, built by the resolve function. The record carries
// the observed latency and, on failure, the error text.
func HTTPService(client *http.Client, resolve func(service string) string) health.ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, service string) health.Record {
		rec := health.Record{
			Service:     service,
			LastChecked: time.Now(),
		}

		start := time.Now()
		err := checkURL(ctx, client, resolve(service))
		rec.ResponseTime = time.Since(start)

		if err != nil {
			rec.Status = health.StatusUnhealthy
			rec.LastError = err.Error()

			return rec
		}

		rec.Status = health.StatusHealthy

		return rec
	}
}

func checkURL(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}

	return nil
}
