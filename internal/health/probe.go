// Package health probes downstream dependencies and aggregates the results
// into an overall status and a persisted snapshot trail.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe checks the liveness of one dependency. Check returns nil when the
// dependency is healthy.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewProbeFunc creates a probe that calls fn.
func NewProbeFunc(name string, fn func(ctx context.Context) error) *ProbeFunc {
	return &ProbeFunc{name: name, fn: fn}
}

// Name returns the probe name.
func (p *ProbeFunc) Name() string { return p.name }

// Check calls the wrapped function.
func (p *ProbeFunc) Check(ctx context.Context) error { return p.fn(ctx) }

// HTTPProbe calls a remote health endpoint and treats any 2xx as healthy.
type HTTPProbe struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPProbe creates an HTTP probe. A nil client uses a default client;
// deadlines come from the context passed to Check.
func NewHTTPProbe(name, url string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProbe{name: name, url: url, client: client}
}

// Name returns the probe name.
func (p *HTTPProbe) Name() string { return p.name }

// Check issues a GET against the health URL.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// GRPCProbe calls the standard grpc.health.v1 Check RPC.
type GRPCProbe struct {
	name    string
	service string
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
}

// NewGRPCProbe creates a probe for target. service is the name passed in the
// health request; empty checks the server as a whole. Connections are made
// lazily, so an unreachable target surfaces as a failed Check.
func NewGRPCProbe(name, target, service string) (*GRPCProbe, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", target, err)
	}
	return &GRPCProbe{
		name:    name,
		service: service,
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
	}, nil
}

// Name returns the probe name.
func (p *GRPCProbe) Name() string { return p.name }

// Check reports an error unless the remote reports SERVING.
func (p *GRPCProbe) Check(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return fmt.Errorf("health rpc: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the client connection.
func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}

// DatabaseProbe checks that a database connection is usable.
type DatabaseProbe struct {
	name string
	db   *sql.DB
}

// NewDatabaseProbe creates a datastore probe.
func NewDatabaseProbe(name string, db *sql.DB) *DatabaseProbe {
	return &DatabaseProbe{name: name, db: db}
}

// Name returns the probe name.
func (p *DatabaseProbe) Name() string { return p.name }

// Check pings the database.
func (p *DatabaseProbe) Check(ctx context.Context) error {
	if p.db == nil {
		return errors.New("database not initialized")
	}
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ErrProbeTimeout is reported when a probe does not finish within its timeout.
var ErrProbeTimeout = errors.New("probe timed out")

// probeTimeoutError keeps the configured timeout in the message.
func probeTimeoutError(d time.Duration) error {
	return fmt.Errorf("%w after %s", ErrProbeTimeout, d)
}
