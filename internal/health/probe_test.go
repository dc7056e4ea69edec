package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/good-yellow-bee/vigil/internal/storage"
)

func TestHTTPProbe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr string
	}{
		{"ok", http.StatusOK, ""},
		{"no content", http.StatusNoContent, ""},
		{"server error", http.StatusServiceUnavailable, "unexpected status 503"},
		{"redirect loop target", http.StatusNotFound, "unexpected status 404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/actuator/health", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewHTTPProbe("user-service", srv.URL+"/actuator/health", nil)
			assert.Equal(t, "user-service", p.Name())

			err := p.Check(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPProbe("stall-service", url, nil).Check(context.Background())
	assert.ErrorContains(t, err, "request failed")
}

func TestHTTPProbe_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewHTTPProbe("slow", srv.URL, nil).Check(ctx)
	assert.Error(t, err)
}

func startHealthServer(t *testing.T) (*grpchealth.Server, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return hs, lis.Addr().String()
}

func TestGRPCProbe(t *testing.T) {
	hs, addr := startHealthServer(t)
	hs.SetServingStatus("reservation.Service", healthpb.HealthCheckResponse_SERVING)

	p, err := NewGRPCProbe("reservation-service", addr, "reservation.Service")
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Check(ctx))

	hs.SetServingStatus("reservation.Service", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.ErrorContains(t, p.Check(ctx), "NOT_SERVING")

	unknown, err := NewGRPCProbe("other", addr, "unknown.Service")
	require.NoError(t, err)
	defer unknown.Close()
	assert.ErrorContains(t, unknown.Check(ctx), "health rpc")
}

func TestDatabaseProbe(t *testing.T) {
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "probe.db"))
	require.NoError(t, store.Open())

	p := NewDatabaseProbe("database", store.DB())
	assert.NoError(t, p.Check(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, p.Check(context.Background()))

	assert.EqualError(t, NewDatabaseProbe("database", nil).Check(context.Background()), "database not initialized")
}
