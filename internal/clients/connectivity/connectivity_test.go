package connectivity

import (
	"context"
	"net"
	"testing"
	"time"

	"courier/internal/lib/logger/handlers/slogdiscard"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T, opts ...grpc.ServerOption) (*health.Server, *bufconn.Listener) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return hs, lis
}

func newBufProber(t *testing.T, lis *bufconn.Listener, opts ...Option) *GRPCProber {
	t.Helper()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}

	opts = append(opts, WithDialOptions(grpc.WithContextDialer(dialer)))
	p, err := NewGRPCProber(slogdiscard.NewDiscardLogger(), "passthrough:///bufnet", time.Second, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return p
}

func TestGRPCProber_Serving(t *testing.T) {
	_, lis := startHealthServer(t)
	p := newBufProber(t, lis)

	assert.True(t, p.IsConnected(context.Background()))
}

func TestGRPCProber_NotServing(t *testing.T) {
	hs, lis := startHealthServer(t)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	p := newBufProber(t, lis)

	assert.False(t, p.IsConnected(context.Background()))
}

func TestGRPCProber_NamedService(t *testing.T) {
	hs, lis := startHealthServer(t)
	hs.SetServingStatus("courier.Auth", healthpb.HealthCheckResponse_SERVING)

	assert.True(t, newBufProber(t, lis, WithService("courier.Auth")).IsConnected(context.Background()))
	assert.False(t, newBufProber(t, lis, WithService("courier.Unknown")).IsConnected(context.Background()))
}

func TestGRPCProber_SendsRequestID(t *testing.T) {
	ids := make(chan []string, 1)
	capture := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ids <- md.Get(requestIDKey)
		return handler(ctx, req)
	}

	_, lis := startHealthServer(t, grpc.UnaryInterceptor(capture))
	p := newBufProber(t, lis)

	require.True(t, p.IsConnected(context.Background()))

	got := <-ids
	require.Len(t, got, 1)
	_, err := uuid.Parse(got[0])
	assert.NoError(t, err)
}

func TestGRPCProber_KeepsCallerRequestID(t *testing.T) {
	ids := make(chan []string, 1)
	capture := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ids <- md.Get(requestIDKey)
		return handler(ctx, req)
	}

	_, lis := startHealthServer(t, grpc.UnaryInterceptor(capture))
	p := newBufProber(t, lis)

	ctx := metadata.AppendToOutgoingContext(context.Background(), requestIDKey, "launch-1")
	require.True(t, p.IsConnected(ctx))

	assert.Equal(t, []string{"launch-1"}, <-ids)
}

func TestGRPCProber_Unreachable(t *testing.T) {
	_, lis := startHealthServer(t)
	require.NoError(t, lis.Close())
	p := newBufProber(t, lis)

	assert.False(t, p.IsConnected(context.Background()))
}

func TestStatic(t *testing.T) {
	assert.True(t, Static(true).IsConnected(context.Background()))
	assert.False(t, Static(false).IsConnected(context.Background()))
}

func TestMaskSensitiveFields(t *testing.T) {
	fields := []any{
		"grpc.method", "Check",
		"authorization", "Bearer abcdefghijkl",
		"token", "short",
		42, "not a key",
	}

	got := maskSensitiveFields(fields)

	assert.Equal(t, "Check", got[1])
	assert.Equal(t, "Bear****", got[3])
	assert.Equal(t, "****", got[5])
	assert.Equal(t, "not a key", got[7])
}
