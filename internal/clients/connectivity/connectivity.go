// Package connectivity answers "can the backend be reached right now".
package connectivity

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"courier/internal/lib/logger/sl"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultTimeout = 3 * time.Second
	maxAttempts    = 2
)

type Prober interface {
	IsConnected(ctx context.Context) bool
}

// Static reports a fixed answer.
type Static bool

func (s Static) IsConnected(context.Context) bool {
	return bool(s)
}

// GRPCProber asks the backend's grpc.health.v1 service whether it is serving.
type GRPCProber struct {
	log     *slog.Logger
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	service string
	timeout time.Duration
}

type Option func(*options)

type options struct {
	dialOpts []grpc.DialOption
	useTLS   bool
	service  string
}

// WithTLS dials with the system root CAs.
func WithTLS() Option {
	return func(o *options) { o.useTLS = true }
}

// WithService checks a named service instead of the server as a whole.
func WithService(name string) Option {
	return func(o *options) { o.service = name }
}

func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

func NewGRPCProber(log *slog.Logger, addr string, timeout time.Duration, opts ...Option) (*GRPCProber, error) {
	const op = "connectivity.NewGRPCProber"

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	creds := insecure.NewCredentials()
	if o.useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	loggingOpts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
	}

	retryOpts := []retry.CallOption{
		retry.WithMax(maxAttempts),
		retry.WithCodes(codes.Unavailable),
		retry.WithBackoff(retry.BackoffLinear(100 * time.Millisecond)),
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(
			NewHeadersInterceptor(log).Unary(),
			logging.UnaryClientInterceptor(InterceptorLogger(log), loggingOpts...),
			retry.UnaryClientInterceptor(retryOpts...),
		),
	}, o.dialOpts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &GRPCProber{
		log:     log,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		service: o.service,
		timeout: timeout,
	}, nil
}

func (p *GRPCProber) IsConnected(ctx context.Context) bool {
	const op = "connectivity.IsConnected"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		p.log.Warn("backend unreachable", slog.String("op", op), sl.Err(err))
		return false
	}

	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (p *GRPCProber) Close() error {
	return p.conn.Close()
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, maskSensitiveFields(fields)...)
	})
}

func maskSensitiveFields(fields []any) []any {
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch key {
		case "authorization", "accessToken", "refreshToken", "token":
			if v, ok := fields[i+1].(string); ok {
				if len(v) > 8 {
					fields[i+1] = v[:4] + "****"
				} else {
					fields[i+1] = "****"
				}
			}
		}
	}
	return fields
}
