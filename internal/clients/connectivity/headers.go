package connectivity

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const requestIDKey = "x-request-id"

type HeadersInterceptor struct {
	logger *slog.Logger
}

func NewHeadersInterceptor(logger *slog.Logger) *HeadersInterceptor {
	return &HeadersInterceptor{logger: logger}
}

// Unary tags every outgoing call with a request id and logs the outgoing
// metadata at debug level.
func (i *HeadersInterceptor) Unary() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		if len(md.Get(requestIDKey)) == 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, requestIDKey, uuid.NewString())
			md, _ = metadata.FromOutgoingContext(ctx)
		}

		for key, values := range md {
			for _, value := range values {
				fields := maskSensitiveFields([]any{key, value})
				i.logger.Debug("header",
					slog.String("method", method),
					slog.Any("key", fields[0]),
					slog.Any("value", fields[1]),
				)
			}
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
