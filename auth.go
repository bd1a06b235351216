package blockengine

import (
	"context"
	"strings"

	"github.com/fullstorydev/grpchan"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	authorizationKey = "authorization"
	bearerPrefix     = "Bearer "
)

// authenticator attaches the session's bearer credential to outgoing calls.
// The zero value leaves calls anonymous.
type authenticator struct {
	value   string
	enabled bool
}

func newAuthenticator(token string, enabled bool) authenticator {
	if !enabled {
		return authenticator{}
	}
	return authenticator{value: bearerPrefix + token, enabled: true}
}

// authenticate returns ctx with the authorization header set, replacing any
// value the caller may have put there.
func (a authenticator) authenticate(ctx context.Context) (context.Context, error) {
	if !a.enabled {
		return ctx, nil
	}
	if pos := invalidMetadataPos(a.value); pos >= 0 {
		return nil, &MetadataEncodingError{Key: authorizationKey, Pos: pos}
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(authorizationKey, a.value)
	return metadata.NewOutgoingContext(ctx, md), nil
}

// intercept wraps ch so that every unary and streaming call made through it
// is authenticated first.
func (a authenticator) intercept(ch grpc.ClientConnInterface) grpc.ClientConnInterface {
	return grpchan.InterceptClientConn(
		ch,
		func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			ctx, err := a.authenticate(ctx)
			if err != nil {
				return err
			}
			return invoker(ctx, method, req, reply, cc, opts...)
		},
		func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			ctx, err := a.authenticate(ctx)
			if err != nil {
				return nil, err
			}
			return streamer(ctx, desc, cc, method, opts...)
		},
	)
}

// invalidMetadataPos returns the offset of the first byte that cannot be sent
// in an ASCII metadata value, or -1 if there is none.
func invalidMetadataPos(v string) int {
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7e {
			return i
		}
	}
	return -1
}

// AccessTokenFromIncomingContext provides server-side access to the bearer
// token a session attached to a call. It reports false if the call carries no
// bearer authorization header.
func AccessTokenFromIncomingContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	vals := md.Get(authorizationKey)
	if len(vals) == 0 {
		return "", false
	}
	token, ok := strings.CutPrefix(vals[0], bearerPrefix)
	if !ok {
		return "", false
	}
	return token, true
}
