package blockengine

import (
	"io"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// SessionOption is an option for configuring a Session.
type SessionOption interface {
	apply(*sessionOpts)
}

// WithAccessToken returns an option that authenticates every call issued by
// the session with the given bearer token. The value is opaque and is sent
// verbatim as "authorization: Bearer <token>".
//
// A session created without this option issues anonymous calls.
func WithAccessToken(token string) SessionOption {
	return sessionOptFunc(func(opts *sessionOpts) {
		opts.token = token
		opts.hasToken = true
	})
}

// WithTransportCredentials returns an option that overrides the transport
// credentials otherwise derived from the endpoint's scheme.
func WithTransportCredentials(creds credentials.TransportCredentials) SessionOption {
	return sessionOptFunc(func(opts *sessionOpts) {
		opts.creds = creds
	})
}

// WithDialOptions returns an option that adds the given dial options to the
// ones used to connect.
func WithDialOptions(dialOpts ...grpc.DialOption) SessionOption {
	return sessionOptFunc(func(opts *sessionOpts) {
		opts.dialOpts = append(opts.dialOpts, dialOpts...)
	})
}

// WithLogger returns an option that sets the logger used by the session. By
// default nothing is logged.
func WithLogger(log logrus.FieldLogger) SessionOption {
	return sessionOptFunc(func(opts *sessionOpts) {
		opts.log = log
	})
}

type sessionOpts struct {
	token    string
	hasToken bool
	creds    credentials.TransportCredentials
	dialOpts []grpc.DialOption
	log      logrus.FieldLogger
}

func (o *sessionOpts) logger() logrus.FieldLogger {
	if o.log != nil {
		return o.log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type sessionOptFunc func(*sessionOpts)

func (f sessionOptFunc) apply(opts *sessionOpts) {
	f(opts)
}
