package blockengine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mevton/blockengine/blockenginepb"
	"github.com/mevton/blockengine/internal"
)

var errSessionClosed = errors.New("session is closed")

// Session is an authenticated connection to a block engine. Both streaming
// operations borrow the session's single connection, each as an independent
// call, so they may be used concurrently.
//
// The credential given to Connect is fixed for the lifetime of the session:
// either every call is authenticated with it or every call is anonymous.
type Session struct {
	endpoint string
	conn     *grpc.ClientConn
	ch       grpc.ClientConnInterface
	client   blockenginepb.BlockEngineValidatorClient
	log      logrus.FieldLogger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Connect dials the block engine at endpoint and blocks until the connection
// is ready or ctx is done.
//
// The endpoint is either "host:port", which is dialed without TLS, or a URL
// with one of the schemes grpc, http (plaintext), grpcs or https (TLS). A URL
// without a port uses 80 or 443 according to its scheme.
//
// Any failure is reported as a *ConnectionError. Connect does not retry.
func Connect(ctx context.Context, endpoint string, opts ...SessionOption) (*Session, error) {
	var o sessionOpts
	for _, opt := range opts {
		opt.apply(&o)
	}

	target, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	creds := o.creds
	if creds == nil {
		if secure {
			creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		} else {
			creds = insecure.NewCredentials()
		}
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, o.dialOpts...)

	log := o.logger().WithField("endpoint", endpoint)
	cc, err := internal.BlockingDial(ctx, target, dialOpts...)
	if err != nil {
		log.WithError(err).Debug("failed to connect to block engine")
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	log.Debug("connected to block engine")

	ch := newAuthenticator(o.token, o.hasToken).intercept(cc)
	return &Session{
		endpoint: endpoint,
		conn:     cc,
		ch:       ch,
		client:   blockenginepb.NewBlockEngineValidatorClient(ch),
		log:      log,
		subs:     map[*Subscription]struct{}{},
	}, nil
}

// parseEndpoint returns the dial target for endpoint and whether the
// endpoint asks for TLS.
func parseEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, errors.New("empty endpoint")
	}

	if !strings.Contains(endpoint, "://") {
		host, port, err := net.SplitHostPort(endpoint)
		if err != nil {
			return "", false, err
		}
		if host == "" || port == "" {
			return "", false, fmt.Errorf("endpoint %q must have both host and port", endpoint)
		}
		return net.JoinHostPort(host, port), false, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, err
	}
	var secure bool
	var defaultPort string
	switch strings.ToLower(u.Scheme) {
	case "grpc", "http":
		defaultPort = "80"
	case "grpcs", "https":
		secure = true
		defaultPort = "443"
	default:
		return "", false, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return "", false, fmt.Errorf("endpoint %q must not have a path", endpoint)
	}
	host := u.Hostname()
	if host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port), secure, nil
}

// Endpoint returns the endpoint the session was connected to.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// Channel returns the session's authenticated channel. It can be used to
// create stubs for other services hosted by the block engine; calls issued
// through it carry the session's credential.
func (s *Session) Channel() grpc.ClientConnInterface {
	return s.ch
}

// Close stops all bundle subscriptions and closes the connection. Calls in
// flight fail. Close does not wait for subscriptions to exit; use their Done
// or Wait methods for that. Calling Close more than once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	s.log.Debug("closing block engine session")
	return s.conn.Close()
}

func (s *Session) track(sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subs[sub] = struct{}{}
	return true
}

func (s *Session) untrack(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// callErr classifies an error from opening a call.
func callErr(method string, err error) error {
	var encErr *MetadataEncodingError
	if errors.As(err, &encErr) {
		return streamErr(method, "auth", err)
	}
	return streamErr(method, "open", err)
}
