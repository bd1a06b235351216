// Package fakeengine implements an in-memory block engine validator service.
// It records what clients send and feeds bundles to subscribers, for tests
// and for the test server command.
package fakeengine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mevton/blockengine"
	"github.com/mevton/blockengine/blockenginepb"
)

// Feed produces the bundles for one subscriber by calling send. Returning
// nil ends the stream cleanly; returning an error ends it with that error.
type Feed func(ctx context.Context, send func(*blockenginepb.Bundle) error) error

// Options configures a Server.
type Options struct {
	// Log receives a line per call and per message. Defaults to the
	// standard logrus logger.
	Log logrus.FieldLogger
	// If set, calls must carry exactly this bearer token or they are
	// rejected with "Unauthenticated".
	AccessToken string
	// If greater than zero, every mempool stream is aborted after this many
	// packets.
	MempoolFailAfter int
	// Feed is run for every bundle subscription. Defaults to a feed that
	// never sends anything and ends when the subscriber goes away.
	Feed Feed
}

// Call records the authorization of one call.
type Call struct {
	Token    string
	HasToken bool
}

// MempoolCall records one StreamMempool call.
type MempoolCall struct {
	Call
	Packets []*blockenginepb.MempoolPacket
}

// Server is a fake block engine.
type Server struct {
	blockenginepb.UnimplementedBlockEngineValidatorServer

	log       logrus.FieldLogger
	token     string
	failAfter int
	feed      Feed

	mu          sync.Mutex
	mempool     []*MempoolCall
	subscribers []Call
}

// NewServer creates a fake block engine. Register it with
// blockenginepb.RegisterBlockEngineValidatorServer.
func NewServer(options Options) *Server {
	s := &Server{
		log:       options.Log,
		token:     options.AccessToken,
		failAfter: options.MempoolFailAfter,
		feed:      options.Feed,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.feed == nil {
		s.feed = func(ctx context.Context, _ func(*blockenginepb.Bundle) error) error {
			<-ctx.Done()
			return nil
		}
	}
	return s
}

// StreamMempool records every packet of the call, then acknowledges it.
func (s *Server) StreamMempool(stream blockenginepb.BlockEngineValidator_StreamMempoolServer) error {
	call, err := s.authorize(stream.Context())
	if err != nil {
		return err
	}
	rec := &MempoolCall{Call: call}
	s.mu.Lock()
	s.mempool = append(s.mempool, rec)
	s.mu.Unlock()

	log := s.log.WithField("method", "StreamMempool")
	log.WithField("authorized", call.HasToken).Info("mempool stream opened")
	n := 0
	for {
		pkt, err := stream.Recv()
		if err == io.EOF {
			log.WithField("packets", n).Info("mempool stream completed")
			return stream.SendAndClose(&blockenginepb.StreamMempoolResponse{})
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		rec.Packets = append(rec.Packets, pkt)
		s.mu.Unlock()
		n++
		log.WithField("hash", fmt.Sprintf("%x", pkt.GetHash())).Debug("received mempool packet")

		if s.failAfter > 0 && n >= s.failAfter {
			log.WithField("packets", n).Warn("aborting mempool stream")
			return status.Errorf(codes.Aborted, "mempool stream aborted after %d packets", n)
		}
	}
}

// SubscribeBundles runs the configured feed for the subscriber.
func (s *Server) SubscribeBundles(_ *blockenginepb.SubscribeBundlesRequest, stream blockenginepb.BlockEngineValidator_SubscribeBundlesServer) error {
	call, err := s.authorize(stream.Context())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, call)
	s.mu.Unlock()

	log := s.log.WithField("method", "SubscribeBundles")
	log.WithField("authorized", call.HasToken).Info("bundle subscriber connected")
	n := 0
	err = s.feed(stream.Context(), func(b *blockenginepb.Bundle) error {
		if err := stream.Send(b); err != nil {
			return err
		}
		n++
		return nil
	})
	log.WithField("bundles", n).WithError(err).Info("bundle subscriber done")
	return err
}

func (s *Server) authorize(ctx context.Context) (Call, error) {
	token, ok := blockengine.AccessTokenFromIncomingContext(ctx)
	if s.token != "" && (!ok || token != s.token) {
		return Call{}, status.Error(codes.Unauthenticated, "missing or invalid access token")
	}
	return Call{Token: token, HasToken: ok}, nil
}

// MempoolCalls returns a snapshot of the StreamMempool calls received so far.
func (s *Server) MempoolCalls() []MempoolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]MempoolCall, len(s.mempool))
	for i, c := range s.mempool {
		calls[i] = MempoolCall{
			Call:    c.Call,
			Packets: append([]*blockenginepb.MempoolPacket(nil), c.Packets...),
		}
	}
	return calls
}

// Subscribers returns the authorization of every accepted bundle
// subscription so far.
func (s *Server) Subscribers() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.subscribers...)
}

// TickerFeed returns a feed that sends a generated bundle every interval.
// After count bundles (if count > 0) it ends the stream cleanly.
func TickerFeed(interval time.Duration, count int) Feed {
	return func(ctx context.Context, send func(*blockenginepb.Bundle) error) error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for i := 0; count <= 0 || i < count; i++ {
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil
			}
			err := send(&blockenginepb.Bundle{
				Uuid:     fmt.Sprintf("bundle-%d-%d", time.Now().UnixNano(), i),
				Messages: [][]byte{[]byte(fmt.Sprintf("message %d", i))},
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// SliceFeed returns a feed that sends the given bundles, then ends with err.
func SliceFeed(err error, bundles ...*blockenginepb.Bundle) Feed {
	return func(_ context.Context, send func(*blockenginepb.Bundle) error) error {
		for _, b := range bundles {
			if err := send(b); err != nil {
				return err
			}
		}
		return err
	}
}
