package blockengine

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mevton/blockengine/blockenginepb"
)

// BundleHandler is called once for every bundle received on a subscription.
// Calls are sequential and in the order the block engine sent the bundles.
type BundleHandler func(*blockenginepb.Bundle)

// Subscription is a running bundle subscription, created by
// Session.SubscribeBundles. Its drain loop runs until the block engine ends
// the stream, the connection is lost, Stop is called, or the session is
// closed.
type Subscription struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	// written once, before done is closed
	err error
}

// Done returns a channel that is closed once the drain loop has exited. The
// handler is not called after that.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the subscription ended. It is nil while the
// subscription is running, when the block engine ended the stream cleanly,
// and when the subscription was stopped. Otherwise it is a *StreamError
// wrapping the transport or protocol error.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// IsDone returns true once the drain loop has exited.
func (s *Subscription) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the drain loop has exited and returns Err.
func (s *Subscription) Wait() error {
	<-s.done
	return s.err
}

// Stop cancels the subscription's call. It returns without waiting for the
// drain loop to exit, so it is safe to call from the handler.
func (s *Subscription) Stop() {
	s.stopped.Store(true)
	s.cancel()
}

// SubscribeBundles opens a SubscribeBundles call and returns as soon as it is
// issued. Bundles are then delivered to handler from a background goroutine.
//
// Only setup failures are returned, as a *StreamError. How the stream ended
// is reported by the returned Subscription. The subscription keeps the
// values of ctx but not its cancellation or deadline: it lives until the
// stream ends or it is stopped, however long the caller's context lasts.
func (s *Session) SubscribeBundles(ctx context.Context, handler BundleHandler) (*Subscription, error) {
	const method = blockenginepb.BlockEngineValidator_SubscribeBundles_FullMethodName

	if handler == nil {
		return nil, streamErr(method, "open", errors.New("nil bundle handler"))
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if !s.track(sub) {
		cancel()
		return nil, streamErr(method, "open", errSessionClosed)
	}

	stream, err := s.client.SubscribeBundles(ctx, &blockenginepb.SubscribeBundlesRequest{})
	if err != nil {
		s.untrack(sub)
		cancel()
		return nil, callErr(method, err)
	}

	go s.drain(sub, stream, handler)
	return sub, nil
}

func (s *Session) drain(sub *Subscription, stream blockenginepb.BlockEngineValidator_SubscribeBundlesClient, handler BundleHandler) {
	const method = blockenginepb.BlockEngineValidator_SubscribeBundles_FullMethodName

	defer s.untrack(sub)
	defer sub.cancel()

	received := 0
	for {
		bundle, err := stream.Recv()
		if err != nil {
			sub.err = subscriptionErr(sub, err)
			close(sub.done)

			log := s.log.WithFields(logrus.Fields{"method": method, "bundles": received})
			if sub.err != nil {
				log.WithError(sub.err).Warn("bundle subscription failed")
			} else {
				log.Info("bundle subscription ended")
			}
			return
		}
		received++
		handler(bundle)
	}
}

func subscriptionErr(sub *Subscription, err error) error {
	const method = blockenginepb.BlockEngineValidator_SubscribeBundles_FullMethodName

	if err == io.EOF {
		return nil
	}
	if sub.stopped.Load() && status.Code(err) == codes.Canceled {
		return nil
	}
	return streamErr(method, "recv", err)
}
