package blockengine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/mevton/blockengine"
	"github.com/mevton/blockengine/blockenginepb"
	"github.com/mevton/blockengine/internal/fakeengine"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type engine struct {
	*fakeengine.Server
	addr string

	mu          sync.Mutex
	unaryTokens []string
}

func startEngine(t *testing.T, opts fakeengine.Options) *engine {
	t.Helper()
	opts.Log = quietLogger()
	e := &engine{Server: fakeengine.NewServer(opts)}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token, _ := blockengine.AccessTokenFromIncomingContext(ctx)
		e.mu.Lock()
		e.unaryTokens = append(e.unaryTokens, token)
		e.mu.Unlock()
		return handler(ctx, req)
	}))
	blockenginepb.RegisterBlockEngineValidatorServer(gs, e.Server)
	healthpb.RegisterHealthServer(gs, health.NewServer())
	go func() {
		if err := gs.Serve(l); err != nil {
			t.Logf("error from grpc server: %v", err)
		}
	}()
	t.Cleanup(gs.Stop)
	e.addr = l.Addr().String()
	return e
}

func connect(t *testing.T, endpoint string, opts ...blockengine.SessionOption) *blockengine.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts = append([]blockengine.SessionOption{blockengine.WithLogger(quietLogger())}, opts...)
	sess, err := blockengine.Connect(ctx, endpoint, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sess.Close()
	})
	return sess
}

func packet(i int) *blockenginepb.MempoolPacket {
	return &blockenginepb.MempoolPacket{
		Hash:         []byte(fmt.Sprintf("hash-%d", i)),
		Data:         []byte(fmt.Sprintf("data-%d", i)),
		ReceivedAtMs: int64(i),
	}
}

func bundle(i int) *blockenginepb.Bundle {
	return &blockenginepb.Bundle{
		Uuid:     fmt.Sprintf("bundle-%d", i),
		Messages: [][]byte{[]byte(fmt.Sprintf("msg-%d", i))},
	}
}

func waitDone(t *testing.T, sub *blockengine.Subscription) error {
	t.Helper()
	select {
	case <-sub.Done():
		return sub.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
		return nil
	}
}

func TestConnect(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		for _, endpoint := range []string{
			"",
			"relay.example",
			"ftp://relay.example:21",
			"grpc://:443",
			"grpc://relay.example:443/validator",
			"127.0.0.1:",
		} {
			_, err := blockengine.Connect(context.Background(), endpoint)
			var connErr *blockengine.ConnectionError
			require.ErrorAs(t, err, &connErr, "endpoint %q", endpoint)
			assert.Equal(t, endpoint, connErr.Endpoint)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		require.NoError(t, l.Close())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = blockengine.Connect(ctx, addr)
		var connErr *blockengine.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.NotNil(t, connErr.Unwrap())
	})

	t.Run("url", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, "grpc://"+e.addr)
		assert.Equal(t, "grpc://"+e.addr, sess.Endpoint())
		require.NoError(t, sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice()))
	})
}

func TestPublishMempool(t *testing.T) {
	t.Run("in order with bearer token", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr, blockengine.WithAccessToken("abc123"))

		err := sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice(packet(1), packet(2)))
		require.NoError(t, err)

		calls := e.MempoolCalls()
		require.Len(t, calls, 1)
		assert.True(t, calls[0].HasToken)
		assert.Equal(t, "abc123", calls[0].Token)
		require.Len(t, calls[0].Packets, 2)
		assert.True(t, proto.Equal(packet(1), calls[0].Packets[0]))
		assert.True(t, proto.Equal(packet(2), calls[0].Packets[1]))
	})

	t.Run("empty sequence", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr, blockengine.WithAccessToken("abc123"))

		require.NoError(t, sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice()))
		calls := e.MempoolCalls()
		require.Len(t, calls, 1)
		assert.Empty(t, calls[0].Packets)
	})

	t.Run("anonymous", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr)

		require.NoError(t, sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice(packet(1))))
		calls := e.MempoolCalls()
		require.Len(t, calls, 1)
		assert.False(t, calls[0].HasToken)
	})

	t.Run("channel source", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr, blockengine.WithAccessToken("abc123"))

		ch := make(chan *blockenginepb.MempoolPacket)
		go func() {
			defer close(ch)
			for i := 0; i < 100; i++ {
				ch <- packet(i)
				if i%10 == 0 {
					ch <- nil
				}
			}
		}()
		require.NoError(t, sess.PublishMempool(context.Background(), blockengine.PacketsFromChannel(ch)))

		calls := e.MempoolCalls()
		require.Len(t, calls, 1)
		require.Len(t, calls[0].Packets, 100)
		for i, pkt := range calls[0].Packets {
			assert.True(t, proto.Equal(packet(i), pkt), "packet %d", i)
		}
	})

	t.Run("remote abort", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{MempoolFailAfter: 2})
		sess := connect(t, e.addr)

		i := 0
		endless := blockengine.PacketSourceFunc(func(ctx context.Context) (*blockenginepb.MempoolPacket, error) {
			i++
			return packet(i), ctx.Err()
		})
		err := sess.PublishMempool(context.Background(), endless)
		var streamErr *blockengine.StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, blockenginepb.BlockEngineValidator_StreamMempool_FullMethodName, streamErr.Method)
		assert.Equal(t, codes.Aborted, status.Code(streamErr.Err))

		calls := e.MempoolCalls()
		require.Len(t, calls, 1)
		assert.Len(t, calls[0].Packets, 2)
	})

	t.Run("remote abort while source idle", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{MempoolFailAfter: 1})
		sess := connect(t, e.addr)

		ch := make(chan *blockenginepb.MempoolPacket, 1)
		ch <- packet(1)
		errs := make(chan error, 1)
		go func() {
			// the channel is never closed and gets no second packet
			errs <- sess.PublishMempool(context.Background(), blockengine.PacketsFromChannel(ch))
		}()

		select {
		case err := <-errs:
			var streamErr *blockengine.StreamError
			require.ErrorAs(t, err, &streamErr)
			assert.Equal(t, "recv", streamErr.Op)
			assert.Equal(t, codes.Aborted, status.Code(streamErr.Err))
		case <-time.After(5 * time.Second):
			t.Fatal("publish did not return after the block engine aborted the stream")
		}

		calls := e.MempoolCalls()
		require.Len(t, calls, 1)
		assert.Len(t, calls[0].Packets, 1)
	})

	t.Run("rejected while source idle", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{AccessToken: "secret"})
		sess := connect(t, e.addr, blockengine.WithAccessToken("wrong"))

		errs := make(chan error, 1)
		go func() {
			errs <- sess.PublishMempool(context.Background(), blockengine.PacketsFromChannel(make(chan *blockenginepb.MempoolPacket)))
		}()

		select {
		case err := <-errs:
			var streamErr *blockengine.StreamError
			require.ErrorAs(t, err, &streamErr)
			assert.Equal(t, codes.Unauthenticated, status.Code(streamErr.Err))
		case <-time.After(5 * time.Second):
			t.Fatal("publish did not return after the block engine rejected the stream")
		}
	})

	t.Run("source error", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr)

		boom := errors.New("boom")
		sent := false
		src := blockengine.PacketSourceFunc(func(ctx context.Context) (*blockenginepb.MempoolPacket, error) {
			if !sent {
				sent = true
				return packet(1), nil
			}
			return nil, boom
		})
		err := sess.PublishMempool(context.Background(), src)
		var streamErr *blockengine.StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "source", streamErr.Op)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr)

		ctx, cancel := context.WithCancel(context.Background())
		ch := make(chan *blockenginepb.MempoolPacket)
		errs := make(chan error, 1)
		go func() {
			errs <- sess.PublishMempool(ctx, blockengine.PacketsFromChannel(ch))
		}()
		ch <- packet(1)
		cancel()

		select {
		case err := <-errs:
			var streamErr *blockengine.StreamError
			require.ErrorAs(t, err, &streamErr)
			assert.True(t, errors.Is(err, context.Canceled) || status.Code(streamErr.Err) == codes.Canceled, "unexpected error: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("publish did not return after cancel")
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{AccessToken: "secret"})
		sess := connect(t, e.addr, blockengine.WithAccessToken("wrong"))

		err := sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice(packet(1)))
		var streamErr *blockengine.StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, codes.Unauthenticated, status.Code(streamErr.Err))
	})
}

func TestSubscribeBundles(t *testing.T) {
	t.Run("clean end", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{Feed: fakeengine.SliceFeed(nil, bundle(1), bundle(2), bundle(3))})
		sess := connect(t, e.addr, blockengine.WithAccessToken("abc123"))

		var (
			mu       sync.Mutex
			got      []*blockenginepb.Bundle
			inFlight atomic.Int32
			overlap  atomic.Bool
		)
		sub, err := sess.SubscribeBundles(context.Background(), func(b *blockenginepb.Bundle) {
			if inFlight.Add(1) != 1 {
				overlap.Store(true)
			}
			defer inFlight.Add(-1)
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			got = append(got, b)
			mu.Unlock()
		})
		require.NoError(t, err)

		require.NoError(t, waitDone(t, sub))
		assert.True(t, sub.IsDone())
		assert.False(t, overlap.Load())

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, got, 3)
		for i, b := range got {
			assert.True(t, proto.Equal(bundle(i+1), b), "bundle %d", i)
		}

		subs := e.Subscribers()
		require.Len(t, subs, 1)
		assert.True(t, subs[0].HasToken)
		assert.Equal(t, "abc123", subs[0].Token)
	})

	t.Run("error end", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{
			Feed: fakeengine.SliceFeed(status.Error(codes.Unavailable, "engine restarting"), bundle(1)),
		})
		sess := connect(t, e.addr)

		var count atomic.Int32
		sub, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {
			count.Add(1)
		})
		require.NoError(t, err)

		err = waitDone(t, sub)
		var streamErr *blockengine.StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "recv", streamErr.Op)
		assert.Equal(t, codes.Unavailable, status.Code(streamErr.Err))
		assert.Equal(t, int32(1), count.Load())
		assert.Equal(t, err, sub.Wait())
	})

	t.Run("rejected token", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{AccessToken: "secret"})
		sess := connect(t, e.addr)

		sub, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {
			t.Error("handler must not be called")
		})
		require.NoError(t, err)
		err = waitDone(t, sub)
		var streamErr *blockengine.StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, codes.Unauthenticated, status.Code(streamErr.Err))
	})

	t.Run("outlives caller context", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{Feed: fakeengine.TickerFeed(20*time.Millisecond, 3)})
		sess := connect(t, e.addr)

		ctx, cancel := context.WithCancel(context.Background())
		var count atomic.Int32
		sub, err := sess.SubscribeBundles(ctx, func(*blockenginepb.Bundle) {
			count.Add(1)
		})
		require.NoError(t, err)
		cancel()

		require.NoError(t, waitDone(t, sub))
		assert.Equal(t, int32(3), count.Load())
	})

	t.Run("stop", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr)

		sub, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {})
		require.NoError(t, err)
		assert.False(t, sub.IsDone())
		assert.NoError(t, sub.Err())

		sub.Stop()
		require.NoError(t, waitDone(t, sub))
	})

	t.Run("stop from handler", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{Feed: fakeengine.TickerFeed(10*time.Millisecond, 0)})
		sess := connect(t, e.addr)

		var count atomic.Int32
		var sub *blockengine.Subscription
		ready := make(chan struct{})
		sub, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {
			<-ready
			if count.Add(1) == 2 {
				sub.Stop()
			}
		})
		require.NoError(t, err)
		close(ready)

		require.NoError(t, waitDone(t, sub))
		assert.GreaterOrEqual(t, count.Load(), int32(2))
	})

	t.Run("session close", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr)

		sub1, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {})
		require.NoError(t, err)
		sub2, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {})
		require.NoError(t, err)

		require.NoError(t, sess.Close())
		require.NoError(t, waitDone(t, sub1))
		require.NoError(t, waitDone(t, sub2))
		require.NoError(t, sess.Close())

		_, err = sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {})
		var streamErr *blockengine.StreamError
		require.ErrorAs(t, err, &streamErr)
	})

	t.Run("nil handler", func(t *testing.T) {
		e := startEngine(t, fakeengine.Options{})
		sess := connect(t, e.addr)

		_, err := sess.SubscribeBundles(context.Background(), nil)
		var streamErr *blockengine.StreamError
		require.ErrorAs(t, err, &streamErr)
	})
}

func TestSessionConcurrentStreams(t *testing.T) {
	e := startEngine(t, fakeengine.Options{Feed: fakeengine.TickerFeed(5*time.Millisecond, 20)})
	sess := connect(t, e.addr, blockengine.WithAccessToken("abc123"))

	var count atomic.Int32
	sub, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {
		count.Add(1)
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pkts := make([]*blockenginepb.MempoolPacket, 25)
			for i := range pkts {
				pkts[i] = packet(i)
			}
			assert.NoError(t, sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice(pkts...)))
		}()
	}
	wg.Wait()

	require.NoError(t, waitDone(t, sub))
	assert.Equal(t, int32(20), count.Load())

	calls := e.MempoolCalls()
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, "abc123", c.Token)
		assert.Len(t, c.Packets, 25)
	}
}

func TestSessionInvalidToken(t *testing.T) {
	e := startEngine(t, fakeengine.Options{})
	sess := connect(t, e.addr, blockengine.WithAccessToken("abc\n123"))

	err := sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice(packet(1)))
	var streamErr *blockengine.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "auth", streamErr.Op)
	var encErr *blockengine.MetadataEncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "authorization", encErr.Key)
	assert.Equal(t, len("Bearer abc"), encErr.Pos)

	_, err = sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {})
	require.ErrorAs(t, err, &encErr)

	// the failures are local to each call
	err = sess.PublishMempool(context.Background(), blockengine.PacketsFromSlice(packet(2)))
	require.ErrorAs(t, err, &encErr)
	assert.Empty(t, e.MempoolCalls())
	assert.Empty(t, e.Subscribers())
}

func TestSessionChannel(t *testing.T) {
	e := startEngine(t, fakeengine.Options{})
	sess := connect(t, e.addr, blockengine.WithAccessToken("abc123"))

	resp, err := healthpb.NewHealthClient(sess.Channel()).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, []string{"abc123"}, e.unaryTokens)
}

func TestSubscriptionNoLeak(t *testing.T) {
	e := startEngine(t, fakeengine.Options{Feed: fakeengine.TickerFeed(5*time.Millisecond, 0)})
	sess := connect(t, e.addr)

	// Make sure any goroutines used by the client and server created above have started. That
	// way, we don't incorrectly think they are leaked goroutines.
	time.Sleep(500 * time.Millisecond)

	checkForGoroutineLeak(t, func() {
		sub, err := sess.SubscribeBundles(context.Background(), func(*blockenginepb.Bundle) {})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		sub.Stop()
		require.NoError(t, waitDone(t, sub))
	})
}

func checkForGoroutineLeak(t *testing.T, fn func()) {
	before := runtime.NumGoroutine()

	fn()

	// check for goroutine leaks
	deadline := time.Now().Add(time.Second * 5)
	after := 0
	for deadline.After(time.Now()) {
		after = runtime.NumGoroutine()
		if after <= before {
			// number of goroutines returned to previous level: no leak!
			return
		}
		time.Sleep(time.Millisecond * 50)
	}
	buf := make([]byte, 1024*1024)
	n := runtime.Stack(buf, true)
	t.Errorf("%d goroutines leaked:\n%s", after-before, string(buf[:n]))
}
