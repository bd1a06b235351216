package internal

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// BlockingDial creates a client connection to addr and waits for it to become
// ready. If ctx finishes first, or a dial fails with a permanent error, it
// returns the last error seen by the socket dialer, falling back to the
// context error.
func BlockingDial(ctx context.Context, addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastErr dialError
	cc, err := grpc.NewClient(addr, append(opts,
		grpc.WithContextDialer(func(dialCtx context.Context, addr string) (net.Conn, error) {
			conn, err := keepaliveDialer().DialContext(dialCtx, "tcp", addr)
			if err != nil {
				lastErr.set(err)
				if !isTemporary(err) {
					cancel()
				}
			}
			return conn, err
		}))...,
	)
	if err != nil {
		return nil, err
	}

	cc.Connect()
	for {
		state := cc.GetState()
		if state == connectivity.Ready {
			return cc, nil
		}
		if !cc.WaitForStateChange(ctx, state) {
			_ = cc.Close()
			if err := lastErr.get(); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
	}
}

// keepaliveDialer enables TCP keepalives on the socket with the operating
// system's interval and time, the same as grpc-go's default dialer.
func keepaliveDialer() *net.Dialer {
	return &net.Dialer{
		// negative keeps the stdlib from overriding the OS keepalive settings
		KeepAlive: time.Duration(-1),
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
			})
		},
	}
}

type dialError struct {
	mu  sync.Mutex
	err error
}

func (d *dialError) set(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *dialError) get() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// copied from grpc-go
func isTemporary(err error) bool {
	switch err := err.(type) {
	case interface {
		Temporary() bool
	}:
		return err.Temporary()
	case interface {
		Timeout() bool
	}:
		// Timeouts may be resolved upon retry, and are thus treated as
		// temporary.
		return err.Timeout()
	}
	return true
}
