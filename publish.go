package blockengine

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mevton/blockengine/blockenginepb"
)

var errClosedEarly = errors.New("block engine closed the stream before all packets were sent")

// PacketSource is a lazy sequence of mempool packets. Next blocks until the
// next packet is available and returns io.EOF once the sequence is
// exhausted. Next should return promptly with an error when ctx is done.
type PacketSource interface {
	Next(ctx context.Context) (*blockenginepb.MempoolPacket, error)
}

// PacketSourceFunc adapts a function to a PacketSource.
type PacketSourceFunc func(ctx context.Context) (*blockenginepb.MempoolPacket, error)

// Next calls f(ctx).
func (f PacketSourceFunc) Next(ctx context.Context) (*blockenginepb.MempoolPacket, error) {
	return f(ctx)
}

// PacketsFromChannel returns a source that yields packets received from ch.
// The sequence ends when ch is closed.
func PacketsFromChannel(ch <-chan *blockenginepb.MempoolPacket) PacketSource {
	return PacketSourceFunc(func(ctx context.Context) (*blockenginepb.MempoolPacket, error) {
		select {
		case pkt, ok := <-ch:
			if !ok {
				return nil, io.EOF
			}
			return pkt, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// PacketsFromSlice returns a source that yields the given packets in order.
func PacketsFromSlice(pkts ...*blockenginepb.MempoolPacket) PacketSource {
	i := 0
	return PacketSourceFunc(func(ctx context.Context) (*blockenginepb.MempoolPacket, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(pkts) {
			return nil, io.EOF
		}
		pkt := pkts[i]
		i++
		return pkt, nil
	})
}

// PublishMempool streams the packets yielded by packets to the block engine
// as the body of a single StreamMempool call, in the order the source yields
// them. Nil packets are skipped. It returns once the source is exhausted and
// the block engine has acknowledged the stream.
//
// Packets are pulled only as fast as the transport accepts them. On any
// failure the call is aborted and a *StreamError is returned; packets sent
// before the failure are not recalled and nothing is resent. If the block
// engine ends the call while the source is idle, the source's context is
// cancelled and the block engine's status is returned.
func (s *Session) PublishMempool(ctx context.Context, packets PacketSource) error {
	const method = blockenginepb.BlockEngineValidator_StreamMempool_FullMethodName

	// cancelling aborts the call on every early return
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.client.StreamMempool(callCtx)
	if err != nil {
		return callErr(method, err)
	}
	log := s.log.WithField("method", method)

	// The receiver runs alongside the send loop so that a status sent by the
	// block engine is seen even while the source has nothing to yield.
	var recvErr error
	recvDone := make(chan struct{})
	exhausted := make(chan struct{})
	go func() {
		defer close(recvDone)
		recvErr = stream.RecvMsg(new(blockenginepb.StreamMempoolResponse))
		select {
		case <-exhausted:
		default:
			// ended before the source did; unblock Next
			cancel()
		}
	}()
	remoteErr := func() error {
		<-recvDone
		if recvErr == nil {
			return errClosedEarly
		}
		return recvErr
	}
	fail := func(op string, err error, sent int) error {
		log.WithError(err).WithField("packets", sent).Warn("mempool stream failed")
		return streamErr(method, op, err)
	}

	sent := 0
	for {
		pkt, err := packets.Next(callCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			select {
			case <-recvDone:
				if ctx.Err() == nil {
					return fail("recv", remoteErr(), sent)
				}
			default:
			}
			return fail("source", err, sent)
		}
		if pkt == nil {
			continue
		}
		if err := stream.Send(pkt); err != nil {
			if err == io.EOF {
				// the stream was terminated; the cause is in its status
				err = remoteErr()
			}
			return fail("send", err, sent)
		}
		sent++
	}

	select {
	case <-recvDone:
		// the block engine ended the call before the source did
		return fail("recv", remoteErr(), sent)
	default:
	}
	close(exhausted)
	if err := stream.CloseSend(); err != nil {
		return fail("close", err, sent)
	}
	<-recvDone
	if recvErr != nil {
		return fail("close", recvErr, sent)
	}
	log.WithFields(logrus.Fields{"packets": sent}).Debug("mempool stream completed")
	return nil
}
