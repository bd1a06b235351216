// Package traffic drives synthetic mempool traffic through a session, for
// the test client and for exercising a block engine by hand.
package traffic

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mevton/blockengine"
	"github.com/mevton/blockengine/blockenginepb"
)

// Config controls a traffic run.
type Config struct {
	// Interval between generated packets. Zero sends as fast as the stream
	// accepts them.
	Interval time.Duration
	// Count is the number of packets to publish. Zero or less publishes until
	// the context is done.
	Count int
	// PacketSize is the size of each packet's random payload.
	PacketSize int
	// Linger is how long to keep the bundle subscription open after the last
	// packet was published.
	Linger time.Duration
}

// Stats counts what a traffic run sent and received.
type Stats struct {
	Sent     int64
	Received int64
}

// Run subscribes to bundles and publishes generated packets over sess, both
// at once. It returns when publishing is done and the linger period has
// passed, or as soon as either stream fails.
func Run(ctx context.Context, sess *blockengine.Session, cfg Config, log logrus.FieldLogger) (Stats, error) {
	var sent, received atomic.Int64

	sub, err := sess.SubscribeBundles(ctx, func(b *blockenginepb.Bundle) {
		received.Add(1)
		log.WithFields(logrus.Fields{
			"uuid":     b.GetUuid(),
			"messages": len(b.GetMessages()),
		}).Debug("received bundle")
	})
	if err != nil {
		return Stats{}, err
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		defer sub.Stop()
		if err := sess.PublishMempool(ctx, Packets(cfg, &sent)); err != nil {
			return err
		}
		log.WithField("packets", sent.Load()).Info("published mempool packets")
		select {
		case <-time.After(cfg.Linger):
		case <-ctx.Done():
		}
		return nil
	})
	grp.Go(sub.Wait)

	err = grp.Wait()
	return Stats{Sent: sent.Load(), Received: received.Load()}, err
}

// Packets returns a source of random packets shaped by cfg. Every packet
// handed out is counted in sent.
func Packets(cfg Config, sent *atomic.Int64) blockengine.PacketSource {
	size := cfg.PacketSize
	if size <= 0 {
		size = 256
	}
	n := 0
	return blockengine.PacketSourceFunc(func(ctx context.Context) (*blockenginepb.MempoolPacket, error) {
		if cfg.Count > 0 && n >= cfg.Count {
			return nil, io.EOF
		}
		if cfg.Interval > 0 && n > 0 {
			t := time.NewTimer(cfg.Interval)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		data := make([]byte, size)
		if _, err := rand.Read(data); err != nil {
			return nil, err
		}
		hash := sha256.Sum256(data)
		n++
		sent.Add(1)
		return &blockenginepb.MempoolPacket{
			Hash:         hash[:],
			Data:         data,
			ReceivedAtMs: time.Now().UnixMilli(),
		}, nil
	})
}
