package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mevton/blockengine"
	"github.com/mevton/blockengine/internal/config"
	"github.com/mevton/blockengine/internal/traffic"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	endpoint := flag.String("endpoint", "", "block engine endpoint; overrides the config file")
	flag.Parse()

	log := logrus.New()
	if err := config.LoadEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	log.SetLevel(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// run returns instead of exiting so the deferred cleanup always happens.
func run(cfg config.Client, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []blockengine.SessionOption{blockengine.WithLogger(log)}
	if cfg.AccessToken != "" {
		opts = append(opts, blockengine.WithAccessToken(cfg.AccessToken))
	} else {
		log.Warnf("%s is not set; connecting anonymously", config.EnvAccessToken)
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	sess, err := blockengine.Connect(dialCtx, cfg.Endpoint, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = sess.Close()
	}()
	log.WithField("endpoint", sess.Endpoint()).Info("session established")

	// Other services on the same connection get the session's credential too.
	hc, err := healthpb.NewHealthClient(sess.Channel()).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.WithError(err).Warn("health check failed")
	} else {
		log.WithField("status", hc.GetStatus().String()).Info("block engine health")
	}

	stats, err := traffic.Run(ctx, sess, cfg.Traffic, log)
	log.WithFields(logrus.Fields{
		"sent":     stats.Sent,
		"received": stats.Received,
	}).Info("traffic finished")
	return err
}
