package main

import (
	"flag"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mevton/blockengine/blockenginepb"
	"github.com/mevton/blockengine/internal/config"
	"github.com/mevton/blockengine/internal/fakeengine"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	log := logrus.New()
	if err := config.LoadEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(cfg.LogLevel)

	svr := grpc.NewServer()
	blockenginepb.RegisterBlockEngineValidatorServer(svr, fakeengine.NewServer(fakeengine.Options{
		Log:         log,
		AccessToken: cfg.AccessToken,
		Feed:        fakeengine.TickerFeed(cfg.BundleInterval, cfg.BundleCount),
	}))
	healthpb.RegisterHealthServer(svr, health.NewServer())

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal(err)
	}
	log.WithField("addr", lis.Addr().String()).Info("fake block engine listening")
	// This only returns (and thus program exits) on failure.
	// Otherwise, process is stopped via signal.
	if err := svr.Serve(lis); err != nil {
		log.Fatal(err)
	}
}
