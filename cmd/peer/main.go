package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/discovery"
	"github.com/ryandielhenn/zephyrmutex/internal/config"
	"github.com/ryandielhenn/zephyrmutex/internal/logging"
	"github.com/ryandielhenn/zephyrmutex/internal/telemetry"
	"github.com/ryandielhenn/zephyrmutex/pkg/mutex"
	"github.com/ryandielhenn/zephyrmutex/pkg/node"
	"github.com/ryandielhenn/zephyrmutex/pkg/transport/grpcnet"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Must(false).Fatal("invalid configuration", zap.Error(err))
	}
	log := logging.Must(cfg.Debug).With(zap.String("peer", cfg.PeerName))
	telemetry.SetBuildInfo(version, gitSHA)

	if err := run(cfg, log); err != nil {
		log.Error("process stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("shut down")
	log.Sync()
}

func run(cfg config.Peer, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Create etcd client
	log.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
	cli, err := discovery.NewClient(cfg.EtcdEndpoints)
	if err != nil {
		return fmt.Errorf("etcd client: %w", err)
	}
	defer cli.Close()
	reg := discovery.NewEtcd(cli, cfg.LeaseTTL, log.Named("discovery"))
	defer reg.Close()

	// 2. Network transport, registered under the advertised address
	hostname, _ := os.Hostname()
	advertise := node.AdvertiseAddr(cfg.SelfAddr, cfg.AdvertiseAddr, hostname)
	tr := grpcnet.New(reg, grpcnet.Config{
		ListenAddr:    cfg.SelfAddr,
		AdvertiseAddr: advertise,
		GroupSize:     cfg.GroupSize,
		Logger:        log.Named("grpcnet"),
	})
	defer tr.Close()

	// 3. Protocol process; Init below joins and waits for the group
	proc := mutex.New(tr, mutex.Config{
		Group:              cfg.Group,
		ReceiveTimeout:     cfg.ReceiveTimeout,
		MaxHold:            cfg.MaxHold,
		SuspicionThreshold: cfg.SuspicionThreshold,
		Logger:             log.Named("mutex"),
	})

	// 4. Wire up HTTP endpoints, served while the group assembles
	n := node.NewNode(proc, advertise)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: n.Routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := proc.Init(ctx, cfg.PeerName, cfg.Behavior); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	// 5. Log registry changes; the protocol itself only trusts its own view
	go func() {
		for ev := range reg.Watch(ctx, cfg.Group) {
			log.Info("registry change",
				zap.Stringer("event", ev.Type),
				zap.Stringer("member", ev.ID),
				zap.String("addr", ev.Addr),
				zap.Bool("in_view", slices.Contains(proc.Status().All, ev.ID)),
			)
		}
	}()

	// 6. Run until signalled
	return proc.Run(ctx)
}
