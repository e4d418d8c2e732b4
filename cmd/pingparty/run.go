package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/pingparty/discovery"
	"github.com/ryandielhenn/pingparty/internal/config"
	"github.com/ryandielhenn/pingparty/internal/logging"
	"github.com/ryandielhenn/pingparty/internal/telemetry"
	"github.com/ryandielhenn/pingparty/pkg/gossip"
	"github.com/ryandielhenn/pingparty/pkg/node"
)

func runNode(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	instance := uuid.NewString()
	log = log.With(zap.String("instance", instance))
	telemetry.SetBuildInfo(version, instance)

	// 1. Bind the socket. Nothing else starts if this fails.
	tr, err := gossip.ListenUDP(ctx, cfg.Node.Bind())
	if err != nil {
		return err
	}
	log.Debug("listening socket has bound", zap.Stringer("local", tr.LocalAddr()))

	opts := []gossip.Option{gossip.WithLogger(log)}

	// 2. Optional etcd mirror of the live peer view.
	var mirror *discovery.Mirror
	if len(cfg.Discovery.Endpoints) > 0 {
		cli, err := discovery.NewClient(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout)
		if err != nil {
			tr.Close()
			return err
		}
		defer cli.Close()
		mirror = discovery.NewMirror(cli, cfg.Discovery.Prefix, instance, tr.LocalAddr().String(), log.Named("discovery"))
		opts = append(opts, gossip.WithObserver(mirror))
	}

	g, err := gossip.New(gossip.Config{
		Frequency: cfg.Node.FrequencyDuration(),
		JitterMin: cfg.Node.JitterMinDuration(),
		JitterMax: cfg.Node.JitterMaxDuration(),
		Broadcast: cfg.Node.Broadcast(),
		HonorStop: cfg.Node.HonorStop,
	}, tr, opts...)
	if err != nil {
		tr.Close()
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 3. Heartbeat loops. A STOP! message ends them and the whole process.
	eg.Go(func() error {
		defer cancel()
		return g.Run(ctx)
	})

	if mirror != nil {
		eg.Go(func() error { return mirror.Run(ctx) })
	}

	// 4. Optional admin HTTP endpoints.
	if cfg.Admin.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           node.NewNode(g, instance).Handler(cfg.Admin.MetricsPath),
			ReadHeaderTimeout: 5 * time.Second,
		}
		eg.Go(func() error {
			log.Info("admin listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = eg.Wait()
	log.Info("pingparty stopped")
	return err
}
