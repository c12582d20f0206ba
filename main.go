package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/EricHayter/qnx-rpm-server/config"
	"github.com/EricHayter/qnx-rpm-server/groups"
	"github.com/EricHayter/qnx-rpm-server/history"
	"github.com/EricHayter/qnx-rpm-server/probe"
	"github.com/EricHayter/qnx-rpm-server/registry"
	"github.com/EricHayter/qnx-rpm-server/server"
	"github.com/EricHayter/qnx-rpm-server/telemetry"
)

// Build info
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg := config.Load()

	if _, err := os.Stat(cfg.CredsPath); err != nil {
		log.Fatal(errors.Wrapf(err, "credentials file %s", cfg.CredsPath))
	}

	log.Printf("qnx-rpm-server %s (%s) built on %s", version, commit, date)
	log.Printf("listen: %s", cfg.ListenAddr)
	log.Printf("sample interval: %v", cfg.SampleInterval)

	ncpu, err := probe.NumCPU()
	if err != nil {
		log.Fatal(errors.Wrap(err, "NumCPU"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, telShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatal(errors.Wrap(err, "telemetry setup"))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telShutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	hist := history.New(cfg.HistoryMax, cfg.TrackedMax)

	// groups.New needs the registry, but the registry needs a GroupLookup
	// at construction, so reg is built first with a nil lookup and wired
	// up once grp exists.
	reg := registry.New(ncpu, nil, nil)
	grp := groups.New(reg)
	reg.SetGroupLookup(grp)

	srv := server.New(server.Config{
		ListenAddr:   cfg.ListenAddr,
		CredsPath:    cfg.CredsPath,
		MaxClients:   cfg.MaxClients,
		PollInterval: time.Second,
	}, reg, hist, grp, tel, nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	g.Go(func() error {
		runSampler(gctx, reg, grp, hist, cfg.SampleInterval, tel)
		return nil
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-stop:
		log.Printf("received %v, shutting down", sig)
		cancel()
	case <-gctx.Done():
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// runSampler drives the periodic scan -> group recompute -> history push
// cycle until ctx is canceled.
func runSampler(ctx context.Context, reg *registry.Registry, grp *groups.Index, hist *history.Ring, interval time.Duration, tel *telemetry.Provider) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sample := func() {
		if _, err := reg.Rescan(); err != nil {
			log.Printf("rescan failed: %v", err)
			return
		}
		grp.RecomputeStats()
		for _, rec := range reg.SnapshotAll() {
			hist.Push(rec.PID, rec.CPUPercent, rec.MemoryBytes)
		}
		tel.RescanCounter.Add(ctx, 1)
	}

	sample()
	for {
		select {
		case <-ticker.C:
			sample()
		case <-ctx.Done():
			return
		}
	}
}
