// Command bibitewatch watches a Bibites autosave folder and maintains
// per-simulation species and population histories, with an optional HTTP
// endpoint for metrics, lineage queries and table exports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bibitewatch/internal/blob"
	"bibitewatch/internal/config"
	"bibitewatch/internal/export"
	"bibitewatch/internal/metrics"
	"bibitewatch/internal/poller"
	"bibitewatch/internal/registry"
	"bibitewatch/internal/snapshot"
	"bibitewatch/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("bibitewatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultPath, "path to the config file")
	once := fs.Bool("once", false, "run a single poll cycle and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := slog.New(slog.NewJSONHandler(stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(cfg.DataRoot, log)
	if err != nil {
		log.Error("open data root", "error", err)
		return 1
	}
	tables, err := store.Open(ctx, store.Config{Driver: cfg.StoreDriver, PostgresDSN: cfg.PostgresDSN})
	if err != nil {
		log.Error("open table store", "error", err)
		return 1
	}
	defer func() { _ = tables.Close() }()

	artifacts, err := blob.Open(ctx, blob.Config{Driver: cfg.BlobDriver, Root: cfg.BlobRoot})
	if err != nil {
		log.Error("open artifact store", "error", err)
		return 1
	}

	promReg := prometheus.NewRegistry()
	ingest := metrics.New(promReg)
	p := poller.New(poller.Config{
		AutosaveDir: cfg.AutosaveDir,
		Interval:    cfg.Interval,
		Workers:     cfg.Workers,
		LedgerPath:  filepath.Join(reg.Root(), "processed.json"),
	}, snapshot.New(log), reg, tables, ingest, log)

	if *once {
		if err := p.RunOnce(ctx); err != nil {
			log.Error("poll cycle failed", "error", err)
			return 1
		}
		return 0
	}

	exporter := export.NewWorker(tables, artifacts, nil, log)
	exporter.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := exporter.Stop(stopCtx); err != nil {
			log.Warn("export worker did not stop cleanly", "error", err)
		}
	}()

	if cfg.ListenAddr != "" {
		srv := &http.Server{Addr: cfg.ListenAddr, Handler: newMux(reg, p, exporter, promReg)}
		go func() {
			log.Info("http listener started", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http listener failed", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	log.Info("watching autosave folder",
		"dir", cfg.AutosaveDir,
		"interval", cfg.Interval,
		"store", string(cfg.StoreDriver))
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("watcher stopped", "error", err)
		return 1
	}
	return 0
}
