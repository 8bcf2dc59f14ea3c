package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/keycircle/config"
	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/internal/metrics"
	"xdao.co/keycircle/storage/grpcobj"
	"xdao.co/keycircle/storage/registry"

	_ "xdao.co/keycircle/storage/localfs"
	_ "xdao.co/keycircle/storage/sqlitestore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("keycircle-objd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "YAML configuration file (default: local ./keycircle-objects)")
	listen := fs.String("listen", "127.0.0.1:7777", "gRPC listen address")
	httpAddr := fs.String("http", "127.0.0.1:9090", "HTTP listen address for /metrics, /healthz and /manifest")
	backend := fs.String("backend", "", "preferred storage backend name or id")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *listBackends {
		for _, b := range registry.List(registry.UsageDaemon) {
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return nil
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return err
		}
	}
	objs, closeFn, err := cfg.Storage.Open(registry.UsageDaemon, *backend)
	if err != nil {
		return err
	}
	defer closeFn()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := datastore.New(datastore.WithViews(cfg.Views...), datastore.WithLogger(log), datastore.WithMetrics(m))
	report, err := datastore.Load(store, objs)
	if err != nil {
		return err
	}
	log.Info("content store loaded", "objects", store.Len(), "rejected", len(report.Rejected), "manifest", store.ManifestDigest().Hex())
	merging := &mergingStore{ObjectStore: objs, store: store}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		return err
	}
	gs := grpc.NewServer()
	grpcobj.RegisterObjectsServer(gs, &grpcobj.Server{Store: merging, Metrics: m})

	hs := &http.Server{
		Addr:              *httpAddr,
		Handler:           newRouter(reg, merging),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("grpc listening", "addr", lis.Addr().String())
		return gs.Serve(lis)
	})
	g.Go(func() error {
		log.Info("http listening", "addr", hs.Addr)
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		gs.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
