package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"MiniProducts/internal/config"
	"MiniProducts/internal/products"
	"MiniProducts/pkg/kit"
)

const service = "products"

func main() {
	cfg, err := config.Load(config.DefaultFile, config.DefaultEnvFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", service, err)
		os.Exit(1)
	}

	log := kit.NewLogger(service, cfg.Log.Level)
	log.Info("config loaded", zap.Stringer("config", cfg))

	if err := run(cfg, log); err != nil {
		log.Error("service stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("http server stopped")
	_ = log.Sync()
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &products.Server{
		Store: products.NewInstrumentedStore(store, reg),
		Log:   log,
	}

	h := products.NewHandler(s, products.HTTPDeps{
		Log:               log,
		Service:           service,
		Registry:          reg,
		MetricsEnabled:    cfg.Metrics.Enabled,
		MetricsToken:      cfg.Metrics.Token,
		WritesPerMinute:   cfg.RateLimit.WritesPerMinute,
		TrustForwardedFor: cfg.RateLimit.TrustForwarded,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           h,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	if err := kit.RunHTTPServer(ctx, srv, cfg.Server.ShutdownTimeout, log); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (products.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := products.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.ConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using postgres store")
		return products.NewPostgresStore(db), func() { _ = db.Close() }, nil

	default:
		var seed []products.Product
		if cfg.Store.Seed {
			seed = products.SeedProducts()
		}
		log.Info("using memory store", zap.Int("seeded", len(seed)))
		return products.NewMemStore(seed...), func() {}, nil
	}
}
