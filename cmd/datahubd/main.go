// Command datahubd runs the dataset access-permission control plane: it
// opens the configured catalog and lock backends, wires the provider
// clients and serves the metrics, health and lock-diagnostics endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"datahub/internal/config"
	"datahub/internal/core"
	"datahub/internal/infra/awsclients"
	"datahub/pkg/domain"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(os.Getenv("DATAHUB_LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("datahubd failed")
	}
}

func run(log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	catalog, closer, err := cfg.OpenCatalogStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close catalog store")
		}
	}()

	awsCfg, err := awsclients.LoadConfig(ctx, cfg.Region)
	if err != nil {
		return err
	}
	lockStore, err := cfg.OpenLockStore(ctx, awsCfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := awsclients.NewAssumeRoleGlueFactory(awsCfg, cfg.MetadataRole)
	var notifier domain.NotificationSink = nopNotifier{}
	if cfg.TopicARN != "" {
		notifier = awsclients.NewNotifier(awsCfg, cfg.TopicARN)
	}

	svc := core.NewService(core.Deps{
		Datasets:    catalog,
		Resources:   catalog,
		Accounts:    catalog,
		LockStore:   lockStore,
		Buckets:     awsclients.NewBuckets(awsCfg),
		Databases:   awsclients.NewDatabases(awsCfg, cfg.AccountID, factory),
		Links:       awsclients.NewResourceLinks(factory),
		Shares:      awsclients.NewShares(awsCfg),
		FineGrained: awsclients.NewFineGrained(awsCfg),
		Notifier:    notifier,
		Storage: core.StorageConfig{
			NamePrefix:      cfg.NamePrefix,
			AccessLogBucket: cfg.AccessLogBucket,
		},
		DatabasePrefix: strings.ReplaceAll(cfg.NamePrefix, "-", "_"),
	}, log, core.NewMetrics(registry))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/locks", func(w http.ResponseWriter, r *http.Request) {
		locks, err := svc.Locks.HeldLocks(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(locks); err != nil {
			log.Error().Err(err).Msg("failed to write lock listing")
		}
	})
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// nopNotifier stands in when no topic is configured.
type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, domain.EntityType, domain.Operation, any) error {
	return nil
}
