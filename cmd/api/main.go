package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/httpapi"
	"salus.clinic/internal/obs"
	"salus.clinic/internal/store/pg"
	"salus.clinic/internal/sync"
	"salus.clinic/internal/tenancy"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.With("main")

	dsn := os.Getenv("SALUS_PG_DSN")
	if dsn == "" {
		log.Fatal().Msg("missing SALUS_PG_DSN")
	}
	provider, err := pg.Open(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open relational store")
	}
	defer provider.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document store: the resolver fallback and the replication feeds. The
	// service still serves already-replicated data when it is absent.
	var docs docstore.Store = docstore.NewMemory()
	var pollers []*docstore.Poller
	if url := os.Getenv("SALUS_DOC_URL"); url != "" {
		surreal, err := docstore.Connect(docstore.Config{
			URL:       url,
			Namespace: envOr("SALUS_DOC_NAMESPACE", "salus"),
			Database:  envOr("SALUS_DOC_DATABASE", "clinic"),
			User:      os.Getenv("SALUS_DOC_USER"),
			Pass:      os.Getenv("SALUS_DOC_PASS"),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("connect document store")
		}
		defer surreal.Close()
		docs = surreal

		interval := pollInterval()
		for table, trigger := range map[string]*sync.Trigger{
			"patient":     sync.NewTrigger(sync.PatientNormalizer{}),
			"appointment": sync.NewTrigger(sync.AppointmentNormalizer{}),
		} {
			poller := docstore.NewPoller(surreal, table, interval)
			pollers = append(pollers, poller)
			go poller.Run(ctx)
			go sync.NewDispatcher(provider, trigger, poller).Run(ctx)
		}
	} else {
		log.Warn().Msg("SALUS_DOC_URL not set, running without document replication")
	}

	api := httpapi.New(provider, tenancy.NewResolver(docs), version)
	srv := &http.Server{
		Addr:              envOr("SALUS_HTTP_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting salus-api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	obs.SetReady(false)
	for _, p := range pollers {
		_ = p.Close()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func pollInterval() time.Duration {
	if v := os.Getenv("SALUS_DOC_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 2 * time.Second
}
