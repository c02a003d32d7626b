// Collector receives events from agents over HTTP, stores them in Postgres,
// pushes them to live websocket observers, and mirrors them to Kafka and
// OTel logs. Set DATABASE_URL; API_KEY, KAFKA_BROKERS, and OTLP_ENDPOINT
// are optional.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devlens/internal/broadcast"
	cacheoprepo "devlens/internal/cacheop/repository"
	"devlens/internal/config"
	"devlens/internal/db"
	eventsrepo "devlens/internal/events/repository"
	httpcallrepo "devlens/internal/httpcall/repository"
	"devlens/internal/ingest"
	"devlens/internal/ingest/handler"
	"devlens/internal/mirror"
	"devlens/internal/observe"
	schedulerepo "devlens/internal/schedule/repository"
	sessionrepo "devlens/internal/session/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("collector: DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observe.NewProviders(ctx, cfg.OTLPEndpoint, "devlens-collector", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("observe: %v", err)
	}
	providers.SetGlobal()

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("db: ensuring schema: %v", err)
	}

	events := eventsrepo.NewPostgresRepository(pool)
	schedules := schedulerepo.NewPostgresRepository(pool)
	httpCalls := httpcallrepo.NewPostgresRepository(pool)
	cacheOps := cacheoprepo.NewPostgresRepository(pool)
	sessions := sessionrepo.NewPostgresRepository(pool)

	var emitters mirror.Multi
	kafkaEmitter := mirror.NewKafkaEmitter(cfg.KafkaBrokersList(), cfg.KafkaTopic)
	if kafkaEmitter != nil {
		defer kafkaEmitter.Close()
		emitters = append(emitters, kafkaEmitter)
		log.Printf("collector: mirroring events to kafka topic %s", cfg.KafkaTopic)
	}
	if cfg.OTLPEndpoint != "" {
		emitters = append(emitters, mirror.NewOTelEmitter(providers.LoggerProvider))
	}
	var emitter mirror.Emitter
	if len(emitters) > 0 {
		emitter = emitters
	}

	hub := broadcast.NewHub()
	router := ingest.NewRouter(events, schedules, httpCalls, cacheOps, sessions)
	svc := ingest.NewService(router, hub, emitter)

	mux := http.NewServeMux()
	handler.New(svc, events, schedules, httpCalls, cacheOps, sessions, cfg.APIKey).Register(mux)
	mux.Handle("GET /ws", broadcast.Handler(hub))

	if cfg.RetentionDays > 0 {
		go sweepRetention(ctx, events, cfg.RetentionDays)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Printf("collector: listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("collector: shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("collector: shutdown: %v", err)
	}
	cancel()

	// Give in-flight async mirror emits time to finish before the providers
	// are flushed.
	time.Sleep(mirror.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("observe: %v", err)
	}
	log.Println("collector: stopped")
}

// sweepRetention deletes generic events older than the retention window,
// once at startup and then hourly.
func sweepRetention(ctx context.Context, events eventsrepo.Repository, days int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		cutoff := time.Now().AddDate(0, 0, -days)
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		deleted, err := events.DeleteOlderThan(sweepCtx, cutoff)
		cancel()
		if err != nil {
			log.Printf("collector: retention sweep: %v", err)
		} else if deleted > 0 {
			log.Printf("collector: retention sweep removed %d events", deleted)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
