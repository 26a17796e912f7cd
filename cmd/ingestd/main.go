package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleet-telemetry/internal/analytics"
	"fleet-telemetry/internal/auth"
	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/metrics"
	"fleet-telemetry/internal/pipeline"
	"fleet-telemetry/internal/store"
	transporthttp "fleet-telemetry/internal/transport/http"
	"fleet-telemetry/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("ingestd stopped with error: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pg.Close()

	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	orchestrator := pipeline.NewOrchestrator(pipeline.Stores{
		Vehicles:   pg,
		Gps:        pg,
		Routes:     pg,
		Violations: pg,
		Counters:   pg,
		Obd:        pg,
		Fuel:       pg,
	}, rdb, pipeline.Options{
		GpsRetentionLimit:  cfg.GpsRetentionLimit,
		SpeedLimitKmh:      cfg.SpeedLimitKmh,
		IdleWindow:         time.Duration(cfg.IdleWindowSeconds) * time.Second,
		IdleSpeedKmh:       cfg.IdleSpeedKmh,
		FuelTheftTolerance: cfg.FuelTheftTolerance,
	})

	analyticsSvc := analytics.NewService(pg, pg, pg)
	handlers := transporthttp.NewHandlers(orchestrator, analyticsSvc, pg)
	authMw := transporthttp.NewAuthMiddleware(auth.NewAuthenticator(cfg, rdb))
	feed := ws.NewViolationFeed(rdb)

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/telemetry", authMw.Wrap(http.HandlerFunc(handlers.HandleTelemetry)))
	mux.HandleFunc("GET /api/v1/vehicles/{id}/violations", handlers.HandleViolations)
	mux.HandleFunc("GET /api/v1/vehicles/{id}/fuel", handlers.HandleFuelAnalytics)
	mux.HandleFunc("GET /api/v1/vehicles/{id}/analytics", handlers.HandleVehicleAnalytics)
	mux.HandleFunc("GET /api/v1/routes/{id}/progress", handlers.HandleRouteProgress)
	mux.HandleFunc("GET /ws/violations", feed.HandleFeed)
	mux.HandleFunc("GET /metrics", metrics.HandleMetrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Ping(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()); err != nil {
			http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		log.Printf("ingestd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
