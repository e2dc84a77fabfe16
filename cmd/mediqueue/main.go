package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediqueue/internal/config"
	"mediqueue/internal/httpapi"
	"mediqueue/internal/models"
	"mediqueue/internal/store"
	"mediqueue/internal/store/memory"
	"mediqueue/internal/store/postgres"
	"mediqueue/internal/telemetry"
	"mediqueue/internal/throttle"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	shutdownTracing := telemetry.Setup("mediqueue", cfg.OTLPEndpoint, cfg.OTLPInsecure)

	ticketStore, closeStore := newTicketStore(cfg)
	defer closeStore()

	gate := newThrottleGate(cfg)

	handler := httpapi.NewHandler(ticketStore, httpapi.Options{
		RecapLimit: cfg.RecapLimit,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	defer limiter.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())

	chain := httpapi.AuthMiddleware(ticketStore, httpapi.ThrottleMiddleware(gate, mux))
	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(chain)), "mediqueue")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("mediqueue listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sweepDone := make(chan struct{})
	if memGate, ok := gate.(*throttle.MemoryGate); ok && cfg.ThrottleSweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.ThrottleSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					memGate.Sweep()
				case <-sweepDone:
					return
				}
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	close(sweepDone)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}
}

func newTicketStore(cfg config.Config) (store.TicketStore, func()) {
	if cfg.DatabaseURL == "" {
		log.Printf("DB_DSN not set, using in-memory store")
		return seededMemoryStore(), func() {}
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return postgres.NewStore(pool), pool.Close
}

func newThrottleGate(cfg config.Config) throttle.Gate {
	if cfg.RedisAddr == "" {
		return throttle.NewMemoryGate(cfg.ThrottleCooldown)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return throttle.NewRedisGate(client, cfg.ThrottleCooldown)
}

// seededMemoryStore backs local development: one area with three rooms and
// a staff session so every endpoint is reachable out of the box.
func seededMemoryStore() *memory.Store {
	s := memory.NewStore()

	areaID := uuid.NewString()
	s.AddArea(models.Area{AreaID: areaID, Name: "General"})
	for i := 1; i <= 3; i++ {
		roomID := uuid.NewString()
		s.AddRoom(models.Room{RoomID: roomID, AreaID: areaID, Number: i})
		log.Printf("seeded room area=%s room=%s number=%d", areaID, roomID, i)
	}

	token := os.Getenv("DEV_STAFF_TOKEN")
	if token == "" {
		token = uuid.NewString()
	}
	s.AddSession(store.Session{
		SessionID: token,
		UserID:    uuid.NewString(),
		Staff:     true,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	})
	log.Printf("seeded staff session token=%s", token)
	return s
}
