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

	"qms/token-service/internal/config"
	"qms/token-service/internal/httpapi"
	"qms/token-service/internal/hub"
	"qms/token-service/internal/notify"
	"qms/token-service/internal/queue"
	"qms/token-service/internal/stats"
	"qms/token-service/internal/store"
	"qms/token-service/internal/store/memory"
	"qms/token-service/internal/store/postgres"
	"qms/token-service/internal/telemetry"
	"qms/token-service/internal/view"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("token-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer pool.Close()
		st = postgres.NewStore(pool)
	} else {
		log.Printf("DB_DSN not set, using in-memory store")
		st = memory.NewStore()
	}

	ctx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	for _, counter := range cfg.Counters {
		if err := st.EnsureCounter(ctx, counter, cfg.DailyLimit); err != nil {
			log.Fatalf("seed counter %s: %v", counter, err)
		}
	}
	cancelSeed()

	h := hub.New()
	fanout := notify.NewFanout(hub.NewPublisher(h))
	engine := queue.New(st, cfg.HoursPolicy(), fanout, queue.Config{
		Counters:         cfg.Counters,
		SequenceAttempts: cfg.SequenceRetryAttempts,
		SequenceBackoff:  cfg.SequenceRetryBackoff,
		Location:         cfg.Location,
	})
	calc := stats.NewCalculator(st, cfg.StatsSampleSize, cfg.DefaultServiceMinutes, cfg.TrendThreshold)
	snapshots := view.NewBuilder(st, calc, cfg.Location)

	handler := httpapi.NewHandler(engine, snapshots, calc)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.Subscribe(client, nil)
			} else {
				h.Subscribe(client, parsed.Topics)
			}
		}
	}))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "token-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("token-service listening on %s counters=%v", server.Addr, cfg.Counters)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
