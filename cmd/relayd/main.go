package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pairtalk/pairtalk/internal/access"
	"github.com/pairtalk/pairtalk/internal/identity"
	"github.com/pairtalk/pairtalk/internal/matching"
	"github.com/pairtalk/pairtalk/internal/messaging"
	"github.com/pairtalk/pairtalk/internal/metrics"
	"github.com/pairtalk/pairtalk/internal/moderation"
	"github.com/pairtalk/pairtalk/internal/relay"
	"github.com/pairtalk/pairtalk/internal/service"
	"github.com/pairtalk/pairtalk/internal/session"
	"github.com/pairtalk/pairtalk/internal/store"
	"github.com/pairtalk/pairtalk/internal/store/memory"
	"github.com/pairtalk/pairtalk/internal/store/postgres"
	"github.com/pairtalk/pairtalk/internal/store/redisstore"
	"github.com/pairtalk/pairtalk/internal/transport"
)

func main() {
	log.Println("Starting pairtalk relay service...")

	ctx := context.Background()

	// --- Record store ---
	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	var recorder store.Store
	var err error
	switch backend {
	case "memory":
		recorder = memory.New()
	case "redis":
		redisAddr := "localhost:6379"
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			redisAddr = v
		}
		recorder, err = redisstore.Open(ctx, redisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
	case "postgres":
		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			log.Fatalf("POSTGRES_DSN is required with STORE_BACKEND=postgres")
		}
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		recorder, err = postgres.Open(openCtx, dsn)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
	default:
		log.Fatalf("unknown STORE_BACKEND %q (want memory, redis, or postgres)", backend)
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "pairtalk-relayd"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Core components ---
	var ownerID int64
	if v := os.Getenv("OWNER_ID"); v != "" {
		ownerID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid OWNER_ID %q: %v", v, err)
		}
	}

	ids := identity.NewRegistry(recorder, ownerID)
	gate := access.NewGate(ids)
	sessions := session.NewManager(recorder)
	match := matching.NewMatchmaker(sessions)
	history := relay.NewHistory()
	rel := relay.New(sessions, recorder, history)
	mod := moderation.NewWorkflow(ids, sessions, recorder)
	gateway := transport.NewNATSGateway(natsClient)
	ops := service.NewNATSOpsNotifier(natsClient)

	router := service.NewRouter(ids, gate, match, sessions, rel, mod, history, gateway, ops)

	if err := natsClient.SubscribeCommands(func(data []byte) {
		router.HandleRaw(ctx, data)
	}); err != nil {
		log.Fatalf("failed to subscribe to commands: %v", err)
	}

	// --- Metrics ---
	metricsAddr := ":9100"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[metrics] server stopped: %v", err)
		}
	}()

	log.Printf("pairtalk relay service running")
	log.Printf("  store_backend: %s", backend)
	log.Printf("  nats_url:      %s", natsConfig.URL)
	log.Printf("  metrics_addr:  %s", metricsAddr)
	if ownerID != 0 {
		log.Printf("  owner_id:      %d", ownerID)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	if err := recorder.Close(); err != nil {
		log.Printf("store close: %v", err)
	}
}
