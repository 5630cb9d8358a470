package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/config"
	"github.com/suPer8Hu/community-chat/internal/db"
	"github.com/suPer8Hu/community-chat/internal/httpapi"
	"github.com/suPer8Hu/community-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/community-chat/internal/models"
	"github.com/suPer8Hu/community-chat/internal/realtime"
	"github.com/suPer8Hu/community-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/community-chat/internal/store/redisstore"
	"github.com/suPer8Hu/community-chat/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err := gdb.AutoMigrate(append([]any{&models.User{}}, chat.AllModels()...)...); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTelEndpoint, cfg.OTelServiceName)
	if err != nil {
		log.Printf("[Server] tracing disabled: %v", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	reg := realtime.NewRegistry()
	var deps handlers.Deps

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	if err := rds.Ping(ctx); err != nil {
		log.Printf("[Server] redis unavailable, relay and rate limit disabled: %v", err)
	} else {
		deps.Limiter = rds.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow)
		if cfg.RelayChannel != "" {
			relay := rds.NewRelay(cfg.RelayChannel, reg)
			deps.Broadcaster = relay
			go relay.Serve(ctx, 2*time.Second)
		}
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("[Server] rabbit unavailable, async sends disabled: %v", err)
	} else {
		defer pub.Close()
		deps.Rabbit = pub
	}

	r := httpapi.NewRouter(gdb, cfg, reg, deps)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(r, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[Server] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Server] shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	// hijacked websocket connections are not tracked by Shutdown
	reg.Close()
}
