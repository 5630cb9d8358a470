package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/config"
	"github.com/suPer8Hu/community-chat/internal/db"
	"github.com/suPer8Hu/community-chat/internal/realtime"
	"github.com/suPer8Hu/community-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/community-chat/internal/store/redisstore"
	"github.com/suPer8Hu/community-chat/internal/telemetry"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	// Messages sent by the worker reach live sockets through the relay.
	var announcer chat.Announcer
	if cfg.RelayChannel != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rds.Close()
		if err := rds.Ping(context.Background()); err != nil {
			log.Printf("[Worker] redis unavailable, live delivery disabled: %v", err)
		} else {
			announcer = realtime.Announcer{B: rds.NewRelay(cfg.RelayChannel, nil)}
		}
	}

	svc := chat.NewService(repo, announcer, cfg.HistoryPageSize)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTelEndpoint, cfg.OTelServiceName+"-worker")
	if err != nil {
		log.Printf("[Worker] tracing disabled: %v", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	if err := consumer.Run(ctx, svc.ProcessJob); err != nil {
		log.Printf("[Worker] stopped: %v", err)
	}
}
