package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zoff-tech/cart-service/pkg/broker"
	"github.com/zoff-tech/cart-service/pkg/config"
	"github.com/zoff-tech/cart-service/pkg/consumer"
	"github.com/zoff-tech/cart-service/pkg/publisher"
	"github.com/zoff-tech/cart-service/pkg/reconciler"
	"github.com/zoff-tech/cart-service/pkg/store"
	"github.com/zoff-tech/cart-service/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/cart-service")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry()

	// Initialize the repository
	repo, err := store.NewRepository(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize repository: ", err)
	}
	defer repo.Close()

	// Initialize the broker connection manager
	manager, err := broker.NewConnectionManager(ctx, &cfg.Broker)
	if err != nil {
		log.Fatal("Failed to initialize broker connection manager: ", err)
	}
	defer manager.Close()

	// Publisher confirmations flow into the outbox table asynchronously.
	ackReconciler := reconciler.NewAckReconciler(repo)
	manager.NotifyAcks(ackReconciler.HandleAck)

	outboxPublisher := publisher.NewOutboxPublisher(repo, manager, cfg.PollInterval)
	messageConsumer := consumer.NewMessageConsumer(repo, manager, consumer.NewEffectApplier(repo), 1, cfg.ConsumeRetryInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxPublisher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		messageConsumer.Run(ctx)
	}()

	log.Println("cart-service started")
	<-ctx.Done()
	log.Println("cart-service shutting down")
	wg.Wait()
}
