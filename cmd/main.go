package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"imgbatch/internal/imageproc"
	"imgbatch/internal/models"
	"imgbatch/internal/notify"
	"imgbatch/internal/server"
	"imgbatch/internal/storage"
	"imgbatch/internal/worker"
)

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := storage.NewStorage(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer db.Close()

	// Kafka producer
	producer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{cfg.KafkaBroker},
		Topic:   cfg.KafkaTopic,
	})

	dispatcher := notify.NewDispatcher()
	orchestrator := worker.New(db, imageproc.NewClient(), dispatcher, cfg.JPEGQuality)

	// Start batch consumer in background. The consumer group hands each
	// message to a single member, so one worker owns a request's full run.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		consumer := kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.KafkaBroker},
			Topic:   cfg.KafkaTopic,
			GroupID: "image-batch-workers",
		})
		defer consumer.Close()

		for {
			msg, err := consumer.ReadMessage(ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				log.Printf("error reading message: %v", err)
				continue
			}
			if err := orchestrator.Run(ctx, string(msg.Value)); err != nil {
				log.Printf("error processing batch: %v", err)
			}
		}
	}()

	srv := server.NewServer(cfg, db, server.NewKafkaQueue(producer), dispatcher)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	producer.Close()
}
