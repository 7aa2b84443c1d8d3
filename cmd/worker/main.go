package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civigraph/atlas/internal/queue"
	"github.com/civigraph/atlas/internal/storage"
	"github.com/civigraph/atlas/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/civigraph/atlas/pkg/enrich"
	olenrich "github.com/civigraph/atlas/pkg/enrich/ollama"
	oenrich "github.com/civigraph/atlas/pkg/enrich/openai"
	"github.com/civigraph/atlas/pkg/enrich/wiki"
	"github.com/civigraph/atlas/pkg/graph"
	"github.com/civigraph/atlas/pkg/leaselock"
	"github.com/civigraph/atlas/pkg/logger"
	"github.com/civigraph/atlas/pkg/logger/console"
	pgxstore "github.com/civigraph/atlas/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	client := storage.NewS3Client(ctx)

	// Enricher
	adapter := util.GetEnv("ENRICH_ADAPTER")
	var enricher enrich.Enricher

	switch adapter {
	case "openai":
		enricher = oenrich.NewEnricher(oenrich.NewEnricherParams{
			Model:   util.GetEnv("ENRICH_MODEL"),
			BaseURL: util.GetEnv("ENRICH_URL"),
			APIKey:  util.GetEnv("ENRICH_KEY"),
		})
	case "ollama":
		ollamaEnricher, err := olenrich.NewEnricher(olenrich.NewEnricherParams{
			Model:                 util.GetEnv("ENRICH_MODEL"),
			BaseURL:               util.GetEnv("ENRICH_URL"),
			APIKey:                util.GetEnv("ENRICH_KEY"),
			MaxConcurrentRequests: int64(util.GetEnvNumeric("ENRICH_MAX_CONCURRENT", 1)),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama enricher", "err", err)
		}
		enricher = ollamaEnricher
	case "none":
		enricher = nil
	default:
		enricher = wiki.NewEnricher(wiki.NewEnricherParams{
			Endpoint: util.GetEnv("WIKIDATA_URL"),
		})
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	// Graph engine
	engine := graph.NewEngine(graph.NewEngineParams{
		Docs:       pgxstore.NewDocStore(pgConn),
		Enricher:   enricher,
		MaxRetries: int(util.GetEnvNumeric("ENRICH_MAX_RETRIES", 3)),
	})
	if err := engine.Load(ctx); err != nil {
		logger.Fatal("Failed to load entity registry", "err", err)
	}
	logger.Info("Entity registry loaded", "entities", engine.Entities().Count())

	locker := leaselock.New(pgConn)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := queue.WorkQueues()
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	logger.Info("Listening for messages")

	// Create a single consumer channel with prefetch=1
	// This ensures only ONE message is delivered at a time across all queues
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.IngestQueue:
					processingErr = queue.ProcessIngestMessage(ctx, client, engine, ch, string(qm.msg.Body))
				case queue.ReconcileQueue:
					processingErr = queue.ProcessReconcileMessage(ctx, engine, locker, string(qm.msg.Body))
				}

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					err = qm.msg.Ack(false)
					if err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				processingDuration := time.Since(startTime)
				hours := int(processingDuration.Hours())
				minutes := int(processingDuration.Minutes()) % 60
				seconds := int(processingDuration.Seconds()) % 60
				logger.Info(
					"Processing time",
					"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
				)
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// If message has been retried 10 times, send to dead-letter
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "text/plain",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
