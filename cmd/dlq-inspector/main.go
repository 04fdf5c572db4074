// Package main implements dlq-inspector, an operator CLI that drains
// messages from the failed queue and prints them as JSON lines.
//
// The failed queue holds two kinds of message: failure records written by
// the workers (they carry original_message) and the raw payloads the broker
// dead-lettered after a reject or TTL expiry.
//
// Usage:
//
//	go run ./cmd/dlq-inspector                 # print up to 10, requeue them
//	go run ./cmd/dlq-inspector -max=100 -ack   # print and remove
//	go run ./cmd/dlq-inspector -republish      # replay dead letters to the exchange
//
// Without -ack or -republish every message is nacked with requeue, so
// inspecting is non-destructive.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"courier/internal/app"
	"courier/internal/queue"
)

func main() {
	maxFlag := flag.Int("max", 10, "Maximum number of messages to read")
	ackFlag := flag.Bool("ack", false, "Remove the messages after printing")
	republishFlag := flag.Bool("republish", false, "Re-publish dead-lettered envelopes to the exchange, then remove them")
	queueFlag := flag.String("queue", "", "Queue to drain (default RABBITMQ_FAILED_QUEUE)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dlq-inspector [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Print messages from the failed queue as JSON lines.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	mode, err := modeFromFlags(*ackFlag, *republishFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if *maxFlag < 1 {
		fmt.Fprintf(os.Stderr, "error: -max must be at least 1\n")
		os.Exit(2)
	}

	if err := run(mode, *maxFlag, *queueFlag, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(mode Mode, limit int, queueName string, out io.Writer) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLoggerTo(os.Stderr, cfg.LogLevel)
	if queueName == "" {
		queueName = cfg.RabbitMQ.FailedQueue
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cm, err := app.ConnectBroker(ctx, cfg.RabbitMQ, logger)
	if err != nil {
		return err
	}
	defer cm.Close()

	ch, err := cm.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	publisher := queue.NewPublisher(cm, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.PublishTimeout, logger)
	defer publisher.Close()

	summary, err := NewInspector(ch, publisher, queueName, out, logger).Drain(ctx, limit, mode)
	logger.Info("inspection finished",
		"queue", queueName,
		"mode", mode.String(),
		"read", summary.Read,
		"acked", summary.Acked,
		"requeued", summary.Requeued,
		"republished", summary.Republished,
	)
	return err
}

func modeFromFlags(ack, republish bool) (Mode, error) {
	switch {
	case ack && republish:
		return ModePeek, fmt.Errorf("-ack and -republish are mutually exclusive")
	case republish:
		return ModeRepublish, nil
	case ack:
		return ModeAck, nil
	default:
		return ModePeek, nil
	}
}
