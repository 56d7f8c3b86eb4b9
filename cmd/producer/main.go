package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	red "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/redis"
	streamredis "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/stream/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	data := flag.String("d", "", "Inline JSON SampleEvent")
	file := flag.String("f", "", "JSONL file of SampleEvents ('-' for stdin)")
	stream := flag.String("stream", streamredis.DefaultStream, "Stream name")
	stamp := flag.Bool("now", true, "Set missing timestamps to the publish time")
	flag.Parse()

	if *data == "" && *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: producer -d '<json>' | -f samples.jsonl")
		flag.PrintDefaults()
		os.Exit(1)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := run(*data, *file, *stream, *stamp); err != nil {
		log.Error().Err(err).Msg("producer failed")
		os.Exit(1)
	}
}

func run(data, file, stream string, stamp bool) error {
	_ = godotenv.Load()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx := context.Background()
	client, err := red.Connect(ctx, red.ConnectionConfig{
		Addr:       addr,
		Password:   os.Getenv("REDIS_PASSWORD"),
		MaxRetries: 3,
	}, &log.Logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if data != "" {
		return publish(ctx, client, stream, []byte(data), stamp)
	}

	var in io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	published := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := publish(ctx, client, stream, scanner.Bytes(), stamp); err != nil {
			return err
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	log.Info().Str("stream", stream).Int("published", published).Msg("Published successfully!")
	return nil
}

func publish(ctx context.Context, client *redis.Client, stream string, raw []byte, stamp bool) error {
	var event models.SampleEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("invalid sample event: %w", err)
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if stamp && event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{streamredis.PayloadField: string(payload)},
	}).Result()
	if err != nil {
		return err
	}

	log.Info().Str("stream", stream).Str("id", id).Str("event_id", event.EventID).Msg("Sample published")
	return nil
}
