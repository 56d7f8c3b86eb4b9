package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/batch"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/bypass"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/config"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/flags"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/ingest"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/scoring"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service"
	applog "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/setup/logger"
	"github.com/rs/zerolog/log"
)

func main() {
	startTime := time.Now()

	input := flag.String("input", "", "Input JSONL file of sample events ('-' for stdin)")
	output := flag.String("output", "", "Output JSONL file (default: stdout)")
	summaryFile := flag.String("summary", "", "Optional separate summary file")
	policyPath := flag.String("policy", "", "Threshold policy YAML (default: GUARDRAIL_POLICY_PATH)")
	flag.Parse()

	_ = godotenv.Load()
	logger := applog.New(os.Getenv("LOG_LEVEL"), "console")

	if *input == "" {
		log.Fatal().Msg("required flag -input not provided")
	}
	if *policyPath != "" {
		os.Setenv("GUARDRAIL_POLICY_PATH", *policyPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadGuardrailConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load guardrail config")
	}

	var in io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatal().Err(err).Str("file", *input).Msg("Failed to open input file")
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatal().Err(err).Str("file", *output).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	// Transcript scoring stays off: replays must be deterministic and free.
	clock := batch.NewReplayClock(time.Time{})
	svc := service.NewGuardrailService(ctx, service.Options{
		Policy:       cfg.Policy,
		Clock:        clock,
		Detector:     bypass.NewDetector(cfg.Bypass.Phrase),
		SafeResponse: cfg.Bypass.SafeResponse,
		Flags:        flags.NewMemoryController(true),
	}, &logger)
	pipeline := ingest.NewPipeline(scoring.NewNormalizer(nil, clock, &logger), svc, &logger)

	records := batch.NewReader(in, &logger).ReadAll(ctx)
	summary, err := batch.NewReplayer(pipeline, clock, &logger).Replay(ctx, records, batch.NewWriter(out, &logger))
	if err != nil {
		log.Fatal().Err(err).Msg("Replay failed")
	}

	log.Info().
		Int("lines", summary.Lines).
		Int("ingested", summary.Ingested).
		Int("rejected", summary.Rejected).
		Int("parse_errors", summary.ParseErrors).
		Int("disables", summary.Disables).
		Int("first_disable_line", summary.FirstDisableLine).
		Str("final_state", summary.FinalState).
		Dur("duration", time.Since(startTime)).
		Msg("Replay complete")

	if *summaryFile != "" {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to marshal summary")
		}
		if err := os.WriteFile(*summaryFile, data, 0o644); err != nil {
			log.Fatal().Err(err).Str("file", *summaryFile).Msg("Failed to write summary")
		}
		log.Info().Str("file", *summaryFile).Msg("Summary written")
	}
}
