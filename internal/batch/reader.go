package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/rs/zerolog"
)

const maxLineBytes = 1024 * 1024

// InputRecord is one non-blank JSONL line. Error is set when the line could not be parsed.
type InputRecord struct {
	LineNumber int
	Event      models.SampleEvent
	Error      error
}

type Reader struct {
	input  io.Reader
	logger *zerolog.Logger
}

func NewReader(input io.Reader, logger *zerolog.Logger) *Reader {
	return &Reader{input: input, logger: logger}
}

// ReadAll streams records in file order. The channel is closed at EOF, on a read
// error or when ctx is cancelled.
func (r *Reader) ReadAll(ctx context.Context) <-chan InputRecord {
	out := make(chan InputRecord)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r.input)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		line := 0
		for scanner.Scan() {
			line++
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}

			record := InputRecord{LineNumber: line}
			if err := json.Unmarshal(raw, &record.Event); err != nil {
				record.Error = fmt.Errorf("line %d: %w", line, err)
			}

			select {
			case out <- record:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			r.logger.Error().Err(err).Int("line", line).Msg("Failed to read input")
			select {
			case out <- InputRecord{LineNumber: line + 1, Error: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}
