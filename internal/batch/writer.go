package batch

import (
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
)

// ReplayResult is written for every input line.
type ReplayResult struct {
	LineNumber int      `json:"line"`
	EventID    string   `json:"event_id,omitempty"`
	Action     string   `json:"action,omitempty"`
	Severity   string   `json:"severity,omitempty"`
	Violations []string `json:"violations,omitempty"`
	FlagOn     bool     `json:"flag_on"`
	Error      string   `json:"error,omitempty"`
}

type Writer struct {
	encoder *json.Encoder
	logger  *zerolog.Logger
}

func NewWriter(output io.Writer, logger *zerolog.Logger) *Writer {
	return &Writer{encoder: json.NewEncoder(output), logger: logger}
}

func (w *Writer) Write(result ReplayResult) error {
	return w.encoder.Encode(result)
}
