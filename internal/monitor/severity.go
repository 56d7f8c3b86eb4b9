package monitor

import (
	"fmt"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
)

type Metric string

const (
	MetricAccuracy     Metric = "accuracy"
	MetricGrounding    Metric = "grounding"
	MetricRelevance    Metric = "relevance"
	MetricErrorRate    Metric = "error_rate"
	MetricResponseTime Metric = "response_time"
)

// Violation is one (sample, metric) pair that crossed its bound.
type Violation struct {
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
	Bound     float64   `json:"bound"`
	Timestamp time.Time `json:"timestamp"`
}

func (v Violation) String() string {
	switch v.Metric {
	case MetricResponseTime:
		return fmt.Sprintf("High response time: %.2fs > %.2fs", v.Value, v.Bound)
	case MetricErrorRate:
		return fmt.Sprintf("High error rate: %.3f > %.3f", v.Value, v.Bound)
	default:
		return fmt.Sprintf("Low %s: %.3f < %.3f", v.Metric, v.Value, v.Bound)
	}
}

// SeverityRule maps a violation set to a severity when Matches holds.
// Rules are checked in order; the first match wins.
type SeverityRule struct {
	Severity models.Severity
	Matches  func(kinds map[Metric]int, count int) bool
}

// DefaultRules escalates correctness failures (accuracy, grounding) straight to
// CRITICAL regardless of how many other violations there are.
var DefaultRules = []SeverityRule{
	{
		Severity: models.SeverityCritical,
		Matches: func(kinds map[Metric]int, count int) bool {
			return kinds[MetricAccuracy] > 0 || kinds[MetricGrounding] > 0 || count >= 3
		},
	},
	{
		Severity: models.SeverityHigh,
		Matches:  func(_ map[Metric]int, count int) bool { return count >= 2 },
	},
	{
		Severity: models.SeverityMedium,
		Matches:  func(_ map[Metric]int, count int) bool { return count >= 1 },
	},
}

// Classify returns the severity of the violation set, or false when no rule matches.
func Classify(rules []SeverityRule, violations []Violation) (models.Severity, bool) {
	if len(violations) == 0 {
		return models.SeverityLow, false
	}

	kinds := make(map[Metric]int, len(violations))
	for _, v := range violations {
		kinds[v.Metric]++
	}

	for _, rule := range rules {
		if rule.Matches(kinds, len(violations)) {
			return rule.Severity, true
		}
	}
	return models.SeverityLow, false
}
