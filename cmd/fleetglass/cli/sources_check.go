package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fleetglass/fleetglass/internal/source"
)

// HealthChecker is the aggregator surface the sources check command needs.
type HealthChecker interface {
	HealthCheckAll(ctx context.Context, useCache bool) map[string]source.HealthStatus
}

// SourceOpsCLI bundles operator commands around configured sources.
type SourceOpsCLI struct {
	checker HealthChecker
}

// NewSourceOpsCLI constructs the CLI around an aggregator.
func NewSourceOpsCLI(checker HealthChecker) (*SourceOpsCLI, error) {
	if checker == nil {
		return nil, errors.New("sources cli: checker is required")
	}
	return &SourceOpsCLI{checker: checker}, nil
}

// SourceCheckOptions defines available flags for the sources check command.
type SourceCheckOptions struct {
	ConfigPath string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SourceCheckSummary describes the JSON response for sources check.
type SourceCheckSummary struct {
	OK        bool                `json:"ok"`
	Healthy   []string            `json:"healthy"`
	Unhealthy []SourceCheckResult `json:"unhealthy"`
}

// SourceCheckResult reports a failing source and its message.
type SourceCheckResult struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// CheckCommand validates the sources configuration, runs an uncached health
// round and prints the outcome. Exit code 10 signals unhealthy sources.
func (c *SourceOpsCLI) CheckCommand(ctx context.Context, opts SourceCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ConfigPath != "" {
		if _, err := source.LoadConfig(opts.ConfigPath); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "sources check: %v\n", err)
			return 1
		}
	}
	statuses := c.checker.HealthCheckAll(ctx, false)
	summary := buildCheckSummary(statuses)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "sources check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderCheckHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildCheckSummary(statuses map[string]source.HealthStatus) SourceCheckSummary {
	summary := SourceCheckSummary{
		Healthy:   make([]string, 0, len(statuses)),
		Unhealthy: make([]SourceCheckResult, 0),
	}
	for name, status := range statuses {
		if status.Healthy {
			summary.Healthy = append(summary.Healthy, name)
			continue
		}
		summary.Unhealthy = append(summary.Unhealthy, SourceCheckResult{
			Source:  name,
			Message: status.Message,
		})
	}
	sort.Strings(summary.Healthy)
	sort.Slice(summary.Unhealthy, func(i, j int) bool {
		return summary.Unhealthy[i].Source < summary.Unhealthy[j].Source
	})
	summary.OK = len(summary.Unhealthy) == 0
	return summary
}

func renderCheckHuman(out io.Writer, summary SourceCheckSummary) {
	if summary.OK {
		_, _ = fmt.Fprintf(out, "All %d source(s) healthy.\n", len(summary.Healthy))
	} else {
		_, _ = fmt.Fprintf(out, "%d source(s) unhealthy:\n", len(summary.Unhealthy))
		for _, result := range summary.Unhealthy {
			_, _ = fmt.Fprintf(out, " - %s: %s\n", result.Source, result.Message)
		}
	}
	for _, name := range summary.Healthy {
		_, _ = fmt.Fprintf(out, " - %s (healthy)\n", name)
	}
}
