// Package report summarizes the governance state of a running engine:
// registered definitions, tracked resources and security policy counters.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/harun/toolguard/pkg/resources"
	"github.com/harun/toolguard/pkg/security"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

// Sources are the components a report reads. Nil sources are skipped.
type Sources struct {
	Registry  *toolexecutor.Registry
	Policy    *security.Policy
	Resources *resources.Manager
}

// Report is a point-in-time governance summary
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Functions   int                `json:"functions"`
	Tools       int                `json:"tools"`
	Resources   resources.Snapshot `json:"resources"`
	Security    security.Stats     `json:"security"`
}

// Collect builds a report from src
func Collect(src Sources, now time.Time) Report {
	r := Report{GeneratedAt: now}
	if src.Registry != nil {
		r.Functions = src.Registry.FunctionCount()
		r.Tools = src.Registry.ToolCount()
	}
	if src.Resources != nil {
		r.Resources = src.Resources.Metrics()
	}
	if src.Policy != nil {
		r.Security = src.Policy.Stats()
	}
	return r
}

// CacheHitRatio is hits over lookups, 0 without lookups
func (r Report) CacheHitRatio() float64 {
	total := r.Security.CacheHits + r.Security.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(r.Security.CacheHits) / float64(total)
}

// Log writes the report as one structured event
func (r Report) Log(logger zerolog.Logger) {
	byType := zerolog.Dict()
	for t, n := range r.Resources.ByType {
		byType.Int(string(t), n)
	}

	logger.Info().
		Int("functions", r.Functions).
		Int("tools", r.Tools).
		Int("resources", r.Resources.Total).
		Dict("resources_by_type", byType).
		Dur("resources_avg_idle", r.Resources.AverageIdle).
		Int64("cleanup_failures", r.Resources.CleanupFailures).
		Int64("cache_hits", r.Security.CacheHits).
		Int64("cache_misses", r.Security.CacheMisses).
		Int64("rate_limited", r.Security.RateLimited).
		Msg("Governance report")
}

// WriteText renders the report for terminals
func (r Report) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Generated:   %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Functions:   %d\n", r.Functions)
	fmt.Fprintf(&b, "Tools:       %d\n", r.Tools)
	fmt.Fprintf(&b, "Resources:   %s", humanize.Comma(int64(r.Resources.Total)))
	if len(r.Resources.ByType) > 0 {
		types := make([]string, 0, len(r.Resources.ByType))
		for t, n := range r.Resources.ByType {
			types = append(types, fmt.Sprintf("%s=%d", t, n))
		}
		sort.Strings(types)
		fmt.Fprintf(&b, " (%s)", strings.Join(types, ", "))
	}
	b.WriteString("\n")
	if r.Resources.Total > 0 {
		fmt.Fprintf(&b, "Avg idle:    %s\n", r.Resources.AverageIdle.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Cleanups:    %s ok, %s failed\n",
		humanize.Comma(r.Resources.CleanupSuccesses),
		humanize.Comma(r.Resources.CleanupFailures))
	fmt.Fprintf(&b, "Decisions:   %s cached, %s hits, %s misses (%.0f%% hit)\n",
		humanize.Comma(int64(r.Security.CacheSize)),
		humanize.Comma(r.Security.CacheHits),
		humanize.Comma(r.Security.CacheMisses),
		r.CacheHitRatio()*100)
	fmt.Fprintf(&b, "Rate limited: %s\n", humanize.Comma(r.Security.RateLimited))

	_, err := io.WriteString(w, b.String())
	return err
}
