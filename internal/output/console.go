// Package output renders loadctl results for people and machines.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/assertion"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/engine"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/schedule"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/selector"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	rule = "━"
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer   io.Writer
	NoColor  bool
	ForceTTY bool
}

// Console writes human readable summaries and, on terminals, live progress.
type Console struct {
	w       io.Writer
	colors  *ColorScheme
	noColor bool
	isTTY   bool

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console writer. Colors are disabled when NoColor is
// set or the writer is not a color-capable terminal.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	isTTY := cfg.ForceTTY || IsTerminal(cfg.Writer)
	noColor := cfg.NoColor || !isTTY || !SupportsColors()

	colors := DefaultColorScheme()
	if noColor {
		colors = NoColorScheme()
	}

	return &Console{
		w:       cfg.Writer,
		colors:  colors,
		noColor: noColor,
		isTTY:   isTTY,
	}
}

func (c *Console) writeln(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) header(title, status string) {
	line := strings.Repeat(rule, 56)
	c.writeln("%s", c.colors.Title.Sprint(line))
	if status != "" {
		c.writeln("%s - %s", c.colors.Label.Sprint(title), status)
	} else {
		c.writeln("%s", c.colors.Label.Sprint(title))
	}
	c.writeln("%s", c.colors.Title.Sprint(line))
}

// PrintSelection prints an executor selection with the metrics behind it.
func (c *Console) PrintSelection(testID string, sel selector.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.header(testID, "")
	c.printSelection(sel)
}

func (c *Console) printSelection(sel selector.Result) {
	c.writeln("Strategy:      %s (confidence %.2f)", c.colors.Strategy.Sprint(sel.Strategy), sel.Confidence)
	c.writeln("Reason:        %s", sel.Reason)
	m := sel.Metrics
	c.writeln("  VUs:                 %d", m.RequestCount)
	c.writeln("  Total requests:      %s", formatNumber(int64(m.TotalRequests)))
	c.writeln("  Pattern complexity:  %d", m.LoadPatternComplexity)
	c.writeln("  Test complexity:     %d", m.TestComplexity)
	c.writeln("  Estimated duration:  %s", formatDuration(m.EstimatedDuration))
	c.writeln("")
}

// PrintPlan prints a dry-run plan.
func (c *Console) PrintPlan(p *engine.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.header(p.TestID, c.colors.Dim.Sprint("dry run"))
	c.printSelection(p.Selection)

	if len(p.Tests) == 0 {
		c.printSchedule("", p.Schedule)
		return
	}

	c.writeln("%s", c.colors.Label.Sprint("Batch tests:"))
	for _, t := range p.Tests {
		deps := ""
		if len(t.Dependencies) > 0 {
			deps = " after " + strings.Join(t.Dependencies, ", ")
		}
		c.writeln("  %s  %s%s", c.colors.Highlight.Sprint(t.TestID), c.colors.Strategy.Sprint(t.Selection.Strategy), deps)
		c.printSchedule("    ", t.Schedule)
	}
}

func (c *Console) printSchedule(indent string, s schedule.Schedule) {
	c.writeln("%sSchedule:  %s requests over %s (%s)", indent,
		formatNumber(int64(s.Len())), formatDuration(s.Span()), s.Pattern)
	for _, ph := range s.Phases {
		c.writeln("%s  %-12s starts %-8s %s requests", indent, ph.Name, formatDuration(ph.Start), formatNumber(int64(ph.Count)))
	}
	c.writeln("")
}

// Progress redraws the live view of a running test. It does nothing when the
// console is not attached to a terminal.
func (c *Console) Progress(testID string, snap metrics.Snapshot) {
	if !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := []string{
		fmt.Sprintf("%s  %s elapsed", c.colors.Highlight.Sprint(testID), formatDuration(snap.Elapsed)),
		fmt.Sprintf("  Requests: %s  In flight: %d  RPS: %s",
			c.colors.Value.Sprint(formatNumber(snap.TotalRequests)),
			snap.InFlight,
			c.colors.Success.Sprintf("%.1f", snap.RPS)),
		fmt.Sprintf("  Errors: %s  P95: %s  Avg: %s",
			c.colors.rateColor(snap.ErrorRate).Sprintf("%d (%s)", snap.FailedRequests, formatPercent(snap.ErrorRate)),
			snap.Latency.P95, snap.Latency.Mean),
	}
	for _, line := range lines {
		c.writeln("%s", line)
	}
	c.linesOutput = len(lines)
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	fmt.Fprintf(c.w, cursorUp, c.linesOutput)
	for i := 0; i < c.linesOutput; i++ {
		fmt.Fprint(c.w, clearLine+"\n")
	}
	fmt.Fprintf(c.w, cursorUp, c.linesOutput)
	c.linesOutput = 0
}

// PrintReport prints the final summary of a run.
func (c *Console) PrintReport(rep *engine.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	status := c.colors.Success.Sprint("Passed " + SuccessIcon(true))
	switch {
	case rep.Error != "":
		status = c.colors.Error.Sprint("Error " + ErrorIcon(true))
	case !rep.Passed():
		status = c.colors.Error.Sprint("Failed " + ErrorIcon(true))
	}

	title := rep.Name
	if title == "" {
		title = rep.TestID
	}
	c.writeln("")
	c.header(title, status)
	c.writeln("Run:           %s", rep.RunID)
	strategy := string(rep.ExecutedBy)
	if rep.ExecutedBy != rep.Selection.Strategy {
		strategy = fmt.Sprintf("%s (selected %s)", rep.ExecutedBy, rep.Selection.Strategy)
	}
	c.writeln("Strategy:      %s", c.colors.Strategy.Sprint(strategy))
	c.writeln("Duration:      %s", c.colors.Value.Sprint(formatDuration(rep.Duration)))
	c.writeln("")

	c.printMetrics(rep.Metrics)

	if rep.Run != nil {
		c.printRequests(rep.Run.Requests)
	}

	if rep.Batch != nil {
		c.printBatch(rep.Batch)
	}

	if len(rep.Assertions) > 0 {
		c.writeln("%s", c.colors.Label.Sprint("Assertions:"))
		c.printAssertions("  ", rep.Assertions)
		c.writeln("")
	}

	c.printAnalysis(rep)

	if len(rep.Warnings) > 0 {
		c.writeln("%s", c.colors.Label.Sprint("Warnings:"))
		for _, w := range rep.Warnings {
			c.writeln("  %s %s", WarningIcon(c.noColor), w)
		}
		c.writeln("")
	}

	if rep.ArchivedSamples > 0 {
		c.writeln("Archived %s samples", formatNumber(int64(rep.ArchivedSamples)))
	}
	if rep.Error != "" {
		c.writeln("%s %s", ErrorIcon(c.noColor), c.colors.Error.Sprint(rep.Error))
	}
}

func (c *Console) printMetrics(m metrics.AggregatedMetrics) {
	c.writeln("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(m.TotalRequests)))
	c.writeln("Success Rate:  %s", c.colors.rateColor(m.ErrorRate).Sprint(formatPercent(m.SuccessRate())))
	c.writeln("Throughput:    %.1f req/s, %.0f B/s", m.Throughput.RequestsPerSecond, m.Throughput.BytesPerSecond)
	c.writeln("")

	if m.TotalRequests == 0 {
		return
	}
	c.writeln("%s", c.colors.Label.Sprint("Latency Distribution:"))
	c.writeln("  Min:       %s", formatMs(m.Latency.Min))
	c.writeln("  Avg:       %s", formatMs(m.Latency.Avg))
	c.writeln("  P50:       %s", formatMs(m.Latency.P50))
	c.writeln("  P90:       %s", formatMs(m.Latency.P90))
	c.writeln("  P95:       %s", formatMs(m.Latency.P95))
	c.writeln("  P99:       %s", formatMs(m.Latency.P99))
	c.writeln("  Max:       %s", formatMs(m.Latency.Max))
	if ttfb := m.TimeToFirstByte; ttfb != nil {
		c.writeln("  TTFB P50:  %s", formatMs(ttfb.P50))
		c.writeln("  TTFB P95:  %s", formatMs(ttfb.P95))
	}
	c.writeln("")
}

// printRequests lists the per-request breakdown by name.
func (c *Console) printRequests(requests map[string]metrics.LatencyStats) {
	if len(requests) == 0 {
		return
	}
	names := make([]string, 0, len(requests))
	for name := range requests {
		names = append(names, name)
	}
	sort.Strings(names)

	c.writeln("%s", c.colors.Label.Sprint("Requests:"))
	for _, name := range names {
		r := requests[name]
		c.writeln("  %-20s %8s reqs  p50 %-9s p95 %-9s p99 %s",
			name, formatNumber(r.Count), durationMs(r.P50), durationMs(r.P95), durationMs(r.P99))
	}
	c.writeln("")
}

func durationMs(d time.Duration) string {
	return formatMs(float64(d) / float64(time.Millisecond))
}

func (c *Console) printBatch(b *batch.Result) {
	c.writeln("%s %s (%d completed, %d failed, %d skipped, %d cancelled; percentiles from %s)",
		c.colors.Label.Sprint("Batch:"), c.statusColor(b.Status).Sprint(b.Status),
		b.Completed, b.Failed, b.Skipped, b.Cancelled, b.PercentileSource)

	for _, t := range b.Tests {
		icon := SuccessIcon(c.noColor)
		if t.Status != batch.StatusCompleted {
			icon = ErrorIcon(c.noColor)
		}
		c.writeln("  %s %-20s %-10s %8s reqs  avg %-9s attempts %d",
			icon, t.TestID, c.statusColor(t.Status).Sprint(t.Status),
			formatNumber(t.Metrics.TotalRequests), formatMs(t.Metrics.Latency.Avg), t.Attempts)
		if t.Error != "" {
			c.writeln("      %s", c.colors.Dim.Sprint(t.Error))
		}
		c.printAssertions("      ", t.Assertions)
	}
	c.writeln("")
}

func (c *Console) statusColor(s batch.Status) *color.Color {
	switch s {
	case batch.StatusCompleted:
		return c.colors.Success
	case batch.StatusPartial, batch.StatusCancelled, batch.StatusSkipped:
		return c.colors.Warning
	default:
		return c.colors.Error
	}
}

func (c *Console) printAssertions(indent string, results []assertion.Result) {
	for _, r := range results {
		icon := SuccessIcon(c.noColor)
		if !r.Passed {
			icon = ErrorIcon(c.noColor)
		}
		line := fmt.Sprintf("%s%s %s", indent, icon, r.Name)
		if r.Condition != "" {
			line += fmt.Sprintf(" (%s %v, actual: %v)", r.Condition, r.Expected, r.Actual)
		} else if r.Actual != nil {
			line += fmt.Sprintf(" (actual: %v)", r.Actual)
		}
		c.writeln("%s", line)
		if !r.Passed && r.Message != "" {
			c.writeln("%s  %s", indent, c.colors.Dim.Sprint(r.Message))
		}
	}
}

func (c *Console) printAnalysis(rep *engine.Report) {
	if rep.Metrics.TotalRequests == 0 {
		return
	}
	a := rep.Analysis
	c.writeln("%s", c.colors.Label.Sprint("Analysis:"))
	c.writeln("  Latency trend:  %s (slope %.3f, R² %.2f)", a.LatencyTrend.Direction, a.LatencyTrend.Slope, a.LatencyTrend.RSquared)
	if s := a.LatencyTrend.Seasonality; s.Detected {
		c.writeln("  Seasonality:    period %d (correlation %.2f)", s.Period, s.Correlation)
	}
	c.writeln("  Anomalies:      %d", len(a.Anomalies))
	c.writeln("  Latency/size:   %.2f", a.LatencySizeCorrelation)
	c.writeln("")
}
