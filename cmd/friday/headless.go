package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/friday/internal/orchestrator"
	"github.com/ShayCichocki/friday/pkg/models"
)

// consumeEventsHeadless prints orchestrator events to w until the channel
// is closed.
func consumeEventsHeadless(w io.Writer, events <-chan orchestrator.OrchestratorEvent) {
	for event := range events {
		if line := formatEvent(event); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

// formatEvent renders one event as a log line, or "" to skip it.
func formatEvent(event orchestrator.OrchestratorEvent) string {
	switch event.Type {
	case orchestrator.EventTaskStarted:
		return fmt.Sprintf("[STARTED] %s (%s): %s", event.Node, event.NodeType, truncateText(event.Message, 80))
	case orchestrator.EventTaskCompleted:
		return fmt.Sprintf("[DONE] %s (score %d)", event.Node, event.Score)
	case orchestrator.EventTaskFailed:
		return fmt.Sprintf("[FAILED] %s: %s", event.Node, firstLine(event.Message))
	case orchestrator.EventTaskAmended:
		return fmt.Sprintf("[AMEND] %s attempt %d: %s", event.Node, event.Attempt, firstLine(event.Message))
	case orchestrator.EventTaskReplanned:
		return fmt.Sprintf("[REPLAN] %s: added %s", event.Node, strings.Join(event.Added, ", "))
	case orchestrator.EventRunDone:
		return fmt.Sprintf("[RUN] %s", event.Message)
	}
	return ""
}

// printRunSummary prints the outcome and per-node outputs of a run.
func printRunSummary(w io.Writer, res *models.RunResult, runErr error, resumable bool) {
	fmt.Fprintln(w)
	if res == nil {
		if runErr != nil {
			fmt.Fprintf(w, "%s %v\n", color.RedString("✗"), runErr)
		}
		return
	}

	d := res.Diagnostics
	if res.Success {
		fmt.Fprintf(w, "%s Run %s succeeded in %s\n", color.GreenString("✓"), res.RunID, formatDuration(d.Duration))
	} else {
		fmt.Fprintf(w, "%s Run %s failed after %s\n", color.RedString("✗"), res.RunID, formatDuration(d.Duration))
		if d.FailedNode != "" {
			fmt.Fprintf(w, "  Failed node: %s\n", d.FailedNode)
		}
		if d.LastReasoning != "" {
			fmt.Fprintf(w, "  Reasoning: %s\n", truncateText(d.LastReasoning, 200))
		}
		if d.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", firstLine(d.Error))
		}
	}

	fmt.Fprintf(w, "  Repairs: %d amend, %d replan; skill hits: %d\n", d.Amends, d.Replans, d.SkillHits)
	if d.InputTokens > 0 || d.OutputTokens > 0 {
		fmt.Fprintf(w, "  Tokens: %s in / %s out\n", formatNumber(int(d.InputTokens)), formatNumber(int(d.OutputTokens)))
	}

	if len(res.Outputs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Outputs:")
		for _, name := range outputOrder(res) {
			out := res.Outputs[name]
			value := truncateText(strings.TrimSpace(out.ReturnValue), 100)
			if value == "" {
				value = "-"
			}
			fmt.Fprintf(w, "  %s %s [%s]: %s\n", statusSymbol(out.Status), name, out.Type, value)
		}
	}

	if !res.Success && resumable {
		fmt.Fprintf(w, "\nResume with: friday resume %s\n", res.RunID)
	}
}

// outputOrder lists output names in run order, then any stragglers sorted.
func outputOrder(res *models.RunResult) []string {
	seen := make(map[string]bool, len(res.Outputs))
	var names []string
	for _, name := range res.Diagnostics.Order {
		if _, ok := res.Outputs[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range res.Outputs {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

func statusSymbol(s models.NodeStatus) string {
	switch s {
	case models.NodeStatusSucceeded:
		return color.GreenString("✓")
	case models.NodeStatusFailed, models.NodeStatusFailedFatal:
		return color.RedString("✗")
	case models.NodeStatusPending:
		return color.New(color.FgHiBlack).Sprint("○")
	default:
		return color.YellowString("•")
	}
}
