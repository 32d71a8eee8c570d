package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"datastack/internal/app"
	"datastack/internal/orchestrator"
	"datastack/internal/reconciler"
	"datastack/internal/services"
)

// RenderStatus prints the service status table. The source note tells
// the user whether they are looking at live engine data or the state
// saved by the previous run.
func RenderStatus(w io.Writer, views []app.ServiceStatusView, live bool) {
	if len(views) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No services configured"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVICE", "IMAGE", "STATE", "UPDATED", "ERROR"})

	for _, view := range views {
		t.AppendRow(table.Row{
			view.Name,
			emptyDash(view.Image),
			colorState(view.State),
			formatUpdated(view.UpdatedAt),
			emptyDash(view.LastError),
		})
	}
	t.Render()

	if !live {
		fmt.Fprintln(w, text.FgYellow.Sprint("(container engine unreachable, showing last saved state)"))
	}
}

// RenderPlan prints the actions a dry run would apply.
func RenderPlan(w io.Writer, plan reconciler.Plan) {
	if plan.Empty() {
		fmt.Fprintln(w, text.FgGreen.Sprint("Everything converged, nothing to do"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ACTION", "SERVICE", "REASON"})

	for _, action := range plan.Actions() {
		t.AppendRow(table.Row{colorAction(action.Type), action.Service, action.Reason})
	}
	t.Render()
}

// RenderSummary prints per-service outcomes of a run followed by a
// one-line tally.
func RenderSummary(w io.Writer, summary orchestrator.Summary) {
	if len(summary.Results) == 0 {
		fmt.Fprintln(w, text.FgGreen.Sprint("Everything converged, nothing to do"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVICE", "ACTION", "RESULT", "DURATION"})

	for _, res := range summary.Results {
		t.AppendRow(table.Row{
			res.Service,
			string(res.Action),
			colorResult(res),
			formatDuration(res.Duration),
		})
	}
	t.Render()

	line := summary.String()
	if summary.Succeeded() {
		fmt.Fprintln(w, text.FgGreen.Sprint(line))
	} else {
		fmt.Fprintln(w, text.FgRed.Sprint(line))
	}
}

func colorState(state services.RuntimeState) string {
	switch state {
	case services.StateHealthy:
		return text.FgGreen.Sprint(state)
	case services.StateStarting:
		return text.FgYellow.Sprint(state)
	case services.StateUnhealthy, services.StateFailed:
		return text.FgRed.Sprint(state)
	case services.StateStopped:
		return text.FgHiBlack.Sprint(state)
	default:
		return text.FgHiBlack.Sprint(services.StateAbsent)
	}
}

func colorAction(action reconciler.ActionType) string {
	switch action {
	case reconciler.ActionStart:
		return text.FgGreen.Sprint(action)
	case reconciler.ActionRecreate:
		return text.FgYellow.Sprint(action)
	case reconciler.ActionAwait:
		return text.FgCyan.Sprint(action)
	case reconciler.ActionStop:
		return text.FgRed.Sprint(action)
	default:
		return string(action)
	}
}

func colorResult(res orchestrator.Result) string {
	switch {
	case res.Skipped:
		return text.FgYellow.Sprintf("skipped: %v", res.Err)
	case res.Err != nil:
		return text.FgRed.Sprintf("failed: %v", res.Err)
	default:
		return text.FgGreen.Sprint("ok")
	}
}

func formatUpdated(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format("15:04:05")
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func emptyDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
