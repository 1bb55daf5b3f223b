package outcome

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// Summary renders a deterministic markdown report of an execution and its
// step history. It degrades gracefully: missing timestamps render "N/A" and
// unparseable JSON payloads are embedded verbatim.
func Summary(ex *store.Execution, workflowName string, state *schema.ExecutionState, steps []*store.StepExecution) string {
	var completedSteps, failedSteps int
	for _, s := range steps {
		switch s.Status {
		case schema.StepCompleted:
			completedSteps++
		case schema.StepFailed:
			failedSteps++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Execution Summary: %s\n\n", ex.ID)
	b.WriteString("## Basic Information\n")
	fmt.Fprintf(&b, "- **Execution ID:** %s\n", ex.ID)
	fmt.Fprintf(&b, "- **Status:** %s%s\n", ex.Status, statusMark(ex.Status))
	fmt.Fprintf(&b, "- **Workflow:** %s\n", firstNonEmpty(workflowName, ex.WorkflowID, "Unknown"))
	fmt.Fprintf(&b, "- **Version Tag:** %s\n", firstNonEmpty(versionTag(ex, state), "N/A"))
	fmt.Fprintf(&b, "- **Outcome:** %s\n", firstNonEmpty(string(ex.Outcome), "N/A"))
	fmt.Fprintf(&b, "- **Steps Summary:** %d succeeded, %d failed, %d total\n", completedSteps, failedSteps, len(steps))

	if len(steps) > 0 {
		if failedSteps == 0 {
			b.WriteString("- **Overall Return Code:** 0 ✓ Success\n")
		} else {
			fmt.Fprintf(&b, "- **Overall Return Code:** %d ✗ Failed\n", failedSteps)
		}
	} else {
		b.WriteString("- **Overall Return Code:** N/A\n")
	}

	fmt.Fprintf(&b, "- **Started:** %s\n", formatDate(&ex.StartedAt))
	if ex.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Completed:** %s\n", formatDate(ex.CompletedAt))
		fmt.Fprintf(&b, "- **Duration:** %ds\n", int(ex.CompletedAt.Sub(ex.StartedAt).Round(time.Second).Seconds()))
	} else if !ex.Status.Terminal() {
		b.WriteString("- **Completed:** Still running\n")
	} else {
		b.WriteString("- **Completed:** N/A\n")
	}

	if ex.Error != "" {
		fmt.Fprintf(&b, "\n## Error\n```\n%s\n```\n", ex.Error)
	}

	if len(steps) > 0 {
		fmt.Fprintf(&b, "\n## Step Executions (%d)\n\n", len(steps))
		for i, step := range steps {
			fmt.Fprintf(&b, "### Step %d: %s\n", i+1, firstNonEmpty(step.StepID, "unknown"))
			fmt.Fprintf(&b, "- **Module:** %s\n", firstNonEmpty(step.Module, "N/A"))
			fmt.Fprintf(&b, "- **Action:** %s\n", firstNonEmpty(step.Action, "N/A"))
			fmt.Fprintf(&b, "- **Status:** %s\n", firstNonEmpty(string(step.Status), "unknown"))
			fmt.Fprintf(&b, "- **Return Code:** %d%s\n", step.ReturnCode, returnCodeMark(step.ReturnCode))
			fmt.Fprintf(&b, "- **Started:** %s\n", formatDate(&step.StartedAt))
			if step.CompletedAt != nil {
				fmt.Fprintf(&b, "- **Completed:** %s\n", formatDate(step.CompletedAt))
			}
			if step.DurationMs > 0 {
				fmt.Fprintf(&b, "- **Duration:** %dms\n", step.DurationMs)
			}
			if len(step.Inputs) > 0 {
				fmt.Fprintf(&b, "- **Inputs:**\n```json\n%s\n```\n", prettyJSON(step.Inputs))
			}
			if len(step.Outputs) > 0 {
				fmt.Fprintf(&b, "- **Outputs:**\n```json\n%s\n```\n", prettyJSON(step.Outputs))
			}
			if step.Error != "" {
				fmt.Fprintf(&b, "- **Error:**\n```\n%s\n```\n", step.Error)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "*Generated by stepflow for execution %s*\n", ex.ID)
	return b.String()
}

func versionTag(ex *store.Execution, state *schema.ExecutionState) string {
	if ex.VersionTag != "" {
		return ex.VersionTag
	}
	if state != nil {
		return state.VersionTag
	}
	return ""
}

func statusMark(s schema.ExecutionStatus) string {
	switch s {
	case schema.StatusCompleted:
		return " ✓"
	case schema.StatusFailed:
		return " ✗"
	}
	return ""
}

func returnCodeMark(rc int) string {
	if rc == 0 {
		return " ✓"
	}
	return " ✗"
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format(time.RFC3339)
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
