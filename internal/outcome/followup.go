package outcome

import (
	"fmt"

	"github.com/rendis/stepflow/pkg/schema"
)

// Suggest returns follow-up workflow suggestions for an outcome. Rules
// declared on the workflow take precedence; built-in defaults apply only when
// no declared rule matched.
func Suggest(tag schema.Outcome, def *schema.WorkflowDefinition) []schema.FollowUpSuggestion {
	var suggestions []schema.FollowUpSuggestion

	for _, rule := range def.FollowUps {
		if !rule.OnOutcome.Contains(tag) {
			continue
		}
		s := schema.FollowUpSuggestion{
			WorkflowID:  rule.WorkflowID,
			Name:        rule.Name,
			Description: rule.Description,
			Reason:      rule.Reason,
		}
		if s.Name == "" {
			s.Name = rule.WorkflowID
		}
		if s.Description == "" {
			s.Description = fmt.Sprintf("Run %s workflow", rule.WorkflowID)
		}
		if s.Reason == "" {
			s.Reason = fmt.Sprintf("Suggested because workflow completed with outcome: %s", tag)
		}
		suggestions = append(suggestions, s)
	}

	if len(suggestions) > 0 {
		return suggestions
	}

	switch tag {
	case schema.OutcomeNoTasks:
		suggestions = append(suggestions, schema.FollowUpSuggestion{
			WorkflowID:  "review-self",
			Name:        "Review Self",
			Description: "Run a new review to identify new tasks",
			Reason:      "No tasks found - run a review to identify new work",
		})
	case schema.OutcomeAllComplete:
		suggestions = append(suggestions, schema.FollowUpSuggestion{
			WorkflowID:  "review-self",
			Name:        "Review Self",
			Description: "Start a new review cycle",
			Reason:      "All tasks completed - start a new review",
		})
	case schema.OutcomeVersionCreated:
		suggestions = append(suggestions, schema.FollowUpSuggestion{
			WorkflowID:  "execute-features",
			Name:        "Execute Features",
			Description: "Implement features from the new version",
			Reason:      "New version created - implement features from it",
		})
	}

	return suggestions
}
