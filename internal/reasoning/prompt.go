package reasoning

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/pmorel/tasktalk/internal/threads"
)

const maxUtteranceLen = 4000

func buildMessages(in Input) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(in.History)+2)
	msgs = append(msgs, &schema.Message{
		Role:    schema.System,
		Content: buildSystemPrompt(in),
	})

	for _, m := range in.History {
		role := schema.User
		if m.Role == threads.RoleAssistant {
			role = schema.Assistant
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: m.Content})
	}

	text := in.Text
	if len(text) > maxUtteranceLen {
		text = text[:maxUtteranceLen]
	}
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: text})
	return msgs
}

func buildSystemPrompt(in Input) string {
	var sb strings.Builder

	sb.WriteString("You are a todo list assistant. Manage the user's tasks with the tools provided.\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Call a tool whenever the user asks to add, list, complete, update, or delete tasks.\n")
	sb.WriteString("- Resolve references like \"it\" or \"that one\" against the recent tasks listed below; use the numeric task id.\n")
	sb.WriteString("- If a reference cannot be resolved with confidence, ask which task the user means instead of guessing.\n")
	sb.WriteString("- For anything that is not a task request, answer briefly in plain text without calling tools.\n")

	if len(in.Mentions) > 0 {
		sb.WriteString("\nRecently discussed tasks (newest first):\n")
		for i := len(in.Mentions) - 1; i >= 0; i-- {
			e := in.Mentions[i]
			sb.WriteString(fmt.Sprintf("- task %d %q (last: %s)\n", e.TaskID, e.Title, e.Operation))
		}
	}

	return sb.String()
}
