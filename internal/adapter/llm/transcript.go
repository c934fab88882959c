package llm

import (
	"fmt"
	"strings"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// turn is one provider-facing conversation turn; consecutive messages with
// the same role are folded into one turn.
type turn struct {
	role  domain.Role
	parts []string
}

func (t turn) text() string {
	return strings.Join(t.parts, "\n\n")
}

// conversation normalizes history for model. The model's own earlier answers
// keep the assistant role; answers from other models are shown as attributed
// user-side content so every model replies to the user rather than
// continuing another model's answer.
func conversation(model domain.ModelConfig, history []domain.Message) []turn {
	var turns []turn
	for _, msg := range history {
		role := domain.RoleUser
		content := msg.Content
		if msg.Role == domain.RoleAssistant {
			if msg.ModelID == "" || msg.ModelID == model.ID {
				role = domain.RoleAssistant
			} else {
				content = fmt.Sprintf("[%s]: %s", msg.ModelID, msg.Content)
			}
		}

		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].parts = append(turns[n-1].parts, content)
			continue
		}
		turns = append(turns, turn{role: role, parts: []string{content}})
	}
	return turns
}

// promptText renders history as alternating-turn prompt text ending with an
// open assistant turn.
func promptText(model domain.ModelConfig, history []domain.Message) string {
	var b strings.Builder
	for _, t := range conversation(model, history) {
		if t.role == domain.RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(t.text())
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
