// Package chat turns user actions into provider streams and commits the
// resulting turns to the conversation repository.
package chat

import "github.com/xaenox/dreamchat/internal/models"

// Turn is an outgoing user message together with the history it is sent after.
type Turn struct {
	Base    []models.Message
	Content string
	Images  []string
}

// PlanRegenerate resends the user message that produced targetID. It reports
// false when the target is missing, is the first message, or is not preceded
// by a user message.
func PlanRegenerate(messages []models.Message, targetID string) (Turn, bool) {
	i := models.IndexOf(messages, targetID)
	if i <= 0 {
		return Turn{}, false
	}

	prev := messages[i-1]
	if prev.Role != models.RoleUser {
		return Turn{}, false
	}

	return Turn{
		Base:    models.CloneMessages(messages[:i-1]),
		Content: prev.Content,
		Images:  append([]string(nil), prev.Images...),
	}, true
}

// PlanEdit replaces targetID and everything after it with newContent. The
// target's image attachments are kept.
func PlanEdit(messages []models.Message, targetID, newContent string) (Turn, bool) {
	i := models.IndexOf(messages, targetID)
	if i < 0 {
		return Turn{}, false
	}

	return Turn{
		Base:    models.CloneMessages(messages[:i]),
		Content: newContent,
		Images:  append([]string(nil), messages[i].Images...),
	}, true
}
