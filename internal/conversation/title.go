package conversation

import (
	"sort"

	"github.com/xaenox/dreamchat/internal/models"
)

// TitleLength is the number of characters kept from the first user message.
const TitleLength = 50

// DeriveTitle computes a conversation title from its messages.
func DeriveTitle(messages []models.Message) string {
	if len(messages) == 0 {
		return models.DefaultTitle
	}

	first, ok := models.FirstUserMessage(messages)
	if !ok {
		return models.DefaultTitle
	}

	runes := []rune(first.Content)
	if len(runes) <= TitleLength {
		return first.Content
	}
	return string(runes[:TitleLength]) + "..."
}

// MoveToFront returns convs with the conversation at index i moved first.
func MoveToFront(convs []models.Conversation, i int) []models.Conversation {
	if i <= 0 || i >= len(convs) {
		return convs
	}
	moved := convs[i]
	copy(convs[1:i+1], convs[:i])
	convs[0] = moved
	return convs
}

// PinnedFirst returns a copy of convs with pinned conversations ahead of the
// rest. Relative order inside each group is preserved.
func PinnedFirst(convs []models.Conversation) []models.Conversation {
	out := append([]models.Conversation(nil), convs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Pinned && !out[j].Pinned
	})
	return out
}
