package agent

import "github.com/PipeOpsHQ/agent-web/types"

const (
	// DefaultMaxInputTokens bounds the conversation window sent per turn.
	DefaultMaxInputTokens = 25000

	// charsPerToken approximates English text at ~4 characters per token.
	charsPerToken = 4

	messageOverheadTokens = 4
)

// ContextManager decides which part of the shared conversation is sent with
// each turn. The stored history is never modified; only the window is.
type ContextManager struct {
	maxInputTokens int
	maxMessages    int
}

// NewContextManager creates a ContextManager. maxTokens <= 0 selects
// DefaultMaxInputTokens; maxMessages <= 0 disables the message cap.
func NewContextManager(maxTokens, maxMessages int) *ContextManager {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxInputTokens
	}
	if maxMessages < 0 {
		maxMessages = 0
	}
	return &ContextManager{maxInputTokens: maxTokens, maxMessages: maxMessages}
}

// EstimateTokens provides a rough token count for a string.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func EstimateMessageTokens(msg types.Message) int {
	return messageOverheadTokens + EstimateTokens(msg.Content)
}

func EstimateMessagesTokens(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// Window returns the most recent messages of history that fit the budget,
// followed by next. The result always begins with a user turn and always
// contains next.
func (cm *ContextManager) Window(history []types.Message, next types.Message, systemPrompt string, reserveTokens int) []types.Message {
	available := cm.maxInputTokens - EstimateTokens(systemPrompt) - reserveTokens - EstimateMessageTokens(next)

	start := len(history)
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		if cm.maxMessages > 0 && len(history)-i+1 > cm.maxMessages {
			break
		}
		cost := EstimateMessageTokens(history[i])
		if used+cost > available {
			break
		}
		used += cost
		start = i
	}
	for start < len(history) && history[start].Role != types.RoleUser {
		start++
	}

	out := make([]types.Message, 0, len(history)-start+1)
	out = append(out, history[start:]...)
	return append(out, next)
}

// Compact drops the oldest turns so that at most maxMessages remain, keeping
// the first retained message a user turn.
func (cm *ContextManager) Compact(history []types.Message) []types.Message {
	if cm.maxMessages <= 0 || len(history) <= cm.maxMessages {
		return history
	}
	start := len(history) - cm.maxMessages
	for start < len(history) && history[start].Role != types.RoleUser {
		start++
	}
	return append([]types.Message(nil), history[start:]...)
}
