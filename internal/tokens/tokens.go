// Package tokens estimates prompt sizes with tiktoken so conversation
// history can be trimmed to the model's context budget before inference.
package tokens

import (
	"github.com/tiktoken-go/tokenizer"

	"github.com/quietriver/assistant/internal/llm"
)

// perMessageOverhead approximates the framing tokens each chat message
// costs beyond its content.
const perMessageOverhead = 4

// Budgeter counts tokens against a fixed prompt budget.
type Budgeter struct {
	codec  tokenizer.Codec
	budget int
}

// NewBudgeter creates a budgeter for the given token budget using the
// cl100k encoding.
func NewBudgeter(budget int) (*Budgeter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &Budgeter{codec: codec, budget: budget}, nil
}

// Count returns the token count of s, approximating by characters when
// encoding fails.
func (b *Budgeter) Count(s string) int {
	ids, _, err := b.codec.Encode(s)
	if err != nil {
		return len(s) / 4
	}
	return len(ids)
}

func (b *Budgeter) messageCost(m llm.Message) int {
	cost := b.Count(m.Content) + perMessageOverhead
	for _, tc := range m.ToolCalls {
		cost += b.Count(tc.Function.Name) + b.Count(tc.Function.Arguments)
	}
	return cost
}

// Trim drops the oldest non-system messages until the prompt fits the
// budget. The system prompt and the newest message always survive.
func (b *Budgeter) Trim(messages []llm.Message) []llm.Message {
	if len(messages) == 0 {
		return messages
	}

	var system []llm.Message
	rest := messages
	if messages[0].Role == "system" {
		system = messages[:1]
		rest = messages[1:]
	}
	if len(rest) == 0 {
		return messages
	}

	total := 0
	for _, m := range system {
		total += b.messageCost(m)
	}

	// Walk newest to oldest, keeping messages while the budget holds.
	kept := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := b.messageCost(rest[i])
		if kept > 0 && total+cost > b.budget {
			break
		}
		total += cost
		kept++
	}

	out := make([]llm.Message, 0, len(system)+kept)
	out = append(out, system...)
	out = append(out, rest[len(rest)-kept:]...)
	return out
}
