// Package reasoning turns a user utterance into operation proposals.
package reasoning

import (
	"context"
	"encoding/json"

	"github.com/pmorel/tasktalk/internal/mentions"
	"github.com/pmorel/tasktalk/internal/threads"
)

// Proposal is one operation call suggested by the reasoner. Args carry
// the raw arguments as proposed; they are validated before execution.
type Proposal struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

// Decision is the outcome of one reasoning call. A decision with no
// proposals is a plain conversational reply (including clarification
// questions the model asks on its own).
type Decision struct {
	Proposals []Proposal `json:"proposals,omitempty"`
	ReplyText string     `json:"reply_text,omitempty"`
}

// Input carries everything the reasoner sees for one turn.
type Input struct {
	UserID   string
	Text     string
	History  []threads.Message
	Mentions []mentions.Entry
}

// Reasoner decides what to do with a user message.
type Reasoner interface {
	Decide(ctx context.Context, in Input) (*Decision, error)
}
