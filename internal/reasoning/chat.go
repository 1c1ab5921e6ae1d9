package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/pmorel/tasktalk/internal/models"
	"github.com/pmorel/tasktalk/internal/ops"
)

// ModelSource yields the chat model used for reasoning.
// *models.Registry satisfies it.
type ModelSource interface {
	Default(ctx context.Context) (model.ToolCallingChatModel, error)
}

// ChatReasoner implements Reasoner on a tool-calling chat model. The
// operation registry is exposed to the model as its tool set; tool calls
// in the response become proposals.
type ChatReasoner struct {
	source   ModelSource
	registry *ops.Registry
	timeout  time.Duration
}

// NewChatReasoner creates a reasoner bound to an operation registry.
// timeout bounds each model call; zero means no extra deadline.
func NewChatReasoner(source ModelSource, registry *ops.Registry, timeout time.Duration) *ChatReasoner {
	return &ChatReasoner{
		source:   source,
		registry: registry,
		timeout:  timeout,
	}
}

// Decide runs one model call and converts the response into a decision.
func (r *ChatReasoner) Decide(ctx context.Context, in Input) (*Decision, error) {
	chatModel, err := r.source.Default(ctx)
	if err != nil {
		return nil, fmt.Errorf("reasoner: get model: %w", err)
	}

	bound, err := chatModel.WithTools(r.registry.ToolInfos())
	if err != nil {
		return nil, fmt.Errorf("reasoner: bind tools: %w", err)
	}

	msgs := buildMessages(in)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := bound.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("reasoner: generate: %w", models.HandleError(err))
	}
	slog.Debug("reasoner decision",
		"user", in.UserID,
		"tool_calls", len(out.ToolCalls),
		"duration", time.Since(start))

	decision := &Decision{ReplyText: strings.TrimSpace(out.Content)}
	for _, tc := range out.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		decision.Proposals = append(decision.Proposals, Proposal{
			Op:   tc.Function.Name,
			Args: json.RawMessage(args),
		})
	}
	return decision, nil
}

var _ Reasoner = (*ChatReasoner)(nil)
