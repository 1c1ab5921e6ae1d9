// Package callbacks provides Eino callback handlers that bridge to the event bus.
package callbacks

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/pmorel/tasktalk/internal/events"
)

// NewEventBusHandler creates a callback handler that publishes reasoner call
// events to the bus. Events are bound to the thread carried by the context,
// so token usage can be attributed to the conversation that spent it.
func NewEventBusHandler(bus *events.Bus) callbacks.Handler {
	publish := func(ctx context.Context, payload events.ReasonerCallPayload) {
		if tid := events.ThreadIDFromContext(ctx); tid != "" {
			bus.Publish(events.NewTypedEventForThread(events.SourceReasoner, payload, tid))
		} else {
			bus.Publish(events.NewTypedEvent(events.SourceReasoner, payload))
		}
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			publish(ctx, events.ReasonerCallPayload{
				Phase:        "request",
				Model:        info.Name,
				MessageCount: len(input.Messages),
			})
			return ctx
		},

		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			payload := events.ReasonerCallPayload{
				Phase: "response",
				Model: info.Name,
			}
			if output.TokenUsage != nil {
				payload.TokensInput = output.TokenUsage.PromptTokens
				payload.TokensOutput = output.TokenUsage.CompletionTokens
			} else if output.Message != nil && output.Message.ResponseMeta != nil && output.Message.ResponseMeta.Usage != nil {
				payload.TokensInput = output.Message.ResponseMeta.Usage.PromptTokens
				payload.TokensOutput = output.Message.ResponseMeta.Usage.CompletionTokens
			}
			publish(ctx, payload)
			return ctx
		},

		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.ReasonerCallPayload{
				Phase: "error",
				Model: info.Name,
				Error: err.Error(),
			})
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Handler()
}
