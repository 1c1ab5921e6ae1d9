package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/pmorel/tasktalk/clients/ws"
	"github.com/pmorel/tasktalk/internal/dispatch"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a message to the assistant and print the streamed reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: "ws://127.0.0.1:18530/api/ws",
			},
			&cli.StringFlag{
				Name:    "thread",
				Aliases: []string{"t"},
				Usage:   "Thread ID to continue (empty = new thread)",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "User identity sent to the gateway (default: OS username)",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 120,
			},
		},
		Action: runAsk,
	}
}

func defaultUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

func runAsk(_ context.Context, cmd *cli.Command) error {
	message := cmd.Args().First()
	if message == "" {
		return fmt.Errorf("usage: tasktalk ask <message>")
	}

	userID := cmd.String("user")
	if userID == "" {
		userID = defaultUser()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	client, err := wsclient.Dial(ctx, cmd.String("gateway"), userID)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	if err := client.SendMessage(cmd.String("thread"), message); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	// Read frames until the turn's terminal event.
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for response")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch {
		case frame.OK != nil && !*frame.OK:
			return fmt.Errorf("gateway: %s (%s)", frame.Error, frame.ErrKind)
		case frame.OK != nil:
			var resp struct {
				ThreadID string `json:"thread_id"`
			}
			if json.Unmarshal(frame.Payload, &resp) == nil && cmd.String("thread") == "" {
				fmt.Fprintf(os.Stderr, "thread: %s\n", resp.ThreadID)
			}
			continue
		case frame.Event == "":
			continue
		}

		var ev dispatch.Event
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case dispatch.EventMessage:
			fmt.Fprintln(os.Stdout, ev.Text)
		case dispatch.EventWidget:
			fmt.Fprintf(os.Stderr, "[%s %s]\n", ev.Widget.Kind, ev.Widget.ID)
		case dispatch.EventCompletion:
			return nil
		case dispatch.EventError:
			return fmt.Errorf("turn failed: %s (%s)", ev.ErrMsg, ev.ErrKind)
		}
	}
}
