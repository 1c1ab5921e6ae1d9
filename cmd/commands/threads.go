package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	wsprotocol "github.com/pmorel/tasktalk/internal/gateway/ws"
	"github.com/pmorel/tasktalk/internal/threads"
)

// NewThreadsCommand returns the threads subcommand.
func NewThreadsCommand() *cli.Command {
	return &cli.Command{
		Name:      "threads",
		Usage:     "List conversation threads, or dump one thread's messages",
		ArgsUsage: "[thread-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway base URL",
				Value: "http://127.0.0.1:18530",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "User identity sent to the gateway (default: OS username)",
			},
		},
		Action: runThreads,
	}
}

func runThreads(_ context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	if userID == "" {
		userID = defaultUser()
	}
	base := cmd.String("gateway")

	if threadID := cmd.Args().First(); threadID != "" {
		return dumpThread(base, userID, threadID)
	}
	return listThreads(base, userID)
}

func gatewayGet(base, userID, path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(wsprotocol.UserHeader, userID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("gateway: %s: %s", resp.Status, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func listThreads(base, userID string) error {
	var list []*threads.Thread
	if err := gatewayGet(base, userID, "/api/threads", &list); err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("no threads")
		return nil
	}
	for _, th := range list {
		title := th.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-30s  %d messages  %d/%d tokens  updated %s\n",
			th.ID, title, th.MessageCount,
			th.TokenUsage.Input, th.TokenUsage.Output,
			th.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func dumpThread(base, userID, threadID string) error {
	var msgs []threads.Message
	if err := gatewayGet(base, userID, "/api/threads/"+threadID+"/messages", &msgs); err != nil {
		return err
	}

	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.Role, m.Content)
		for _, res := range m.Results {
			status := "ok"
			if !res.OK {
				status = res.ErrKind
			}
			fmt.Printf("    - %s: %s %v\n", res.Operation, status, res.TaskIDs)
		}
	}
	return nil
}
