package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/domody/syris/feed"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/requests"
)

const pollInterval = 50 * time.Millisecond

func newSendCmd(flags *globalFlags) *cobra.Command {
	var (
		requestID      string
		connectTimeout time.Duration
		wait           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <text...>",
		Short: "Send a chat command and follow its request until it settles",
		Long: "send connects, submits the text as a chat command and prints the events\n" +
			"linked to its request id until the request is done or failed, or --wait elapses.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			f, _, err := openFeed(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			var rid atomic.Value
			rid.Store("")
			out := cmd.OutOrStdout()
			f.OnIngest(func(msg protocol.ServerMessage) {
				em, ok := msg.(protocol.EventMessage)
				if !ok {
					return
				}
				if id := rid.Load().(string); id != "" && protocol.EventLinks(em.Event).RequestID == id {
					_, _ = fmt.Fprintln(out, formatEvent(em.Event))
				}
			})

			ctx := cmd.Context()
			if err := waitConnected(ctx, f, connectTimeout); err != nil {
				return err
			}

			id, err := f.SendCommand(strings.Join(args, " "), requestID)
			if err != nil {
				return err
			}
			rid.Store(id)

			r, err := awaitRequest(ctx, f, id, wait)
			_, _ = fmt.Fprintln(out, formatRequest(r))
			if err != nil {
				return err
			}
			if r.Status == requests.StatusFailed {
				return fmt.Errorf("request %s failed", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "Request id to use instead of a generated one")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "How long to wait for the connection")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to follow the request; 0 returns right after sending")
	return cmd
}

// awaitRequest polls the tracked request until it is terminal. It returns
// the last seen record, with an error only when ctx ends first.
func awaitRequest(ctx context.Context, f *feed.Feed, id string, wait time.Duration) (requests.Request, error) {
	r, _ := f.Request(id)
	if wait <= 0 || r.Status.Terminal() {
		return r, nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r, _ = f.Request(id)
			if r.Status.Terminal() {
				return r, nil
			}
		case <-deadline.C:
			return r, nil
		case <-ctx.Done():
			return r, ctx.Err()
		}
	}
}
