package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"loyalty-app/internal/chatclient"
	"loyalty-app/internal/chaterr"

	"github.com/spf13/cobra"
)

func NewChatCommand() *cobra.Command {
	var newConversation bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant; type /new for a new conversation, /quit to leave",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			if res := c.store.Load(ctx); res.Warning != "" {
				printNotice(out, chaterr.StorageWarning(res.Warning))
			}
			if newConversation {
				c.store.CreateNew(ctx)
			}

			go c.monitor.Run(ctx)
			stopFlush := c.orchestrator.Start(ctx)
			defer stopFlush()
			if n := c.orchestrator.QueuedCount(); n > 0 {
				fmt.Fprintf(out, "(%d message(s) from last session waiting)\n", n)
				if c.monitor.IsOnline() {
					go c.orchestrator.FlushQueue(ctx)
				}
			}

			if conv, ok := c.store.Current(ctx); ok {
				for _, m := range conv.Messages {
					fmt.Fprintf(out, "%s> %s\n", m.Role, m.Content)
				}
			}

			return repl(ctx, c, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().BoolVar(&newConversation, "new", false, "Start a new conversation")
	return cmd
}

func repl(ctx context.Context, c *client, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	draft := ""

	for {
		fmt.Fprint(out, "you> ")
		if draft != "" {
			fmt.Fprintf(out, "(press enter to resend %q) ", draft)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "/quit":
			return nil
		case "/new":
			c.store.CreateNew(ctx)
			draft = ""
			fmt.Fprintln(out, "Started a new conversation.")
			continue
		case "":
			if draft == "" {
				continue
			}
			line = draft
		}

		fmt.Fprint(out, "assistant> ")
		printer := &replyPrinter{out: out}
		outcome := c.orchestrator.Submit(ctx, line, printer.Snapshot)
		fmt.Fprintln(out)

		if outcome.Warning != "" {
			printNotice(out, chaterr.StorageWarning(outcome.Warning))
		}

		switch outcome.Status {
		case chatclient.StatusSent:
			draft = ""
		case chatclient.StatusQueued:
			draft = ""
			printNotice(out, outcome.Notice)
			fmt.Fprintf(out, "(%d message(s) waiting)\n", c.orchestrator.QueuedCount())
		case chatclient.StatusFailed:
			draft = outcome.Draft
			printNotice(out, outcome.Notice)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// replyPrinter writes streamed snapshots incrementally.
// A snapshot that does not extend what was already shown belongs to a retried attempt
// and is printed on a fresh line.
type replyPrinter struct {
	out   io.Writer
	shown string
}

func (p *replyPrinter) Snapshot(partial string) {
	if !strings.HasPrefix(partial, p.shown) {
		fmt.Fprint(p.out, "\nassistant> ")
		p.shown = ""
	}
	fmt.Fprint(p.out, partial[len(p.shown):])
	p.shown = partial
}

func printNotice(out io.Writer, n *chaterr.Notice) {
	if n == nil {
		return
	}
	fmt.Fprintf(out, "[%s] %s\n", n.Title, n.Description)
}
