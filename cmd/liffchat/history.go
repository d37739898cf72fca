package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewConversationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List stored conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := context.Background()
			res := c.store.Load(ctx)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMESSAGES\tUPDATED\tCURRENT")
			for _, conv := range c.store.ListByRecency(ctx) {
				current := ""
				if conv.ID == res.Data.CurrentConversationID {
					current = "*"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", conv.ID, len(conv.Messages), conv.UpdatedAt.Local().Format("2006-01-02 15:04"), current)
			}
			return w.Flush()
		},
	}
}

func NewClearCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete one conversation, or all history when --id is not given",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := context.Background()
			c.store.Load(ctx)

			if id != "" {
				warning, err := c.store.Delete(ctx, id)
				if err != nil {
					return err
				}
				if warning != "" {
					fmt.Fprintln(cmd.OutOrStdout(), warning)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", id)
				return nil
			}

			if err := c.store.ClearAll(ctx); err != nil {
				return err
			}
			if n := c.orchestrator.ClearQueue(); n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d unsent message(s)\n", n)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Chat history cleared")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Conversation id to delete")
	return cmd
}
