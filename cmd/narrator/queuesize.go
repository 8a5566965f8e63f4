package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drblury/narrator/messages"
)

func newQueueSizeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-size [QUEUE...]",
		Short: "Print the ready message count of each queue",
		Long:  "Print the ready message count of each queue. Without arguments every platform queue is listed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			queues := args
			if len(queues) == 0 {
				for _, q := range messages.PlatformTopology().Queues {
					queues = append(queues, q.Name)
				}
			}

			client, _, err := a.newClient()
			if err != nil {
				return err
			}
			defer a.closeClient(client)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tMESSAGES")
			for _, q := range queues {
				n, err := client.QueueSize(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("queue %s: %w", q, err)
				}
				fmt.Fprintf(w, "%s\t%d\n", q, n)
			}
			return w.Flush()
		},
	}
}
