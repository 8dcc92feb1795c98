package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queueless/queuewatch/internal/auth"
	"github.com/queueless/queuewatch/internal/queue"
	"github.com/queueless/queuewatch/internal/rest"
)

func newRestClient() (*rest.Client, *auth.Store, error) {
	creds, err := auth.Open(cfg.State.File)
	if err != nil {
		return nil, nil, err
	}
	client := rest.NewClient(cfg.API.BaseURL, creds, cfg.API.RatePerSecond,
		cfg.API.Timeout(), cfg.API.RetryDelay(), cfg.API.RetryCount, logger)
	return client, creds, nil
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <queue-id>",
		Short: "Fetch a queue snapshot once and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, creds, err := newRestClient()
			if err != nil {
				return err
			}

			q, err := client.GetQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			userID := ""
			if claims, err := auth.ParseClaims(creds.Credential()); err == nil {
				userID = claims.UserID
			}
			printQueue(q, userID)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all visible queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newRestClient()
			if err != nil {
				return err
			}

			queues, err := client.ListQueues(cmd.Context())
			if err != nil {
				return err
			}

			for _, q := range queues {
				state := "active"
				if !q.Active() {
					state = "paused"
				}
				fmt.Printf("%-24s  %-8s  %3d waiting  %s\n",
					q.ID, state, len(q.TokensByStatus(queue.StatusWaiting)), q.ServiceName)
			}
			return nil
		},
	}
}

func printQueue(q *queue.Queue, userID string) {
	facts := queue.Derive(q, userID)

	state := "active"
	if !q.Active() {
		state = "paused"
	}
	fmt.Printf("queue %s (%s) %s\n", q.ID, q.ServiceName, state)
	fmt.Printf("waiting %d, in service %d, completed %d\n",
		facts.Waiting, facts.InService, facts.Completed)

	if facts.NowServing != nil {
		fmt.Printf("now serving: %s\n", facts.NowServing.TokenID)
	}
	if facts.Position > 0 {
		fmt.Printf("your position: %d (about %d min)\n", facts.Position, facts.EstimatedWaitMinutes)
	}
	if facts.IsBeingServed {
		fmt.Println("you are being served")
	}
	if facts.ServiceAnomaly {
		fmt.Println("warning: snapshot had more than one token in service")
	}

	for i, t := range q.TokensByStatus(queue.StatusWaiting) {
		fmt.Printf("%3d. %s %s\n", i+1, t.TokenID, t.UserID)
	}
}
