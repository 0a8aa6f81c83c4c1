package main

import (
	"github.com/spf13/cobra"
)

func newRoutingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routing",
		Short: "Inspect routing decisions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show aggregate routing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/routing/stats")
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Show the routing decision log",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/routing/history")
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	return cmd
}
