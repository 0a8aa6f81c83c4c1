package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newIncidentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incident",
		Short: "Create and drive incidents through their lifecycle",
	}
	cmd.AddCommand(newIncidentCreateCommand())
	cmd.AddCommand(newIncidentTransitionCommand())
	cmd.AddCommand(newIncidentGateCommand())
	cmd.AddCommand(newIncidentShowCommand())
	cmd.AddCommand(newIncidentListCommand())
	cmd.AddCommand(newIncidentArchiveCommand())
	return cmd
}

func newIncidentCreateCommand() *cobra.Command {
	var (
		title       string
		description string
		severity    string
		services    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new incident in the detecting state",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"title":             title,
				"description":       description,
				"severity":          severity,
				"affected_services": services,
			}
			resp, err := newClient().post("/api/v1/incidents", body)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "incident title (required)")
	cmd.Flags().StringVar(&description, "description", "", "incident description")
	cmd.Flags().StringVar(&severity, "severity", "SEV2", "incident severity (SEV0..SEV4)")
	cmd.Flags().StringSliceVar(&services, "service", nil, "affected service (repeatable)")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newIncidentTransitionCommand() *cobra.Command {
	var (
		to     string
		reason string
		actor  string
	)

	cmd := &cobra.Command{
		Use:   "transition <incident-id>",
		Short: "Move an incident to a new lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"state":  to,
				"reason": reason,
				"actor":  actor,
			}
			path := fmt.Sprintf("/api/v1/incidents/%s/transition", url.PathEscape(args[0]))
			resp, err := newClient().post(path, body)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "target state (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the incident is moving")
	cmd.Flags().StringVar(&actor, "actor", "flarectl", "who is moving it")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newIncidentGateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "complete-gate <incident-id> <gate>",
		Short: "Mark a lifecycle gate as complete",
		Long: `Mark a lifecycle gate as complete.

Gates are detection, triage, response and resolution. Forward
transitions are rejected until the gate guarding them is complete.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/incidents/%s/gates/%s",
				url.PathEscape(args[0]), url.PathEscape(args[1]))
			resp, err := newClient().post(path, nil)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newIncidentShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Show a single incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/incidents/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newIncidentListCommand() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents, active ones by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/incidents"
			if state != "" {
				path += "?state=" + url.QueryEscape(state)
			}
			resp, err := newClient().get(path)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by lifecycle state")
	return cmd
}

func newIncidentArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [incident-id]",
		Short: "Read durable incident snapshots from the archive",
		Long: `Read durable incident snapshots from the archive.

With no argument, lists every archived incident. Snapshots outlive the
in-memory lifecycle machine, so closed incidents from prior runs remain
readable here.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/incidents/archive"
			if len(args) == 1 {
				path = fmt.Sprintf("/api/v1/incidents/%s/archive", url.PathEscape(args[0]))
			}
			resp, err := newClient().get(path)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}
