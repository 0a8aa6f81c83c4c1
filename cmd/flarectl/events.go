package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func newEventCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Ingest and inspect events",
	}
	cmd.AddCommand(newEventIngestCommand())
	cmd.AddCommand(newEventRecentCommand())
	cmd.AddCommand(newEventShowCommand())
	return cmd
}

func newEventIngestCommand() *cobra.Command {
	var source string
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit a raw payload for normalization",
		Long: `Submit a raw payload for normalization.

The payload is read from --file, or from stdin when --file is omitted.

Examples:
  flarectl event ingest --source webhook --file alert.json
  cat alarm.json | flarectl event ingest --source cloudwatch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(file)
			if err != nil {
				return err
			}
			switch source {
			case "webhook", "prometheus", "cloudwatch", "manual":
			default:
				return fmt.Errorf("unknown source %q", source)
			}
			resp, err := newClient().post("/api/v1/events/"+source, payload)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&source, "source", "webhook", "payload source (webhook, prometheus, cloudwatch, manual)")
	cmd.Flags().StringVar(&file, "file", "", "payload file (default: stdin)")
	return cmd
}

func newEventRecentCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently ingested events",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get(fmt.Sprintf("/api/v1/events/recent?limit=%d", limit))
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}

func newEventShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Fetch a cached event by its deterministic id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/events/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func readPayload(file string) (map[string]any, error) {
	var raw []byte
	var err error
	if file != "" {
		raw, err = os.ReadFile(file)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return payload, nil
}
