package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.3.0"

var (
	serverURL string
	authToken string
	timeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flarectl",
		Short: "Command line client for a flare-relay instance",
		Long: `flarectl talks to a running flare-relay over its HTTP API.

It can feed events into the normalizer, inspect recent routing
decisions and drive incidents through their lifecycle.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "flare-relay base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for authenticated instances")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")

	viper.SetEnvPrefix("FLARE")
	viper.AutomaticEnv()
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.AddCommand(newEventCommand())
	rootCmd.AddCommand(newIncidentCommand())
	rootCmd.AddCommand(newRoutingCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() *client {
	return &client{
		baseURL: viper.GetString("server"),
		token:   viper.GetString("token"),
		timeout: timeout,
	}
}
