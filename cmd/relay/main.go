package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "relay - communication routing engine for public records requests",
		Long: `relay delivers outbound records-request correspondence over the best
available channel (portal, email, fax, or postal mail), automates agency
portal sessions, routes inbound agency messages back to their requests,
and escalates anything it cannot handle to a human task queue.`,
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			return runServe(configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults to $CONFIG_PATH)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
