// Package cmd contains the CLI commands for pcbctl.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pcbrecon-backend/pkg/client"
)

var (
	apiURL  string
	token   string
	output  string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "pcbctl",
	Short: "pcbctl - PCBRecon command line client",
	Long: `pcbctl talks to a PCBRecon server: upload board images, read the
AI analysis, and chat about a board from the terminal.

The server address and token default to PCBRECON_API_URL and
PCBRECON_TOKEN.

Examples:
  # List projects
  pcbctl projects list

  # Create a project from a photo
  pcbctl projects create --name "Router mainboard" --image ./board.jpg

  # Chat about project 3
  pcbctl chat 3`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("PCBRECON_API_URL", "http://localhost:8000"), "PCBRecon server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PCBRECON_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

func newClient() *client.Client {
	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(apiURL, opts...)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
