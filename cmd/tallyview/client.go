package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/tallyview/internal/client"
)

type clientConfig struct {
	apiKey string
	apiURL string
}

func addClientFlags(cmd *cobra.Command, c *clientConfig) {
	cmd.Flags().StringVar(&c.apiKey, "api-key", cfg.APIKey, "API key for authentication")
	cmd.Flags().StringVar(&c.apiURL, "api-url", cfg.APIURL, "API server URL")
}

func (c *clientConfig) newClient() (*client.Client, error) {
	if c.apiURL == "" {
		return nil, fmt.Errorf("API URL required (use --api-url flag or TALLYVIEW_API_URL env var)")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key required (use --api-key flag or TALLYVIEW_API_KEY env var)")
	}
	return client.NewClient(c.apiURL, c.apiKey), nil
}

func formatTime(s string) string {
	if s == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
