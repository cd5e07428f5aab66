package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pluginsFlags struct {
	clientConfig
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the outcome plugins loaded by the server",
	Args:  cobra.NoArgs,
	RunE:  runPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)

	addClientFlags(pluginsCmd, &pluginsFlags.clientConfig)
}

func runPlugins(cmd *cobra.Command, args []string) error {
	c, err := pluginsFlags.newClient()
	if err != nil {
		return err
	}
	resp, err := c.ListPlugins()
	if err != nil {
		return err
	}
	fmt.Printf("%-12s  %-8s  %-8s  %s\n", "ID", "TYPE", "ENABLED", "CONFIG")
	for _, p := range resp.Plugins {
		fmt.Printf("%-12s  %-8s  %-8t  %v\n", p.ID, p.Type, p.Enabled, p.Config)
	}
	return nil
}
