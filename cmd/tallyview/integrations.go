package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var integrationsFlags struct {
	clientConfig
}

var integrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "Manage stored integration credentials",
}

var integrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List integrations (credentials are never shown)",
	Args:  cobra.NoArgs,
	RunE:  runIntegrationsList,
}

var integrationsDeleteCmd = &cobra.Command{
	Use:   "delete <type>",
	Short: "Delete an integration and its stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrationsDelete,
}

func init() {
	rootCmd.AddCommand(integrationsCmd)
	integrationsCmd.AddCommand(integrationsListCmd, integrationsDeleteCmd)

	addClientFlags(integrationsListCmd, &integrationsFlags.clientConfig)
	addClientFlags(integrationsDeleteCmd, &integrationsFlags.clientConfig)
}

func runIntegrationsList(cmd *cobra.Command, args []string) error {
	c, err := integrationsFlags.newClient()
	if err != nil {
		return err
	}
	resp, err := c.ListIntegrations()
	if err != nil {
		return err
	}
	if len(resp.Integrations) == 0 {
		fmt.Println("No integrations found.")
		return nil
	}

	fmt.Printf("%-16s  %-24s  %-8s  %s\n", "TYPE", "NAME", "ACTIVE", "UPDATED")
	for _, i := range resp.Integrations {
		fmt.Printf("%-16s  %-24s  %-8t  %s\n", i.Type, i.DisplayName, i.IsActive, formatTime(i.UpdatedAt))
	}
	return nil
}

func runIntegrationsDelete(cmd *cobra.Command, args []string) error {
	c, err := integrationsFlags.newClient()
	if err != nil {
		return err
	}
	if err := c.DeleteIntegration(args[0]); err != nil {
		return err
	}
	fmt.Printf("Integration %s deleted.\n", args[0])
	return nil
}
