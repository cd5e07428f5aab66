package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var outcomesFlags struct {
	clientConfig
	limit int
}

var outcomesCmd = &cobra.Command{
	Use:   "outcomes <campaign-id>",
	Short: "List recorded outcomes for a campaign",
	Long:  `List the most recent routing outcomes for a campaign: private feedback, platform referrals and declines.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runOutcomes,
}

func init() {
	rootCmd.AddCommand(outcomesCmd)

	addClientFlags(outcomesCmd, &outcomesFlags.clientConfig)
	outcomesCmd.Flags().IntVar(&outcomesFlags.limit, "limit", 50, "maximum number of outcomes")
}

func runOutcomes(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := outcomesFlags.newClient()
	if err != nil {
		return err
	}
	resp, err := c.ListOutcomes(id, outcomesFlags.limit)
	if err != nil {
		return err
	}
	if len(resp.Outcomes) == 0 {
		fmt.Println("No outcomes found.")
		return nil
	}

	fmt.Printf("%-19s  %-17s  %-6s  %-10s  %s\n", "TIME", "TYPE", "RATING", "PLATFORM", "DETAIL")
	for _, o := range resp.Outcomes {
		detail := deref(o.Text)
		if o.URL != nil {
			detail = *o.URL
		}
		if o.Attributes["alert"] == true {
			detail = "[alert] " + detail
		}
		fmt.Printf("%-19s  %-17s  %-6d  %-10s  %s\n", formatTime(o.OccurredAt), o.Type, o.Rating, deref(o.Platform), detail)
	}
	return nil
}
