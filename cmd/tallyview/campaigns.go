package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rsclarke/tallyview/internal/store"
	"github.com/rsclarke/tallyview/internal/types"
)

var campaignsFlags struct {
	clientConfig
}

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Manage review campaigns",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns with funnel counts",
	Args:  cobra.NoArgs,
	RunE:  runCampaignsList,
}

var campaignsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create campaigns from a YAML file",
	Long: `Create one campaign per YAML document in the file. Use "-" to read
from standard input. Example document:

  name: Acme Dental
  target_platforms: [google, facebook]
  platform_profiles:
    google: ChIJN1t_tDeuEmsRUsoyG83frY4
  reputation_protection: true
  reputation_threshold: 4
  alert_below_rating: 3`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaignsImport,
}

var campaignsStatusCmd = &cobra.Command{
	Use:   "status <id> <active|paused|archived>",
	Short: "Change a campaign's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runCampaignsStatus,
}

func init() {
	rootCmd.AddCommand(campaignsCmd)
	campaignsCmd.AddCommand(campaignsListCmd, campaignsImportCmd, campaignsStatusCmd)

	for _, c := range campaignsCmd.Commands() {
		addClientFlags(c, &campaignsFlags.clientConfig)
	}
}

func runCampaignsList(cmd *cobra.Command, args []string) error {
	c, err := campaignsFlags.newClient()
	if err != nil {
		return err
	}
	resp, err := c.ListCampaigns()
	if err != nil {
		return err
	}
	if len(resp.Campaigns) == 0 {
		fmt.Println("No campaigns found.")
		return nil
	}

	fmt.Printf("%-6s  %-24s  %-9s  %-8s  %-8s  %-8s  %-8s  %-8s  %s\n",
		"ID", "NAME", "STATUS", "OPENED", "RATED", "FEEDBACK", "REFERRED", "DECLINED", "LINK")
	for _, ci := range resp.Campaigns {
		f := ci.Funnel
		if f == nil {
			f = &types.FunnelCounts{}
		}
		fmt.Printf("%-6d  %-24s  %-9s  %-8d  %-8d  %-8d  %-8d  %-8d  %s\n",
			ci.ID, ci.Name, ci.Status, f.Opened, f.Rated, f.Feedback, f.Referred, f.Declined, ci.Link)
	}
	return nil
}

func runCampaignsImport(cmd *cobra.Command, args []string) error {
	c, err := campaignsFlags.newClient()
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	campaigns, err := decodeCampaigns(r)
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		return fmt.Errorf("%s contains no campaigns", args[0])
	}

	for _, nc := range campaigns {
		ci, err := c.CreateCampaign(nc)
		if err != nil {
			return fmt.Errorf("create campaign %q: %w", nc.Name, err)
		}
		fmt.Printf("Created campaign %d (%s): %s\n", ci.ID, ci.Name, ci.Link)
	}
	return nil
}

func decodeCampaigns(r io.Reader) ([]store.NewCampaign, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []store.NewCampaign
	for {
		var nc store.NewCampaign
		err := dec.Decode(&nc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse campaign %d: %w", len(out)+1, err)
		}
		out = append(out, nc)
	}
}

func runCampaignsStatus(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := campaignsFlags.newClient()
	if err != nil {
		return err
	}
	ci, err := c.SetCampaignStatus(id, strings.ToLower(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("Campaign %d is now %s.\n", ci.ID, ci.Status)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid campaign id %q", s)
	}
	return id, nil
}
