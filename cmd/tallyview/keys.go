package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/tallyview/internal/db"
	"github.com/rsclarke/tallyview/internal/store"
	"github.com/rsclarke/tallyview/internal/vault"
)

// The keys commands work directly against the database and need the master
// key. They are operator tooling; tenants manage keys through the API.

var keysFlags struct {
	tenant      string
	name        string
	expiresDays int
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage tenant API keys (operator, local database)",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key",
	Args:  cobra.NoArgs,
	RunE: withVault(func(ctx context.Context, v *vault.Vault, args []string) error {
		req := vault.IssueRequest{TenantID: keysFlags.tenant, DisplayName: keysFlags.name}
		if keysFlags.expiresDays > 0 {
			req.ExpiresInDays = &keysFlags.expiresDays
		}
		issued, err := v.IssueKey(ctx, req)
		if err != nil {
			return err
		}
		printIssued(issued)
		return nil
	}),
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's API keys",
	Args:  cobra.NoArgs,
	RunE: withVault(func(ctx context.Context, v *vault.Vault, args []string) error {
		creds, err := v.List(ctx, keysFlags.tenant)
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("No keys found.")
			return nil
		}
		fmt.Printf("%-36s  %-20s  %-12s  %-8s  %-19s  %s\n", "ID", "NAME", "PREFIX", "ACTIVE", "CREATED", "LAST USED")
		for _, c := range creds {
			fmt.Printf("%-36s  %-20s  %-12s  %-8t  %-19s  %s\n",
				c.ID, c.DisplayName, c.PrefixHint, c.IsActive, unixTime(&c.CreatedAt), unixTime(c.LastUsedAt))
		}
		return nil
	}),
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: withVault(func(ctx context.Context, v *vault.Vault, args []string) error {
		if err := v.Revoke(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Key %s revoked.\n", args[0])
		return nil
	}),
}

var keysToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Flip an API key between active and inactive",
	Args:  cobra.ExactArgs(1),
	RunE: withVault(func(ctx context.Context, v *vault.Vault, args []string) error {
		c, err := v.ToggleActive(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Key %s active: %t\n", c.ID, c.IsActive)
		return nil
	}),
}

var keysRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Change an API key's display name",
	Args:  cobra.ExactArgs(2),
	RunE: withVault(func(ctx context.Context, v *vault.Vault, args []string) error {
		c, err := v.Rename(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Key %s renamed to %q.\n", c.ID, c.DisplayName)
		return nil
	}),
}

var keysRevealCmd = &cobra.Command{
	Use:   "reveal <id>",
	Short: "Decrypt and print an API key's secret",
	Args:  cobra.ExactArgs(1),
	RunE: withVault(func(ctx context.Context, v *vault.Vault, args []string) error {
		secret, err := v.Reveal(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	}),
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <id>",
	Short: "Issue a replacement key and revoke the original",
	Args:  cobra.ExactArgs(1),
	RunE: withVault(func(ctx context.Context, v *vault.Vault, args []string) error {
		issued, err := v.Rotate(ctx, args[0])
		if err != nil {
			return err
		}
		printIssued(issued)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "database path")

	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd, keysToggleCmd, keysRenameCmd, keysRevealCmd, keysRotateCmd)

	keysCreateCmd.Flags().StringVar(&keysFlags.tenant, "tenant", "", "tenant ID")
	keysCreateCmd.Flags().StringVar(&keysFlags.name, "name", "", "display name")
	keysCreateCmd.Flags().IntVar(&keysFlags.expiresDays, "expires-days", 0, "days until the key expires (0 never expires)")
	_ = keysCreateCmd.MarkFlagRequired("tenant")
	_ = keysCreateCmd.MarkFlagRequired("name")

	keysListCmd.Flags().StringVar(&keysFlags.tenant, "tenant", "", "tenant ID")
	_ = keysListCmd.MarkFlagRequired("tenant")
}

func withVault(fn func(ctx context.Context, v *vault.Vault, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		masterKey, err := cfg.Key()
		if err != nil {
			return err
		}
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()

		v, err := newVault(store.New(database), masterKey)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), v, args)
	}
}

func printIssued(issued *vault.Issued) {
	r := issued.Record
	fmt.Printf("ID:      %s\n", r.ID)
	fmt.Printf("Tenant:  %s\n", r.TenantID)
	fmt.Printf("Name:    %s\n", r.DisplayName)
	fmt.Printf("Expires: %s\n", unixTime(r.ExpiresAt))
	fmt.Println()
	fmt.Println("Secret:")
	fmt.Println(issued.RawSecret)
}

func unixTime(ts *int64) string {
	if ts == nil {
		return "-"
	}
	return time.Unix(*ts, 0).Local().Format("2006-01-02 15:04:05")
}

