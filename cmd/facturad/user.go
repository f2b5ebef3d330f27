package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/facturad/internal/config"
	"github.com/fyrsmithlabs/facturad/internal/store"
)

var (
	userEmail      string
	userCredential string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a user and store their mailbox refresh credential",
	Long: `Add registers a user by email. The refresh credential is the long-lived
OAuth token obtained from the mail provider's consent flow; without it
the user is skipped by sync.

Examples:
  facturad user add --email ana@example.com --refresh-credential 1//0g...`,
	RunE: runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE:  runUserList,
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "user email address")
	userAddCmd.Flags().StringVar(&userCredential, "refresh-credential", "", "mailbox OAuth refresh token")
	_ = userAddCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	id, err := st.CreateUser(ctx, userEmail, userCredential)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		lastSync := "never"
		if u.LastSyncAt != nil {
			lastSync = u.LastSyncAt.UTC().Format("2006-01-02 15:04:05")
		}
		credential := "no credential"
		if u.RefreshCredential != "" {
			credential = "credential stored"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  last sync: %s\n",
			u.ID, u.Email, credential, lastSync)
	}
	return nil
}
