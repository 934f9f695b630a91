package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"restorebot/internal/storage"
)

func NewVIPCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vip",
		Short: "Manage users exempt from the daily limit",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List VIP users",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st storage.Store) error {
					users, err := st.ListPrivileged(ctx)
					if err != nil {
						return err
					}
					if len(users) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No VIP users.")
						return nil
					}
					for _, u := range users {
						fmt.Fprintf(cmd.OutOrStdout(), "%d | added %s\n", u.UserID, u.AddedAt.Format("2006-01-02"))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add USER_ID",
			Short: "Grant VIP",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st storage.Store) error {
					if err := st.AddPrivileged(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "User %d is now VIP.\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "del USER_ID",
			Short: "Revoke VIP",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st storage.Store) error {
					removed, err := st.RemovePrivileged(ctx, id)
					if err != nil {
						return err
					}
					if !removed {
						fmt.Fprintf(cmd.OutOrStdout(), "User %d was not VIP.\n", id)
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "User %d is no longer VIP.\n", id)
					return nil
				})
			},
		},
	)
	return cmd
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id: %s", s)
	}
	return id, nil
}
