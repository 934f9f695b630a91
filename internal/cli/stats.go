package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"restorebot/internal/storage"
)

func NewStatsCmd(cfgPath *string) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print request totals and the latest attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st storage.Store) error {
				s, err := st.AggregateStats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "total=%d success=%d fail=%d users=%d\n", s.Total, s.Success, s.Fail, s.DistinctUsers)
				if recent <= 0 {
					return nil
				}
				logs, err := st.RecentRequests(ctx, recent)
				if err != nil {
					return err
				}
				for _, r := range logs {
					fmt.Fprintf(out, "%s | %-7s | user=%d | %s\n", r.At.Format("2006-01-02 15:04:05"), r.Status, r.UserID, r.TargetID)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent attempts to list (0 to skip)")
	return cmd
}
