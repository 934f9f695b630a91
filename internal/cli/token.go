package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"restorebot/internal/app"
	"restorebot/internal/credential"
	"restorebot/internal/storage"
	logx "restorebot/pkg/logx"
)

func NewTokenCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage stored credentials offline",
	}
	cmd.AddCommand(newTokenImportCmd(cfgPath), newTokenListCmd(cfgPath))
	return cmd
}

func newTokenImportCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import NAME FILE",
		Short: "Parse a captured request dump (FILE or - for stdin) and store it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDump(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			sec, mode, err := credential.ParseRequestDump(raw)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st storage.Store) error {
				saved, err := st.SaveCredential(ctx, credential.Credential{
					Name:      strings.TrimSpace(args[0]),
					Secret:    sec,
					Mode:      mode,
					CreatedAt: time.Now(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved credential #%d %q (%s, %s)\n", saved.ID, saved.Name, saved.Mode, sec.Fingerprint())
				return nil
			})
		},
	}
}

func newTokenListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st storage.Store) error {
				creds, err := st.ListCredentials(ctx)
				if err != nil {
					return err
				}
				if len(creds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored.")
					return nil
				}
				for i, c := range creds {
					fmt.Fprintf(cmd.OutOrStdout(), "%d | #%-4d | %-10s | %s | %s\n",
						i+1, c.ID, c.Mode, c.Secret.Preview(12), c.Name)
				}
				return nil
			})
		},
	}
}

func readDump(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read dump: %w", err)
	}
	return string(b), nil
}

// withStore opens the configured store for one offline command.
func withStore(ctx context.Context, cfgPath string, fn func(ctx context.Context, st storage.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, _, err := app.OpenStore(cfgPath, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(ctx, st)
}
