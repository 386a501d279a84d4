package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fundscout/internal/fund"
)

var statusCmd = &cobra.Command{
	Use:   "status <user-id> <fund-name> <status>",
	Short: "Set the lifecycle status of a saved fund",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		userID, name, status := args[0], args[1], args[2]

		if err := cfg.Validate("data"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		saved, err := st.LoadFunds(ctx, userID)
		if err != nil {
			return eris.Wrap(err, "status: load funds")
		}
		funds := fund.NewCollection(saved...)
		prev, _ := funds.Status(name)
		if !funds.SetStatus(name, status) {
			return eris.Errorf("status: fund %q not found for %s", name, userID)
		}
		f, _ := funds.Get(name)
		if err := st.UpdateFundStatus(ctx, userID, f.Name, status); err != nil {
			return eris.Wrap(err, "status: update")
		}

		_, _ = fmt.Fprintf(os.Stdout, "%s: %s -> %s\n", f.Name, prev, status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
