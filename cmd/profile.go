package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fundscout/internal/model"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or save company profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print the user's saved profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("data"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.LoadProfile(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "profile show")
		}
		if p == nil {
			return eris.Errorf("profile show: no profile saved for %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <user-id> <profile.json|->",
	Short: "Save a profile read from a JSON file or stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, err := readProfile(args[1])
		if err != nil {
			return err
		}
		if err := cfg.Validate("data"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SaveProfile(ctx, args[0], p); err != nil {
			return eris.Wrap(err, "profile set")
		}
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	rootCmd.AddCommand(profileCmd)
}

// readProfile decodes a profile from path, or stdin when path is "-". The
// tier defaults to demo.
func readProfile(path string) (*model.Profile, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "profile: open file")
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	var p model.Profile
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, eris.Wrap(err, "profile: decode")
	}
	if p.CompanyName == "" {
		return nil, eris.New("profile: company_name is required")
	}
	if p.Tier == "" {
		p.Tier = model.TierDemo
	}
	if !p.Tier.Valid() {
		return nil, eris.Errorf("profile: unknown tier %q", p.Tier)
	}
	return &p, nil
}
