package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/session"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <user-id>",
	Short: "Run a discovery search in the foreground",
	Long:  "Runs every discovery phase for the user's saved profile, printing progress as it goes. Ctrl-C stops the run; funds found so far are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		userID := args[0]
		analyze, _ := cmd.Flags().GetBool("analyze")

		env, err := initApp(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		profile, err := env.Store.LoadProfile(ctx, userID)
		if err != nil {
			return eris.Wrap(err, "discover: load profile")
		}
		if profile == nil {
			return eris.Errorf("discover: no profile saved for %s", userID)
		}

		sess, err := env.Sessions.Get(ctx, userID)
		if err != nil {
			return eris.Wrap(err, "discover: open session")
		}

		p := &progressPrinter{out: os.Stderr}
		unsubscribe := sess.Subscribe(p.observe)
		out := sess.Run(ctx, profile, session.RunOptions{Analyze: analyze})
		unsubscribe()

		funds := sess.Funds()
		formatFundsList(os.Stdout, funds)
		_, _ = fmt.Fprintf(os.Stderr, "\n%s: %d funds, %d analyzed\n", out.Status, len(funds), out.Analyzed)
		if out.Status == model.RunStatusFailed {
			return eris.New(out.Message)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().Bool("analyze", false, "research how to apply to each fund after discovery (always on for premium profiles)")
	rootCmd.AddCommand(discoverCmd)
}

// progressPrinter writes one line per phase change.
type progressPrinter struct {
	out  io.Writer
	mu   sync.Mutex
	last string
}

func (p *progressPrinter) observe(ev session.Event) {
	st := ev.State
	if !st.Active || st.Phase == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Phase == p.last {
		return
	}
	p.last = st.Phase
	_, _ = fmt.Fprintf(p.out, "[%d/%d] %s (funds: %d)\n", st.Step, st.Total, st.Phase, st.FundsFound)
}

// formatFundsList writes a tabular list of funds to w.
func formatFundsList(out io.Writer, funds []model.Fund) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMANAGER\tSDGS\tSTATUS\tANALYZED")
	_, _ = fmt.Fprintln(w, "----\t-------\t----\t------\t--------")

	for _, f := range funds {
		analyzed := "no"
		if f.HasAnalysis() {
			analyzed = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			clip(f.Name, 40),
			clip(f.Manager, 30),
			clip(strings.Join(f.Alignment.SDGs, ", "), 30),
			f.Status,
			analyzed,
		)
	}
	_ = w.Flush()
}

// clip shortens s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
