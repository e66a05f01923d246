package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/output"
	"github.com/Aman-CERP/amanctx/internal/preflight"
)

type doctorReport struct {
	Status string             `json:"status"`
	Checks []preflight.Result `json:"checks"`
}

func newDoctorCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the host and the configured providers",
		Long: `Check free disk space and write access under data_dir, the open file
limit, and the health of every configured provider. An embedding round trip
verifies that the model answers with the configured dimensionality.

Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			results := preflight.New(cfg.DataDir).System()
			if s, err := g.open(ctx); err != nil {
				results = append(results, preflight.Result{
					Name:     "services",
					Status:   preflight.StatusFail,
					Message:  err.Error(),
					Required: true,
				})
			} else {
				results = append(results, preflight.New(cfg.DataDir,
					preflight.WithHealth(s.app),
					preflight.WithEmbedder(s.app.Embedder),
				).Services(ctx)...)
				_ = s.Close()
			}

			rep := doctorReport{Status: preflight.Summary(results), Checks: results}
			out := output.New(cmd.OutOrStdout())
			if asJSON {
				if err := out.JSON(rep); err != nil {
					return err
				}
			} else {
				printDoctor(out, rep)
			}
			if preflight.Critical(results) {
				return amerrors.Unavailable("%d required check(s) failed", countCritical(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printDoctor(out *output.Writer, rep doctorReport) {
	for _, r := range rep.Checks {
		line := r.Name + ": " + r.Message
		switch r.Status {
		case preflight.StatusPass:
			out.Success(line)
		case preflight.StatusWarn:
			out.Warning(line)
		default:
			out.Error(line)
		}
		if r.Hint != "" {
			out.Info("  " + r.Hint)
		}
	}
	out.Newline()
	out.Info("status: " + strings.ToUpper(rep.Status))
}

func countCritical(results []preflight.Result) int {
	n := 0
	for _, r := range results {
		if r.IsCritical() {
			n++
		}
	}
	return n
}
