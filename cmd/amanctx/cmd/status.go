package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanctx/internal/contextsvc"
	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/output"
)

type statusReport struct {
	Indexing domain.IndexingStatus   `json:"indexing"`
	Stats    contextsvc.Stats        `json:"stats"`
	History  []indexing.HistoryEntry `json:"history"`
}

func newStatusCmd(g *globals) *cobra.Command {
	var (
		collection string
		history    int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show collection statistics and recent indexing runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			a := s.app

			name := collectionFor(ctx, a, root, collection)
			stats, err := a.Context.GetStats(ctx, name)
			if err != nil {
				return err
			}
			runs, err := a.Indexer.History(ctx, name, history)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []indexing.HistoryEntry{}
			}
			rep := statusReport{Indexing: a.Indexer.Status(), Stats: stats, History: runs}

			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(rep)
			}
			printStatus(out, rep)
			return nil
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Collection name (default: detected project name)")
	cmd.Flags().IntVar(&history, "history", 5, "Number of recent runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printStatus(out *output.Writer, rep statusReport) {
	st := rep.Stats
	if !st.Exists {
		out.Warningf("collection %q has not been indexed; run 'amanctx index'", st.Collection)
	}
	out.KV([][2]string{
		{"collection", st.Collection},
		{"files", fmt.Sprint(st.IndexedFiles)},
		{"vectors", fmt.Sprint(st.Vectors)},
		{"model", fmt.Sprintf("%s (%d dims)", st.Model, st.Dimensions)},
	})
	if st.DeletedFiles > 0 {
		out.Infof("%d deleted file(s) tombstoned", st.DeletedFiles)
	}
	if rep.Indexing.IsIndexing {
		out.Infof("indexing %s: %d/%d files", rep.Indexing.Collection,
			rep.Indexing.ProcessedFiles, rep.Indexing.TotalFiles)
	}
	if len(rep.History) == 0 {
		return
	}
	out.Newline()
	out.Info("recent runs")
	for _, h := range rep.History {
		line := fmt.Sprintf("%s  %-9s %d/%d files, %d chunks, %s",
			h.StartedAt.Local().Format(time.DateTime), h.Status, h.ProcessedFiles, h.TotalFiles,
			h.Chunks, h.FinishedAt.Sub(h.StartedAt).Round(time.Millisecond))
		if h.Status == domain.StatusFailed {
			out.Warning(line)
			continue
		}
		out.Info(line)
	}
}
