package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanctx/internal/app"
	"github.com/Aman-CERP/amanctx/internal/output"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// analysisReport aggregates per-file statistics over a tree.
type analysisReport struct {
	Project   ports.ProjectInfo `json:"project"`
	VCS       *ports.VCSInfo    `json:"vcs,omitempty"`
	Files     int               `json:"files"`
	Lines     int               `json:"lines"`
	CodeLines int               `json:"code_lines"`
	Languages map[string]int    `json:"languages"`
	Symbols   map[string]int    `json:"symbols"`
	Skipped   []string          `json:"skipped,omitempty"`
}

func newAnalyzeCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "Summarize a source tree: project type, languages, lines and symbols",
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

			rep, err := analyzeTree(ctx, s.app, root)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(rep)
			}
			printAnalysis(out, rep)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func analyzeTree(ctx context.Context, a *app.App, root string) (analysisReport, error) {
	rep := analysisReport{Languages: map[string]int{}, Symbols: map[string]int{}}

	info, err := a.Projects.Detect(ctx, root)
	if err != nil {
		return rep, err
	}
	rep.Project = info
	if v, ok, err := a.VCS.Detect(ctx, root); err == nil && ok {
		rep.VCS = &v
	}

	files, err := a.Scanner.Scan(ctx, root)
	if err != nil {
		return rep, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, f := range files {
		g.Go(func() error {
			content, err := os.ReadFile(f.AbsPath)
			if err != nil {
				mu.Lock()
				rep.Skipped = append(rep.Skipped, f.Path)
				mu.Unlock()
				return nil
			}
			stats, err := a.Analyzer.Analyze(gctx, f.Path, content, f.Language)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				mu.Lock()
				rep.Skipped = append(rep.Skipped, f.Path)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Files++
			rep.Lines += stats.Lines
			rep.CodeLines += stats.CodeLines
			if stats.Language != "" {
				rep.Languages[stats.Language]++
			}
			for k, n := range stats.Symbols {
				rep.Symbols[k] += n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	sort.Strings(rep.Skipped)
	return rep, nil
}

func printAnalysis(out *output.Writer, rep analysisReport) {
	rows := [][2]string{
		{"project", rep.Project.Name},
		{"root", rep.Project.Root},
	}
	if len(rep.Project.Types) > 0 {
		rows = append(rows, [2]string{"types", fmt.Sprint(rep.Project.Types)})
	}
	if rep.VCS != nil {
		rows = append(rows, [2]string{"branch", rep.VCS.Branch}, [2]string{"commit", rep.VCS.Commit})
	}
	rows = append(rows,
		[2]string{"files", fmt.Sprint(rep.Files)},
		[2]string{"lines", fmt.Sprintf("%d (%d code)", rep.Lines, rep.CodeLines)},
	)
	out.KV(rows)
	out.Newline()
	out.Counts("languages", rep.Languages)
	out.Counts("symbols", rep.Symbols)
	if n := len(rep.Skipped); n > 0 {
		out.Warningf("%d file(s) could not be analyzed", n)
	}
}
