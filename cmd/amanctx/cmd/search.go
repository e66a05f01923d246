package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/output"
	"github.com/Aman-CERP/amanctx/internal/search"
)

type searchFlags struct {
	collection   string
	limit        int
	language     string
	kind         string
	scopes       []string
	semanticOnly bool
	alpha        float64
	content      bool
	json         bool
}

func newSearchCmd(g *globals) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Hybrid search over an indexed collection",
		Example: `  amanctx search parse config file
  amanctx search "retry with backoff" --language go -n 5
  amanctx search handler --scope internal/server --kind function --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("alpha") && (f.alpha < 0 || f.alpha > 1) {
				return amerrors.InvalidArgument("--alpha must be within [0, 1]")
			}
			cwd, err := os.Getwd()
			if err != nil {
				return amerrors.Infrastructure("resolve working directory", err)
			}
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			a := s.app

			opts := search.SearchOptions{
				Limit:        f.limit,
				Language:     f.language,
				Kind:         f.kind,
				Scopes:       f.scopes,
				SemanticOnly: f.semanticOnly,
			}
			if opts.Limit <= 0 {
				opts.Limit = s.cfg.Search.DefaultLimit
			}
			if cmd.Flags().Changed("alpha") {
				opts.Alpha = &f.alpha
			}

			query := strings.Join(args, " ")
			results, err := a.Searcher.Search(ctx, collectionFor(ctx, a, cwd, f.collection), query, opts)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if f.json {
				if results == nil {
					results = []search.Result{}
				}
				return out.JSON(results)
			}
			printResults(out, results, f.content)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.collection, "collection", "", "Collection name (default: detected project name)")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "Maximum results (default: search.default_limit)")
	cmd.Flags().StringVar(&f.language, "language", "", "Only chunks of this language")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Only chunks of this symbol kind (function, type, ...)")
	cmd.Flags().StringSliceVar(&f.scopes, "scope", nil, "Only files under these path prefixes")
	cmd.Flags().BoolVar(&f.semanticOnly, "semantic-only", false, "Skip keyword matching")
	cmd.Flags().Float64Var(&f.alpha, "alpha", 0, "Semantic weight in [0, 1] (default: search.alpha)")
	cmd.Flags().BoolVar(&f.content, "content", false, "Print matching chunk content")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output as JSON")
	return cmd
}

func printResults(out *output.Writer, results []search.Result, content bool) {
	if len(results) == 0 {
		out.Info("no results")
		return
	}
	for i, r := range results {
		label := fmt.Sprintf("%d. %s:%d-%d  %.3f", i+1, r.FilePath, r.StartLine, r.EndLine, r.Score)
		if sym, ok := r.Metadata["symbol"].(string); ok && sym != "" {
			label += "  " + sym
		}
		out.Info(label)
		if content {
			out.Code(r.Content)
		}
	}
}
