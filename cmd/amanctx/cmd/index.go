package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/output"
)

type indexOptions struct {
	collection string
	clear      bool
	watch      bool
	debounce   time.Duration
	json       bool
}

func newIndexCmd(g *globals) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a source tree",
		Long: `Index every supported file under path (default: the working directory).

Unchanged files are skipped using their content hash, so re-running the
command only re-embeds what changed. With --watch the command keeps the
collection in sync until interrupted.`,
		Example: `  amanctx index
  amanctx index ./services/api --collection api
  amanctx index --clear --json
  amanctx index --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, g, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.collection, "collection", "", "Collection name (default: detected project name)")
	cmd.Flags().BoolVar(&opts.clear, "clear", false, "Drop the collection before indexing")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep the collection in sync after indexing")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", 500*time.Millisecond, "Quiet period before a watched change is synced")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the final report as JSON")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globals, args []string, opts indexOptions) error {
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
	a.Start(ctx)

	out := output.New(cmd.OutOrStdout())
	collection := collectionFor(ctx, a, root, opts.collection)
	if opts.clear {
		if err := a.Indexer.ClearCollection(ctx, collection); err != nil {
			return err
		}
	}

	sub := a.Bus.Subscribe()
	defer sub.Close()

	res, err := a.Indexer.IndexCodebase(ctx, root, collection)
	if err != nil {
		return err
	}
	if !opts.json {
		out.Infof("indexing %s into %q (%d files)", root, collection, res.TotalFiles)
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		if !opts.json {
			showProgress(progressCtx, out, sub, res.OperationID)
		}
	}()

	rep, err := a.Indexer.Wait(ctx, res.OperationID)
	if err != nil && ctx.Err() != nil {
		// Interrupted: stop the pass and wait for it to record its state.
		_ = a.Indexer.Cancel(res.OperationID)
		rep, err = a.Indexer.Wait(context.WithoutCancel(ctx), res.OperationID)
	}
	stopProgress()
	<-progressDone
	if err != nil {
		return err
	}

	if opts.json {
		if err := out.JSON(rep); err != nil {
			return err
		}
	} else {
		printReport(out, rep)
	}
	if rep.Status == domain.StatusFailed {
		if ctx.Err() != nil {
			return amerrors.Cancelled("indexing "+collection, ctx.Err())
		}
		return amerrors.Internal("indexing "+collection+" failed", nil)
	}

	if !opts.watch {
		return nil
	}
	if !opts.json {
		out.Infof("watching %s (ctrl-c to stop)", root)
	}
	return a.Indexer.Watch(ctx, root, collection, opts.debounce)
}

// showProgress renders IndexingProgress events of one operation until ctx
// ends.
func showProgress(ctx context.Context, out *output.Writer, sub *events.Subscription, opID string) {
	for {
		e, err := sub.Recv(ctx)
		if err != nil {
			var lagged *events.LaggedError
			if errors.As(err, &lagged) {
				continue
			}
			return
		}
		if p, ok := e.(events.IndexingProgress); ok && p.OperationID == opID {
			out.Progress(p.Processed, p.Total, p.CurrentFile)
		}
	}
}

func printReport(out *output.Writer, rep indexing.Report) {
	if out.TTY() {
		out.Newline()
	}
	switch rep.Status {
	case domain.StatusCompleted:
		out.Successf("indexed %d/%d files, %d chunks, %d removed in %s",
			rep.ProcessedFiles, rep.TotalFiles, rep.Chunks, rep.Removed, rep.Duration.Round(time.Millisecond))
	default:
		out.Errorf("indexing %s after %d/%d files", rep.Status, rep.ProcessedFiles, rep.TotalFiles)
	}
	for _, e := range rep.Errors {
		out.Warning(e)
	}
	if n := len(rep.Errors); n > 0 {
		out.Info(fmt.Sprintf("%d file(s) failed; see the log for details", n))
	}
}
