package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanctx/internal/app"
	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/memory"
	"github.com/Aman-CERP/amanctx/internal/output"
)

// memoryScope are the filter flags shared by the memory subcommands.
type memoryScope struct {
	project string
	session string
	typ     string
	tags    []string
	file    string
	since   time.Duration
}

func (m *memoryScope) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.project, "project", "", "Project ID (default: detected project name)")
	cmd.Flags().StringVar(&m.session, "session", "", "Session ID")
	cmd.Flags().StringVarP(&m.typ, "type", "t", "", "Observation type ("+typeList()+")")
	cmd.Flags().StringSliceVar(&m.tags, "tags", nil, "Comma separated tags")
	cmd.Flags().StringVar(&m.file, "file", "", "File path the observation refers to")
}

func (m *memoryScope) filter(ctx context.Context, a *app.App) (memory.Filter, error) {
	f := memory.Filter{SessionID: m.session, Tags: m.tags, FilePath: m.file}
	project, err := m.projectID(ctx, a)
	if err != nil {
		return f, err
	}
	f.ProjectID = project
	if m.typ != "" {
		t, err := domain.ParseObservationType(m.typ)
		if err != nil {
			return f, amerrors.InvalidArgument("%v", err).WithSuggestion("valid types: " + typeList())
		}
		f.Type = t
	}
	if m.since > 0 {
		f.Since = time.Now().Add(-m.since)
	}
	return f, nil
}

func (m *memoryScope) projectID(ctx context.Context, a *app.App) (string, error) {
	if m.project != "" {
		return m.project, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", amerrors.Infrastructure("resolve working directory", err)
	}
	return collectionFor(ctx, a, cwd, ""), nil
}

func typeList() string {
	names := make([]string, len(domain.ObservationTypes))
	for i, t := range domain.ObservationTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func newMemoryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "memory",
		Aliases: []string{"mem"},
		Short:   "Store and recall observations",
	}
	cmd.AddCommand(
		newMemoryStoreCmd(g),
		newMemorySearchCmd(g),
		newMemoryRecentCmd(g),
		newMemoryTimelineCmd(g),
	)
	return cmd
}

func newMemoryStoreCmd(g *globals) *cobra.Command {
	var (
		scope  memoryScope
		line   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store an observation (reads stdin when content is omitted)",
		Example: `  amanctx memory store "cache keys include the model name" --type decision --tags cache
  git diff | amanctx memory store --type code --file internal/app/app.go`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			content, err := readContent(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if scope.typ == "" {
				scope.typ = string(domain.ObservationContext)
			}
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			a := s.app

			f, err := scope.filter(ctx, a)
			if err != nil {
				return err
			}
			meta := domain.ObservationMetadata{
				SessionID: scope.session,
				FilePath:  scope.file,
				StartLine: line,
				Origin:    "cli",
			}
			if cwd, err := os.Getwd(); err == nil {
				if info, ok, err := a.VCS.Detect(ctx, cwd); err == nil && ok {
					meta.RepoID = filepath.Base(info.Root)
					meta.Branch = info.Branch
					meta.Commit = info.Commit
				}
			}

			res, err := a.Memory.StoreObservation(ctx, memory.StoreRequest{
				ProjectID: f.ProjectID,
				Content:   content,
				Type:      f.Type,
				Tags:      scope.tags,
				Metadata:  meta,
			})
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(res)
			}
			if res.Deduplicated {
				out.Infof("already stored as %s", res.ID)
				return nil
			}
			out.Successf("stored %s", res.ID)
			return nil
		},
	}

	scope.register(cmd)
	cmd.Flags().IntVar(&line, "line", 0, "Start line within --file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func readContent(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", amerrors.Infrastructure("read stdin", err)
	}
	return string(b), nil
}

func newMemorySearchCmd(g *globals) *cobra.Command {
	var (
		scope  memoryScope
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search observations by meaning and keywords",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			f, err := scope.filter(ctx, s.app)
			if err != nil {
				return err
			}
			previews, err := s.app.Memory.MemorySearch(ctx, strings.Join(args, " "), f, limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if asJSON {
				if previews == nil {
					previews = []memory.Preview{}
				}
				return out.JSON(previews)
			}
			if len(previews) == 0 {
				out.Info("no matching observations")
				return nil
			}
			for _, p := range previews {
				out.Infof("%s  %-12s %.3f  %s", p.ID, p.Type, p.RelevanceScore, p.ContentPreview)
			}
			return nil
		},
	}

	scope.register(cmd)
	cmd.Flags().DurationVar(&scope.since, "since", 0, "Only observations newer than this (e.g. 72h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newMemoryRecentCmd(g *globals) *cobra.Command {
	var (
		scope  memoryScope
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent observations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			f, err := scope.filter(ctx, s.app)
			if err != nil {
				return err
			}
			obs, err := s.app.Memory.Recent(ctx, f, limit)
			if err != nil {
				return err
			}
			return printObservations(output.New(cmd.OutOrStdout()), obs, "", asJSON)
		},
	}

	scope.register(cmd)
	cmd.Flags().DurationVar(&scope.since, "since", 0, "Only observations newer than this (e.g. 72h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newMemoryTimelineCmd(g *globals) *cobra.Command {
	var (
		before, after int
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Show observations recorded around an anchor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			anchor, err := s.app.Memory.Get(ctx, args[0])
			if err != nil {
				return err
			}
			obs, err := s.app.Memory.GetTimeline(ctx, anchor.ID, before, after, memory.Filter{ProjectID: anchor.ProjectID})
			if err != nil {
				return err
			}
			return printObservations(output.New(cmd.OutOrStdout()), obs, anchor.ID, asJSON)
		},
	}

	cmd.Flags().IntVar(&before, "before", 5, "Observations before the anchor")
	cmd.Flags().IntVar(&after, "after", 5, "Observations after the anchor")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printObservations(out *output.Writer, obs []domain.Observation, anchor string, asJSON bool) error {
	if asJSON {
		if obs == nil {
			obs = []domain.Observation{}
		}
		return out.JSON(obs)
	}
	if len(obs) == 0 {
		out.Info("no observations")
		return nil
	}
	for _, o := range obs {
		marker := " "
		if o.ID == anchor {
			marker = ">"
		}
		content := strings.Join(strings.Fields(o.Content), " ")
		if r := []rune(content); len(r) > 80 {
			content = string(r[:80]) + "..."
		}
		out.Info(fmt.Sprintf("%s %s  %s  %-12s %s", marker, o.CreatedAt.Local().Format(time.DateTime), o.ID, o.Type, content))
	}
	return nil
}
