package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanctx/internal/output"
	"github.com/Aman-CERP/amanctx/internal/providers"
	"github.com/Aman-CERP/amanctx/internal/server"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		listen string
		pprof  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and search over HTTP",
		Long: `Serve the HTTP surface until interrupted:

  GET /healthz                              provider health
  GET /metrics                              Prometheus metrics
  GET /v1/status                            indexing status
  GET /v1/providers                         registered providers
  GET /v1/queries                           query statistics
  GET /v1/collections/{collection}/search   hybrid search

When --config is given the file is watched and provider changes are applied
without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			a := s.app
			a.Start(ctx)

			if g.configFile != "" {
				opts, err := g.loadOptions()
				if err != nil {
					return err
				}
				if err := a.WatchConfig(ctx, opts); err != nil {
					return err
				}
			}

			addr := s.cfg.Server.Listen
			if listen != "" {
				addr = listen
			}
			srv := server.New(server.Options{
				Health:       a,
				Status:       a.Indexer,
				Searcher:     a.Searcher,
				Queries:      a.Queries,
				Catalog:      providers.Catalog(),
				Gatherer:     prometheus.DefaultGatherer,
				Logger:       s.logger,
				DefaultLimit: s.cfg.Search.DefaultLimit,
				Pprof:        pprof,
			})
			output.New(cmd.ErrOrStderr()).Infof("listening on http://%s", addr)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: server.listen)")
	cmd.Flags().BoolVar(&pprof, "pprof", false, "Expose runtime profiles under /debug/pprof")
	return cmd
}
