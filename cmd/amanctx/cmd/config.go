package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanctx/configs"
	"github.com/Aman-CERP/amanctx/internal/config"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/output"
	"github.com/Aman-CERP/amanctx/internal/providers"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Inspect and create configuration files.

Layers, lowest to highest precedence:
  1. Built-in defaults
  2. User config ($XDG_CONFIG_HOME/amanctx/config.yaml or config.toml)
  3. Project config (.amanctx.yaml, .amanctx.yml or .amanctx.toml)
  4. --config file
  5. Environment variables (AMANCTX_*)
  6. --data-dir`,
	}
	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(g),
		newConfigValidateCmd(g),
		newConfigPathCmd(),
		newConfigProvidersCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the annotated configuration template",
		Example: `  amanctx config init
  amanctx config init --path .amanctx.yaml
  amanctx config init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if path == "" {
				path = config.UserConfigPath()
			}
			if strings.EqualFold(filepath.Ext(path), ".toml") {
				return amerrors.InvalidArgument("the template is YAML; choose a .yaml path")
			}
			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("%s already exists", path)
					out.Info("use --force to replace it (the old file is kept as .bak)")
					return nil
				}
				if err := os.Rename(path, path+".bak"); err != nil {
					return amerrors.Infrastructure("back up "+path, err)
				}
				out.Infof("backup: %s.bak", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return amerrors.Infrastructure("create config directory", err)
			}
			if err := os.WriteFile(path, []byte(configs.Template), 0o600); err != nil {
				return amerrors.Infrastructure("write "+path, err)
			}
			out.Successf("created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	cmd.Flags().StringVar(&path, "path", "", "Destination (default: the user config path)")
	return cmd
}

func newConfigShowCmd(g *globals) *cobra.Command {
	var format, source string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Example: `  amanctx config show
  amanctx config show --format toml
  amanctx config show --source defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(g, source)
			if err != nil {
				return err
			}
			data, err := encodeConfig(redact(cfg), format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, json, toml")
	cmd.Flags().StringVar(&source, "source", "merged", "Layers to show: merged, defaults, user, project")
	return cmd
}

// configFrom loads the layers named by source.
func configFrom(g *globals, source string) (*config.Config, error) {
	switch source {
	case "merged":
		return g.loadConfig()
	case "defaults":
		return config.NewConfig(), nil
	case "user":
		return config.Load(config.LoadOptions{SkipEnv: true})
	case "project":
		cwd, err := os.Getwd()
		if err != nil {
			return nil, amerrors.Infrastructure("resolve working directory", err)
		}
		return config.Load(config.LoadOptions{ProjectDir: cwd, SkipUser: true, SkipEnv: true})
	}
	return nil, amerrors.InvalidArgument("unknown source %q", source).
		WithSuggestion("use merged, defaults, user or project")
}

// redact masks secrets in a copy of cfg.
func redact(cfg *config.Config) *config.Config {
	c := cfg.Clone()
	for _, secret := range []*string{
		&c.Providers.Embedding.APIKey,
		&c.Providers.VectorStore.Token,
		&c.Providers.Cache.RedisURL,
		&c.Auth.JWT.Secret,
	} {
		if *secret != "" {
			*secret = "********"
		}
	}
	return c
}

func encodeConfig(cfg *config.Config, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, amerrors.Internal("encode yaml", err)
		}
		_ = enc.Close()
	case "toml":
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, amerrors.Internal("encode toml", err)
		}
	case "json":
		if err := output.New(&buf).JSON(cfg); err != nil {
			return nil, amerrors.Internal("encode json", err)
		}
	default:
		return nil, amerrors.InvalidArgument("unknown format %q", format).
			WithSuggestion("use yaml, json or toml")
	}
	return buf.Bytes(), nil
}

func newConfigValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file, or the merged configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			what := "merged configuration"
			if len(args) == 1 {
				what = args[0]
				_, err = config.LoadFile(args[0])
			} else {
				_, err = g.loadConfig()
			}
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("%s is valid", what)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.UserConfigPath())
			return err
		},
	}
}

func newConfigProvidersCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the provider names accepted for each kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			catalog := providers.Catalog()
			if asJSON {
				return out.JSON(catalog)
			}
			kinds := make([]string, 0, len(catalog))
			for k := range catalog {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			rows := make([][2]string, 0, len(kinds))
			for _, k := range kinds {
				rows = append(rows, [2]string{k, strings.Join(catalog[k], ", ")})
			}
			out.KV(rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
