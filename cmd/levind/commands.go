package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/levin/internal/config"
	"github.com/danmuck/levin/internal/logging"
	"github.com/danmuck/levin/internal/node"
	"github.com/danmuck/levin/internal/observability"
	"github.com/spf13/cobra"
)

type runFlags struct {
	configPath string
	listen     string
	admin      string
	peers      []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "levind",
		Short:         "levind runs a Levin protocol peer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			logger := observability.InitLogger("levind")
			if os.Getenv(logging.EnvLogLevel) == "" {
				logging.SetLevel(cfg.LogLevel)
			}
			n, err := node.New(cfg, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return n.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVar(&f.listen, "listen", "", "levin listen address (overrides config)")
	cmd.Flags().StringVar(&f.admin, "admin", "", "admin HTTP address (overrides config)")
	cmd.Flags().StringArrayVar(&f.peers, "peer", nil, "peer address to dial; repeatable (replaces config peers)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (overrides config)")
	return cmd
}

// resolveConfig loads the config file, if any, then applies flags that were
// set on the command line.
func resolveConfig(cmd *cobra.Command, f runFlags) (config.NodeConfig, error) {
	cfg := config.DefaultNodeConfig()
	if path := strings.TrimSpace(f.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.NodeConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = strings.TrimSpace(f.listen)
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = strings.TrimSpace(f.admin)
	}
	if flags.Changed("peer") {
		cfg.Peers = f.peers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = strings.TrimSpace(f.logLevel)
	}
	if err := config.Validate(cfg); err != nil {
		return config.NodeConfig{}, err
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	var (
		write    string
		validate string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the default config, write it with --write, or check a file with --validate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if validate != "" {
				if _, err := config.Load(validate); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", validate)
				return nil
			}
			if write != "" {
				if err := config.WriteTemplate(write, force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", write)
				return nil
			}
			out, err := config.Template(config.DefaultNodeConfig())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "write the default config to this path")
	cmd.Flags().StringVar(&validate, "validate", "", "load and validate this config file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the levind version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "levind %s\n", node.Version)
		},
	}
}
