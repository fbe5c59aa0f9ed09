package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelai/core/internal/config"
	"github.com/kestrelai/core/internal/runtime"
	"github.com/kestrelai/core/internal/store"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "agentcore",
		Short:         "Multi-tenant personal-assistant agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newAgentsCmd(&configPath),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "agentcore", version)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot the runtime: deploy always-on agents and serve the streaming API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg)
		},
	}
}

func newAgentsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect persisted agent configs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every agent config across all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			backend, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			source := runtime.NewKeyedConfigSource(backend)
			agents, err := source.ListAllAgentConfigs(cmd.Context())
			if err != nil {
				return err
			}

			for _, a := range agents {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\towner=%s\tprovider=%s/%s\talways_on=%v\n",
					a.ID, a.Name, a.OwnerUserID, a.Provider, a.Model, a.AlwaysOn)
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no agents configured")
			}
			return nil
		},
	})
	return cmd
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pgCfg := store.DefaultPostgresConfig()
		if cfg.Database.MaxConnections > 0 {
			pgCfg.MaxOpenConns = cfg.Database.MaxConnections
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		return store.NewPostgresStore(cfg.Database.URL, pgCfg)
	default:
		return store.NewSQLiteStore(cfg.Database.Path)
	}
}
