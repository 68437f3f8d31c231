package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/store/memory"
	heraldredis "github.com/xraph/herald/store/redis"
)

// app carries what every subcommand needs after config is loaded.
type app struct {
	configPath string
	cfg        *fileConfig
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "heraldd",
		Short:         "Outbound webhook delivery service",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.New()
			if err := v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
				return err
			}
			if err := v.BindPFlag("log.format", cmd.Root().PersistentFlags().Lookup("log-format")); err != nil {
				return err
			}
			cfg, err := loadConfig(v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "json", "log format (json or text)")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSecretCmd(),
		newSignCmd(),
		newVerifyCmd(),
	)
	return root
}

// openStore connects the configured backend.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store.Driver {
	case "redis":
		opts, err := goredis.ParseURL(a.cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		s := heraldredis.NewWithClient(goredis.NewClient(opts))
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return s, nil
	default:
		a.logger.Warn("using the in-memory store; state is lost on exit")
		return memory.New(), nil
	}
}

// loadCatalog returns the default catalog extended by the configured file.
func (a *app) loadCatalog() (*catalog.Catalog, error) {
	cat := catalog.Default()
	if a.cfg.CatalogFile == "" {
		return cat, nil
	}
	f, err := os.Open(a.cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()

	n, err := cat.LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("load catalog file: %w", err)
	}
	a.logger.Info("event types loaded", "file", a.cfg.CatalogFile, "count", n)
	return cat, nil
}
