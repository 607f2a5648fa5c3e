// Command ebooklet is the CLI front-end for the ebooklet sync engine,
// grounded on cmd/maxiofs/main.go's cobra root command and setupLogging
// pattern.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mullenkamp/ebooklet/internal/booklet"
	"github.com/mullenkamp/ebooklet/internal/config"
	"github.com/mullenkamp/ebooklet/internal/console"
	"github.com/mullenkamp/ebooklet/internal/ebooklet"
	"github.com/mullenkamp/ebooklet/internal/syncmetrics"
	"github.com/mullenkamp/ebooklet/internal/transport"
)

var (
	flagConfigFile string
	flagLocalPath  string
	flagLogLevel   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ebooklet",
		Short: "Embedded dbm-style key/value store synchronized against an S3-compatible bucket",
	}

	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a config file")
	root.PersistentFlags().StringVar(&flagLocalPath, "local", "", "path to the local store directory")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		getCmd(),
		setCmd(),
		delCmd(),
		lsCmd(),
		pushCmd(),
		pullCmd(),
		changesCmd(),
		serveCmd(),
	)
	return root
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd, flagConfigFile)
	if err != nil {
		return nil, err
	}
	if flagLocalPath != "" {
		cfg.LocalPath = flagLocalPath
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func buildRemote(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Remote.Kind {
	case "":
		return nil, nil
	case "s3":
		return transport.NewS3Transport(transport.S3Config{
			Bucket:          cfg.Remote.Bucket,
			Region:          cfg.Remote.Region,
			Endpoint:        cfg.Remote.Endpoint,
			AccessKeyID:     cfg.Remote.AccessKeyID,
			SecretAccessKey: cfg.Remote.SecretAccessKey,
			UsePathStyle:    cfg.Remote.UsePathStyle,
			ReadTimeout:     cfg.ReadTimeout,
			Retries:         cfg.Retries,
		}, cfg.Remote.DBKey)
	case "http":
		return transport.NewHTTPTransport(cfg.Remote.URL, cfg.ReadTimeout), nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, mode booklet.Mode) (*ebooklet.Database, error) {
	remote, err := buildRemote(cfg)
	if err != nil {
		return nil, err
	}
	return ebooklet.Open(ctx, ebooklet.Options{
		Path:      cfg.LocalPath,
		Remote:    remote,
		Mode:      mode,
		Engine:    booklet.EngineKind(cfg.Engine),
		NBuckets:  cfg.NBuckets,
		NumGroups: cfg.NumGroups,
		Workers:   cfg.Workers,
		Metrics:   syncmetrics.Noop{},
	})
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "print a key's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()

			v, ok, err := db.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "set a key's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Set(args[0], []byte(args[1]))
		},
	}
}

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del [key]",
		Short: "delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()
			_, err = db.Delete(args[0])
			return err
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "list every key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()

			keys, err := db.Keys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "upload locally-ahead keys to the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()

			changes := db.Changes()
			if changes == nil {
				return fmt.Errorf("database was opened without a remote")
			}
			result, err := changes.Push(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("pushed %d keys across %d groups, %d failed\n", result.KeysPushed, result.GroupsPushed, len(result.Failed))
			return nil
		},
	}
}

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "refresh the local store from the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()

			changes := db.Changes()
			if changes == nil {
				return fmt.Errorf("database was opened without a remote")
			}
			return changes.Pull(ctx)
		},
	}
}

func changesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "list keys pending push",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()

			changes := db.Changes()
			if changes == nil {
				return fmt.Errorf("database was opened without a remote")
			}
			for _, k := range changes.IterChanges() {
				fmt.Println(k)
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the read-only debug console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openDatabase(ctx, cfg, booklet.ReadWrite)
			if err != nil {
				return err
			}
			defer db.Close()

			registry := prometheus.NewRegistry()
			syncmetrics.New(registry)

			srv := console.New(cfg.ConsoleListen, db, registry)
			return srv.Start(cmd.Context())
		},
	}
}
