// campaignctl drives campaign lifecycle operations from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type progressReporter interface {
	Snapshot(ctx context.Context, campaignID string) (*model.ProgressSnapshot, error)
}

// backend is what each command operates on. close releases connections.
type backend struct {
	service  *service.CampaignService
	progress progressReporter
	migrate  func(ctx context.Context) error
	close    func()
}

type opener func(ctx context.Context, configPath string) (*backend, error)

func openBackend(ctx context.Context, configPath string) (*backend, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		return nil, err
	}
	sqlDB, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &backend{
		service:  a.Service,
		progress: a.Progress,
		migrate:  func(ctx context.Context) error { return db.Migrate(ctx, sqlDB) },
		close: func() {
			a.Close()
			sqlDB.Close()
			logger.Sync()
		},
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "campaignctl",
		Short: "Operate WhatsApp campaigns",
		Long: `campaignctl runs lifecycle operations against the campaign database.

Examples:
  campaignctl start 3f6c...      # enqueue one job per recipient and run
  campaignctl pause 3f6c...
  campaignctl progress 3f6c...   # print a progress snapshot as JSON
  campaignctl migrate            # apply the schema`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config")

	withBackend := func(run func(cmd *cobra.Command, b *backend, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer b.close()
			return run(cmd, b, args)
		}
	}

	lifecycle := func(use, short string, op func(b *backend) func(context.Context, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <campaign-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withBackend(func(cmd *cobra.Command, b *backend, args []string) error {
				if err := op(b)(cmd.Context(), args[0]); err != nil {
					return err
				}
				return printStatus(cmd, b, args[0])
			}),
		}
	}
	launch := func(use, short string, op func(b *backend) func(context.Context, string) (int, error)) *cobra.Command {
		return lifecycle(use, short, func(b *backend) func(context.Context, string) error {
			return func(ctx context.Context, id string) error {
				n, err := op(b)(ctx, id)
				if err == nil {
					fmt.Fprintf(os.Stderr, "queued %d jobs\n", n)
				}
				return err
			}
		})
	}

	root.AddCommand(
		lifecycle("schedule", "Arm a draft campaign for its schedule windows",
			func(b *backend) func(context.Context, string) error { return b.service.Schedule }),
		launch("start", "Start a draft or scheduled campaign now",
			func(b *backend) func(context.Context, string) (int, error) { return b.service.Start }),
		lifecycle("pause", "Pause a running campaign",
			func(b *backend) func(context.Context, string) error { return b.service.Pause }),
		lifecycle("resume", "Resume a paused campaign",
			func(b *backend) func(context.Context, string) error { return b.service.Resume }),
		lifecycle("stop", "Cancel a campaign and its pending jobs",
			func(b *backend) func(context.Context, string) error { return b.service.Stop }),
		launch("restart", "Run a finished campaign again with fresh jobs",
			func(b *backend) func(context.Context, string) (int, error) { return b.service.Restart }),
		&cobra.Command{
			Use:   "progress <campaign-id>",
			Short: "Print a progress snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: withBackend(func(cmd *cobra.Command, b *backend, args []string) error {
				snap, err := b.progress.Snapshot(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, snap)
			}),
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema",
			Args:  cobra.NoArgs,
			RunE: withBackend(func(cmd *cobra.Command, b *backend, _ []string) error {
				if err := b.migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			}),
		},
	)
	return root
}

func printStatus(cmd *cobra.Command, b *backend, id string) error {
	status, err := b.service.Status(cmd.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(cmd, map[string]any{"campaign_id": id, "status": status})
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd(openBackend).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
