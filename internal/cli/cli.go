// Package cli builds the auto-novel command tree.
//
//	auto-novel
//	├── serve     HTTP API plus the job workers
//	├── worker    job workers only
//	├── update    enqueue or run one update
//	├── status    print the job ledger
//	├── clear     drop a failed job
//	└── sweep     drop failed jobs past retention
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mononoSaya/auto-novel/internal/config"
	"github.com/mononoSaya/auto-novel/internal/httpapi"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/service"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

var Version = "dev"

const shutdownTimeout = 15 * time.Second

type rootOptions struct {
	configFile string
	envFile    string
}

func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "auto-novel",
		Short:         "Cache-first web novel translation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "path to the .env file")

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildWorkerCommand(opts))
	rootCmd.AddCommand(buildUpdateCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildClearCommand(opts))
	rootCmd.AddCommand(buildSweepCommand(opts))

	return rootCmd
}

// load reads the env file, the config and sets up the global logger.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(o.envFile); err != nil && cmd.Flags().Changed("env") {
		return nil, fmt.Errorf("load env file %s: %w", o.envFile, err)
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}

	logger, err := log.NewFromOptions(log.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	log.SetLogger(logger)
	if err != nil {
		log.Warn("log file unavailable, writing to stdout: %v", err)
	}
	return cfg, nil
}

func (o *rootOptions) context(cmd *cobra.Command) (*service.Context, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	return service.NewContext(cfg)
}

func buildServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the update workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := opts.context(cmd)
			if err != nil {
				return err
			}
			defer sc.Close()

			if addr == "" {
				addr = sc.Config.HTTP.Addr
			}
			return runServe(cmd.Context(), sc, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

func buildWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the update workers without the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := opts.context(cmd)
			if err != nil {
				return err
			}
			defer sc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopWorkers, err := startWorkers(ctx, sc)
			if err != nil {
				return err
			}
			defer stopWorkers()

			log.Info("workers running, waiting for signal")
			<-ctx.Done()
			log.Info("shutting down")
			return nil
		},
	}
}

func runServe(parent context.Context, sc *service.Context, addr string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWorkers, err := startWorkers(ctx, sc)
	if err != nil {
		return err
	}
	defer stopWorkers()

	updater := service.NewUpdater(sc)
	var serverOpts []httpapi.Option
	if sc.Config.HTTP.Metrics {
		serverOpts = append(serverOpts, httpapi.WithMetrics(sc.Metrics.Handler()))
	}
	srv := httpapi.NewServer(sc,
		service.NewViewer(sc),
		service.NewBooster(sc, updater, boostLang(sc)),
		serverOpts...,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// startWorkers launches the ledger pool and the sweep schedule. The
// returned func stops both.
func startWorkers(ctx context.Context, sc *service.Context) (func(), error) {
	updater := service.NewUpdater(sc)
	if err := sc.Ledger.Start(updater.Execute); err != nil {
		return nil, err
	}

	c := cron.New()
	if expr := sc.Config.Jobs.SweepCron; expr != "" {
		sweeper := service.NewSweeper(sc.Ledger, c, expr)
		if err := sweeper.Schedule(ctx); err != nil {
			sc.Ledger.Stop()
			return nil, err
		}
	}
	c.Start()

	return func() {
		<-c.Stop().Done()
		sc.Ledger.Stop()
	}, nil
}

// boostLang is the language uploaded translations are stored under.
func boostLang(sc *service.Context) string {
	if langs := sc.TargetLanguages(); len(langs) > 0 {
		return langs[0]
	}
	return "zh"
}

func buildUpdateCommand(opts *rootOptions) *cobra.Command {
	var (
		start, end int
		now        bool
	)

	cmd := &cobra.Command{
		Use:   "update <provider> <book> <lang>",
		Short: "Queue an update job, or run it in place with --now",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := opts.context(cmd)
			if err != nil {
				return err
			}
			defer sc.Close()

			req := jobs.Request{
				ProviderID: args[0],
				BookID:     args[1],
				Lang:       args[2],
				StartIndex: start,
				EndIndex:   end,
			}
			if _, err := sc.Providers.Get(req.ProviderID); err != nil {
				return err
			}

			if now {
				updater := service.NewUpdater(sc)
				var res *service.UpdateResult
				err := sc.Ledger.RunNow(cmd.Context(), req, func(ctx context.Context, rec *jobs.Record) error {
					var err error
					res, err = updater.Update(ctx, rec.Request())
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d episodes cached\n", res.Lang, res.CachedEpisodes, res.TotalEpisodes)
				for _, f := range res.Files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			}

			rec, err := sc.Ledger.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (run %s)\n", rec.ID, rec.RunID)
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first episode index")
	cmd.Flags().IntVar(&end, "end", 65536, "episode index to stop before")
	cmd.Flags().BoolVar(&now, "now", false, "run the update in this process instead of queueing it")
	return cmd
}

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [provider book lang]",
		Short: "Print the job ledger, or the status of one job",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 3 {
				return errors.New("expected no arguments or <provider> <book> <lang>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := opts.context(cmd)
			if err != nil {
				return err
			}
			defer sc.Close()

			out := cmd.OutOrStdout()
			if len(args) == 3 {
				id := jobs.JobID(args[0], args[1], args[2])
				status, err := sc.Ledger.Status(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\n", id, status)
				return nil
			}

			records, err := sc.Ledger.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no jobs")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(out, "%s\t%s\t[%d, %d)\t%s", rec.ID, rec.Status, rec.StartIndex, rec.EndIndex, rec.UpdatedAt.Format(time.RFC3339))
				if rec.Error != "" {
					fmt.Fprintf(out, "\t%s", rec.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func buildClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <provider> <book> <lang>",
		Short: "Remove a failed job so it can be queued again",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := opts.context(cmd)
			if err != nil {
				return err
			}
			defer sc.Close()

			id := jobs.JobID(args[0], args[1], args[2])
			if err := sc.Ledger.Clear(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", id)
			return nil
		},
	}
}

func buildSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Drop failed jobs older than jobs.failure_retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := opts.context(cmd)
			if err != nil {
				return err
			}
			defer sc.Close()

			n, err := service.NewSweeper(sc.Ledger, nil, "").RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d failed jobs\n", n)
			return nil
		},
	}
}
