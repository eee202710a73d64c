package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/config"
	"herald/internal/directory"
	"herald/internal/eval"
	"herald/internal/eventbus"
	"herald/internal/jobs"
	"herald/internal/query"
	"herald/internal/storage"
	"herald/pkg/logx"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <query>",
		Short: "parse a recipient query without evaluating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := query.Validate(args[0]); err != nil {
				return err
			}
			fmt.Println("query is valid")
			return nil
		},
	}
}

func newEvaluateCmd(cfgPath *string) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "evaluate <query>",
		Short: "resolve a recipient query and print the matching nations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := bootstrap(*cfgPath)
			if err != nil {
				return err
			}
			defer env.close()

			nations, err := env.evaluator.Evaluate(cmd.Context(), args[0], cacheRules(fresh))
			if err != nil {
				return err
			}
			for _, n := range nations {
				fmt.Println(n)
			}
			fmt.Printf("%d nations\n", len(nations))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass the directory cache for every lookup")
	return cmd
}

func newSendCmd(cfgPath *string) *cobra.Command {
	var (
		continuous bool
		dryRun     bool
		fresh      bool
	)

	cmd := &cobra.Command{
		Use:   "send <query>",
		Short: "submit a send job and stream its lifecycle until done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := bootstrap(*cfgPath)
			if err != nil {
				return err
			}
			defer env.close()
			return runSend(cmd.Context(), env, args[0], continuous, dryRun, fresh)
		},
	}
	cmd.Flags().BoolVar(&continuous, "continuous", false, "keep the job open and re-evaluate the query periodically")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "track the job without performing actual sends")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass the directory cache for every lookup")
	return cmd
}

func runSend(ctx context.Context, env *environment, q string, continuous, dryRun, fresh bool) error {
	interval, err := env.cfg.Refresh.RefreshInterval()
	if err != nil {
		return err
	}

	bus := eventbus.New()
	svc := jobs.New(jobs.Config{RefreshInterval: interval}, env.client, env.evaluator, bus, env.store, env.log)

	events, unsub := bus.Subscribe(256)
	defer unsub()

	svc.Start(ctx)
	defer svc.Shutdown(context.Background())

	tg := env.cfg.Telegram
	class := directory.ClassStandard
	if tg.Recruitment {
		class = directory.ClassRecruitment
	}
	jobID, err := svc.Submit(ctx, jobs.SubmitRequest{
		Query: q,
		Params: jobs.SendParams{
			Telegram:         directory.Telegram{ID: tg.TelegramID, SecretKey: tg.SecretKey, Class: class},
			Credentials:      directory.Credentials{ClientKey: tg.ClientKey},
			From:             tg.From,
			CheckEligibility: tg.CheckEligibility,
			SkipRepeats:      tg.SkipRepeats,
		},
		Continuous: continuous,
		DryRun:     dryRun,
		Rules:      cacheRules(fresh),
	})
	if err != nil {
		return err
	}
	env.log.Info("job accepted", logx.String("job", jobID))

	// Hot reload while a long job runs: log level and refresh interval.
	if continuous {
		go watchConfig(ctx, env, svc, interval)
	}

	for {
		select {
		case <-ctx.Done():
			env.log.Info("interrupted; cancelling job", logx.String("job", jobID))
			_ = svc.Cancel(jobID)
			return nil
		case ev := <-events:
			if ev.JobID != jobID {
				continue
			}
			renderEvent(env.log, ev)
			if ev.Type == eventbus.TypeJobCompleted {
				printSummary(svc, jobID)
				return nil
			}
		}
	}
}

func renderEvent(log logx.Logger, ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeJobStarted:
		log.Info("job started", logx.String("job", ev.JobID))
	case eventbus.TypeSendSucceeded:
		log.Info("sent", logx.String("nation", ev.Nation))
	case eventbus.TypeSendFailed:
		log.Warn("send failed", logx.String("nation", ev.Nation), logx.String("cause", ev.Err))
	case eventbus.TypeRecipientsAdded:
		log.Info("new recipients", logx.Int("count", len(ev.Nations)), logx.Strs("nations", ev.Nations))
	case eventbus.TypeJobCompleted:
		log.Info("job complete", logx.String("job", ev.JobID))
	}
}

func printSummary(svc *jobs.Service, jobID string) {
	st, err := svc.Job(jobID)
	if err != nil {
		return
	}
	fmt.Printf("job %s: %d recipients, %d sent, %d failed\n", st.ID, st.Total, st.Succeeded, st.Failed)
}

func watchConfig(ctx context.Context, env *environment, svc *jobs.Service, prev time.Duration) {
	updates := env.manager.Subscribe(4)
	defer env.manager.Unsubscribe(updates)

	go func() {
		if err := env.manager.Watch(ctx); err != nil && ctx.Err() == nil {
			env.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok || cfg == nil {
				return
			}
			env.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.ConsoleEnabled(),
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			if interval, err := cfg.Refresh.RefreshInterval(); err == nil && interval != prev {
				svc.Apply(jobs.Config{RefreshInterval: interval})
				prev = interval
			}
		}
	}
}

func cacheRules(fresh bool) eval.CacheRules {
	if !fresh {
		return nil
	}
	return eval.CacheRules{
		query.CategoryRegions:    true,
		query.CategoryTags:       true,
		query.CategoryWA:         true,
		query.CategoryNew:        true,
		query.CategoryRefounded:  true,
		query.CategoryCategories: true,
		query.CategoryCensus:     true,
	}
}

// environment wires the shared pieces every config-needing command uses.
type environment struct {
	manager   *config.Manager
	cfg       *config.Config
	logSvc    *logx.Service
	log       logx.Logger
	client    *directory.HTTPClient
	evaluator *eval.Evaluator
	store     storage.Store
}

func bootstrap(cfgPath string) (*environment, error) {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("config: user_agent is required (the directory rejects anonymous clients)")
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	manager.SetLogger(log)

	timeout, err := config.ParseDurationField("directory.timeout", cfg.Directory.Timeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := config.ParseDurationField("directory.cache_ttl", cfg.Directory.CacheTTL)
	if err != nil {
		return nil, err
	}
	standard, err := config.ParseDurationField("directory.standard_delay", cfg.Directory.StandardDelay)
	if err != nil {
		return nil, err
	}
	recruit, err := config.ParseDurationField("directory.recruit_delay", cfg.Directory.RecruitDelay)
	if err != nil {
		return nil, err
	}

	client := directory.NewHTTP(directory.Config{
		BaseURL:       cfg.Directory.BaseURL,
		UserAgent:     cfg.UserAgent,
		Timeout:       timeout,
		CacheTTL:      cacheTTL,
		ReadsPer30s:   cfg.Directory.ReadsPer30s,
		StandardDelay: standard,
		RecruitDelay:  recruit,
	}, log)

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &environment{
		manager:   manager,
		cfg:       cfg,
		logSvc:    logSvc,
		log:       log,
		client:    client,
		evaluator: eval.New(client, log),
		store:     store,
	}, nil
}

func (e *environment) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	_ = e.logSvc.Close()
}
