// Package main is the CLI entry point: it parses flags, loads
// configuration, wires C1-C9 together and dispatches to one of the core
// verbs, exiting with the codes §6 promises to a command harness (0
// success, 1 general error, 130 user cancellation, 2 configuration
// validation failure).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"spectra-core/internal/attribution"
	"spectra-core/internal/config"
	"spectra-core/internal/dedup"
	"spectra-core/internal/forwarder"
	"spectra-core/internal/scheduler"
	"spectra-core/internal/sorting"
	"spectra-core/internal/storage"
	"spectra-core/internal/telegram/pool"
	"spectra-core/internal/telemetry/logger"
)

const (
	exitOK          = 0
	exitGeneral     = 1
	exitCancelled   = 130
	exitConfigError = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.CommandLine.Parse(args)
	verbArgs := flag.Args()
	if len(verbArgs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: spectracore [--config path] [--log-level level] <verb> [flags]")
		fmt.Fprintln(os.Stderr, "verbs: forward-messages, forward-all, forward-files, process-queue, strip-attribution, serve")
		return exitGeneral
	}
	verb, verbArgs := verbArgs[0], verbArgs[1:]

	logger.Init(*logLevel)
	log := logger.Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			log.Error("configuration invalid", logger.RedactedError(err))
			return exitConfigError
		}
		log.Error("configuration load failed", logger.RedactedError(err))
		return exitGeneral
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, closeApp, err := bootstrap(ctx, cfg)
	if err != nil {
		log.Error("bootstrap failed", logger.RedactedError(err))
		return exitGeneral
	}
	defer closeApp()

	if err := dispatch(ctx, app, verb, verbArgs); err != nil {
		if errors.Is(err, context.Canceled) {
			return exitCancelled
		}
		log.Error("command failed", zap.String("verb", verb), logger.RedactedError(err))
		return exitGeneral
	}
	return exitOK
}

// application holds every wired subsystem a verb might need.
type application struct {
	cfg   *config.Config
	store *storage.Store
	pool  *pool.Pool
	fwd   *forwarder.Forwarder
	sched *scheduler.Scheduler
	log   *zap.Logger
}

func bootstrap(ctx context.Context, cfg *config.Config) (*application, func(), error) {
	log := logger.Logger()

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, func() {}, fmt.Errorf("open archive database: %w", err)
	}
	if err := os.MkdirAll(cfg.MediaDir(), 0o700); err != nil {
		_ = store.Close()
		return nil, func() {}, fmt.Errorf("create media directory: %w", err)
	}

	oracle, err := dedup.New(ctx, store, dedup.Options{
		EnableNearDuplicates: cfg.DeduplicationOptions().EnableNearDuplicates,
		PerceptualThreshold:  cfg.DeduplicationOptions().PerceptualHashDistanceThreshold,
		FuzzyThreshold:       cfg.DeduplicationOptions().FuzzyHashSimilarityThreshold,
		Scope:                dedup.ParseScope(cfg.DeduplicationOptions().Scope),
	})
	if err != nil {
		_ = store.Close()
		return nil, func() {}, fmt.Errorf("build dedup oracle: %w", err)
	}
	oracle.SetClassifier(sorting.NewClassifier(cfg.FileSorterOptions().ExtensionMapping))

	attrib := attribution.New(cfg.AttributionOptions(), store)

	sessionDir := filepath.Join(filepath.Dir(cfg.DBPath()), "sessions")
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		_ = store.Close()
		return nil, func() {}, fmt.Errorf("create session directory: %w", err)
	}
	clientPool := pool.New(cfg, sessionDir)

	fwd := forwarder.New(clientPool, store, oracle, attrib, cfg, cfg.MediaDir())

	sched := scheduler.New(fwd, store, cfg.SchedulerOptions().MaxConcurrentForwards, "", log)

	app := &application{cfg: cfg, store: store, pool: clientPool, fwd: fwd, sched: sched, log: log}
	closeApp := func() {
		clientPool.Close()
		_ = store.Close()
	}
	return app, closeApp, nil
}

func dispatch(ctx context.Context, app *application, verb string, args []string) error {
	switch verb {
	case "forward-messages":
		return cmdForwardMessages(ctx, app, args)
	case "forward-all":
		return cmdForwardAll(ctx, app, args)
	case "forward-files":
		return cmdForwardFiles(ctx, app, args)
	case "process-queue":
		return cmdProcessQueue(ctx, app, args)
	case "strip-attribution":
		return cmdStripAttribution(ctx, app, args)
	case "serve":
		return cmdServe(ctx, app, args)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

func cmdForwardMessages(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("forward-messages", flag.ContinueOnError)
	origin := fs.String("origin", "", "origin channel handle or id")
	destination := fs.String("destination", "", "destination channel handle or id")
	account := fs.String("account", "", "account session name (optional)")
	startID := fs.Int("start-id", 0, "message id to resume scanning from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	result, err := app.fwd.ForwardMessages(ctx, *origin, *destination, forwarder.Options{Account: *account, StartMessageID: *startID})
	if err != nil {
		return err
	}
	app.log.Info("forward-messages complete",
		zap.Int("new_last_id", result.NewLastID),
		zap.Int64("messages_forwarded", result.Stats.MessagesForwarded),
		zap.Int64("files_forwarded", result.Stats.FilesForwarded),
		zap.Int64("bytes_forwarded", result.Stats.BytesForwarded))
	return nil
}

func cmdForwardAll(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("forward-all", flag.ContinueOnError)
	destination := fs.String("destination", "", "destination channel handle or id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, err := app.fwd.ForwardAllAccessibleChannels(ctx, *destination)
	if err != nil {
		return err
	}
	app.log.Info("forward-all complete",
		zap.Int("successful", len(report.Successful)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("banned", len(report.Banned)))
	return nil
}

func cmdForwardFiles(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("forward-files", flag.ContinueOnError)
	scheduleID := fs.String("schedule-id", "", "file forward schedule id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	enqueued, err := app.fwd.ForwardFilesBySchedule(ctx, *scheduleID)
	if err != nil {
		return err
	}
	app.log.Info("forward-files enqueue complete", zap.Int("enqueued", enqueued))
	return nil
}

func cmdProcessQueue(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("process-queue", flag.ContinueOnError)
	account := fs.String("account", "", "account session name (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	processed, err := app.fwd.ProcessFileForwardQueue(ctx, *account)
	if err != nil {
		return err
	}
	app.log.Info("process-queue complete", zap.Int("processed", processed))
	return nil
}

func cmdStripAttribution(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("strip-attribution", flag.ContinueOnError)
	channel := fs.String("channel", "", "channel handle or id to strip attribution in")
	account := fs.String("account", "", "account session name (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reposted, err := app.fwd.StripAttribution(ctx, *channel, *account)
	if err != nil {
		return err
	}
	app.log.Info("strip-attribution complete", zap.Int("reposted", reposted))
	return nil
}

// cmdServe runs the cron scheduler until the process is signalled to stop.
func cmdServe(ctx context.Context, app *application, args []string) error {
	if err := app.sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	app.sched.Stop()
	return ctx.Err()
}
