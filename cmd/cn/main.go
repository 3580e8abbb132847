package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aaronshaf/cn/internal/config"
	"github.com/aaronshaf/cn/internal/convert"
	"github.com/aaronshaf/cn/internal/journal"
	"github.com/aaronshaf/cn/internal/logging"
	"github.com/aaronshaf/cn/internal/remote"
	"github.com/aaronshaf/cn/internal/sync"
)

var Version = "dev"

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitPartial   = 2
	exitCancelled = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitFailure)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "pull", "push", "check", "log":
	case "version":
		fmt.Println(Version)
		return
	default:
		usage()
		os.Exit(exitFailure)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitFailure)
	}

	logger := logging.NewLogger(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, cmd, args, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}

	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: cn <command>

commands:
  pull           mirror the remote space into the sync directory
  push <file>    write one local file back to the remote space
  check          verify the sync directory against its mapping
  log [n]        show the most recent sync runs (default 10)
  version        print the version`)
}

func run(ctx context.Context, cmd string, args []string, cfg *config.Config, logger *slog.Logger) (int, error) {
	client := remote.NewClient(cfg.NormalizedBaseURL(), cfg.Email, cfg.APIToken, logger)

	engine := sync.NewEngine(cfg.SyncDir, client, convert.Storage{}, logger, sync.Options{
		Force:    cfg.Force,
		SpaceKey: cfg.SpaceKey,
	})

	switch cmd {
	case "pull":
		return runPull(ctx, engine, cfg, logger)
	case "push":
		if len(args) != 1 {
			return exitFailure, fmt.Errorf("push requires exactly one file argument")
		}

		return runPush(ctx, engine, args[0])
	case "check":
		return runCheck(ctx, engine)
	case "log":
		return runLog(cfg, args)
	}

	return exitFailure, fmt.Errorf("unknown command %q", cmd)
}

func runPull(ctx context.Context, engine *sync.Engine, cfg *config.Config, logger *slog.Logger) (int, error) {
	started := time.Now().UTC()

	res, err := engine.Pull(ctx)
	if err != nil {
		recordRun(logger, cfg.SpaceKey, "pull", started, sync.OutcomeFullFailure.String(), nil)
		return exitFailure, err
	}

	outcome := res.Outcome()
	recordRun(logger, cfg.SpaceKey, "pull", started, outcome.String(), res)

	fmt.Printf("pull: %d added, %d modified, %d deleted (%s)\n",
		res.Added, res.Modified, res.Deleted, outcome)

	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "failed: %s\n", e)
	}

	return exitCode(outcome), nil
}

func runPush(ctx context.Context, engine *sync.Engine, file string) (int, error) {
	res, err := engine.Push(ctx, file)
	if err != nil {
		return exitFailure, err
	}

	if res.Created {
		fmt.Printf("push: created page %s at version %d\n", res.ID, res.NewVersion)
	} else {
		fmt.Printf("push: page %s now at version %d\n", res.ID, res.NewVersion)
	}

	if res.RenamedTo != "" {
		fmt.Printf("moved to %s\n", res.RenamedTo)
	}

	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	return exitSuccess, nil
}

func runCheck(ctx context.Context, engine *sync.Engine) (int, error) {
	res, err := engine.Check(ctx)
	if err != nil {
		return exitFailure, err
	}

	fmt.Printf("check: %d pages tracked\n", res.Tracked)

	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	for _, set := range res.Duplicates {
		fmt.Printf("duplicate id %s:\n", set.ID)

		if set.Keeper != nil {
			fmt.Printf("  keep  %s (version %d)\n", set.Keeper.Path, set.Keeper.Version)
		}

		for _, f := range set.Stale {
			marker := "stale"
			if set.Undecided {
				marker = "undecided"
			}

			fmt.Printf("  %s %s (version %d)\n", marker, f.Path, f.Version)
		}
	}

	if !res.Healthy() {
		return exitPartial, nil
	}

	fmt.Println("check: clean")

	return exitSuccess, nil
}

func runLog(cfg *config.Config, args []string) (int, error) {
	n := 10

	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 {
			return exitFailure, fmt.Errorf("log count must be a positive integer, got %q", args[0])
		}

		n = parsed
	}

	path, err := journal.DefaultPath()
	if err != nil {
		return exitFailure, err
	}

	j, err := journal.Open(path)
	if err != nil {
		return exitFailure, err
	}
	defer j.Close()

	runs, err := j.Recent(cfg.SpaceKey, n)
	if err != nil {
		return exitFailure, err
	}

	if len(runs) == 0 {
		fmt.Printf("no recorded runs for space %s\n", cfg.SpaceKey)
		return exitSuccess, nil
	}

	for _, r := range runs {
		fmt.Printf("%s  %-5s %-22s +%d ~%d -%d",
			r.StartedAt.Format(time.RFC3339), r.Operation, r.Outcome,
			r.Added, r.Modified, r.Deleted)

		if r.Warnings > 0 {
			fmt.Printf("  %d warnings", r.Warnings)
		}

		if r.Errors > 0 {
			fmt.Printf("  %d errors", r.Errors)
		}

		fmt.Println()
	}

	return exitSuccess, nil
}

// recordRun appends a run to the journal. History is best effort: a
// journal failure never fails the sync itself.
func recordRun(logger *slog.Logger, spaceKey, op string, started time.Time, outcome string, res *sync.RunResult) {
	path, err := journal.DefaultPath()
	if err != nil {
		logger.Warn("journal unavailable", slog.String("error", err.Error()))
		return
	}

	j, err := journal.Open(path)
	if err != nil {
		logger.Warn("journal unavailable", slog.String("error", err.Error()))
		return
	}
	defer j.Close()

	run := journal.Run{
		SpaceKey:   spaceKey,
		Operation:  op,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Outcome:    outcome,
	}

	if res != nil {
		run.Added = res.Added
		run.Modified = res.Modified
		run.Deleted = res.Deleted
		run.Warnings = len(res.Warnings)
		run.Errors = len(res.Errors)
	}

	if err := j.Record(run); err != nil {
		logger.Warn("recording run failed", slog.String("error", err.Error()))
	}
}

func exitCode(o sync.Outcome) int {
	switch o {
	case sync.OutcomeSuccess, sync.OutcomeSuccessWithWarnings:
		return exitSuccess
	case sync.OutcomePartialFailure:
		return exitPartial
	case sync.OutcomeCancelled:
		return exitCancelled
	default:
		return exitFailure
	}
}
