package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/loomwork/internal/cache"
	"github.com/alexisbeaulieu97/loomwork/internal/config"
	"github.com/alexisbeaulieu97/loomwork/internal/engine"
	"github.com/alexisbeaulieu97/loomwork/internal/events"
	"github.com/alexisbeaulieu97/loomwork/internal/logger"
	"github.com/alexisbeaulieu97/loomwork/internal/model"
	"github.com/alexisbeaulieu97/loomwork/internal/pluginhost"
)

type runOptions struct {
	WorkflowPath   string
	PluginsDir     string
	CacheDir       string
	Parallel       bool
	MaxParallelism int
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Run a workflow to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.WorkflowPath = args[0]
			exitFunc(runRun(cmd, opts))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PluginsDir, "plugins-dir", "./plugins", "directory of native plugin shared libraries")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "./.lao-cache", "content-addressed step cache directory")
	cmd.Flags().BoolVar(&opts.Parallel, "parallel", false, "run independent steps within a layer concurrently")
	cmd.Flags().IntVar(&opts.MaxParallelism, "max-parallelism", 0, "bound on concurrent steps in parallel mode (default: CPU count)")

	return cmd
}

// runRun wires parsing, plugin loading, caching, and execution together and
// returns the exit code spec.md §6's table prescribes.
func runRun(cmd *cobra.Command, opts runOptions) int {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := "info"
	if verbose {
		level = "debug"
	}

	log, err := logger.New(logger.Options{Level: level, HumanReadable: true, Writer: cmd.ErrOrStderr()})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to create logger: %v\n", err)
		return 3
	}

	host, warnings, err := pluginhost.LoadFromDirectory(opts.PluginsDir)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to load plugins directory %q: %v\n", opts.PluginsDir, err)
		return 3
	}
	defer host.Close()
	for _, w := range warnings {
		log.WithFields(map[string]any{"path": w.Path}).Warn(w.Message)
	}

	wf, err := config.ParseWorkflow(opts.WorkflowPath, host)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return 2
	}

	c, err := cache.Open(opts.CacheDir)
	if err != nil {
		// A nil cache disables lookups and writes; the run itself goes on.
		log.WithFields(map[string]any{"cache_dir": opts.CacheDir}).Warn("cache disabled: " + err.Error())
	}

	stream := events.NewStream(log)
	ch, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	printed := make(chan struct{})
	out := cmd.OutOrStdout()
	go func() {
		defer close(printed)
		for e := range ch {
			printEvent(out, e)
			if e.Kind == events.WorkflowDone {
				return
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	exec := engine.NewExecutor(host, c, stream, log)
	summary, err := exec.Run(ctx, wf, engine.RunOptions{Parallel: opts.Parallel, MaxParallelism: opts.MaxParallelism})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "execution error: %v\n", err)
		return 3
	}
	<-printed

	printSummary(out, summary)

	switch {
	case summary.Cancelled:
		return 130
	case !summary.Success():
		return 1
	default:
		return 0
	}
}

func printEvent(w io.Writer, e events.Event) {
	switch e.Kind {
	case events.StepStarted:
		fmt.Fprintf(w, "[%s] started (%s)\n", e.StepID, e.Plugin)
	case events.StepRetrying:
		fmt.Fprintf(w, "[%s] retrying attempt %d/%d: %s\n", e.StepID, e.Attempt, e.MaxAttempts, e.LastError)
	case events.StepSucceeded:
		fmt.Fprintf(w, "[%s] succeeded: %s\n", e.StepID, e.Preview)
	case events.StepCached:
		fmt.Fprintf(w, "[%s] cached: %s\n", e.StepID, e.Preview)
	case events.StepFailed:
		fmt.Fprintf(w, "[%s] failed: %s\n", e.StepID, e.Error)
	case events.StepSkipped:
		fmt.Fprintf(w, "[%s] skipped (%s)\n", e.StepID, e.Reason)
	}
}

func printSummary(w io.Writer, s model.Summary) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "%-10s %-10s %-10s %-10s\n", "success", "error", "cache", "skipped")
	fmt.Fprintf(w, "%-10d %-10d %-10d %-10d\n",
		s.Counts[model.StateSuccess], s.Counts[model.StateError],
		s.Counts[model.StateCache], s.Counts[model.StateSkipped])
	fmt.Fprintf(w, "wall time: %s\n", s.WallTime)

	switch {
	case s.Cancelled:
		fmt.Fprintln(w, "run cancelled")
	case s.Success():
		fmt.Fprintln(w, "workflow succeeded")
	default:
		fmt.Fprintln(w, "workflow completed with errors")
	}
}
