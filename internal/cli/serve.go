package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/formic/internal/signal"
)

// serveOptions holds flags specific to the serve command.
type serveOptions struct {
	// noQueue runs recovery and waits without admitting queued tasks.
	noQueue bool
	// shutdownTimeout bounds how long in-flight workflows get to stop.
	shutdownTimeout time.Duration
}

func newServeCmd(flags *GlobalFlags) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover the board and run the queue scheduler",
		Long: `Run formic in the foreground.

On startup every task left in briefing, planning or running by an unclean
shutdown is reset to todo and stale process ids are cleared. The queue
scheduler then admits queued tasks by priority until SIGINT or SIGTERM.

The first signal stops admissions and stops in-flight workflows gracefully.
A second signal stops waiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), flags, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noQueue, "no-queue", false, "do not start the queue scheduler")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for in-flight workflows to stop")
	return cmd
}

func runServe(ctx context.Context, w io.Writer, flags *GlobalFlags, opts *serveOptions) error {
	logger := GetLogger()
	h := signal.NewHandler(ctx)
	defer h.Stop()

	// Workflows are stopped explicitly below, so they must not inherit the
	// signal context.
	a, err := newApp(ctx, context.WithoutCancel(ctx), flags, logger)
	if err != nil {
		return err
	}

	a.warnMissingEnv()

	report, err := a.newRecovery().Recover(ctx)
	if err != nil {
		return err
	}

	s := newStyles()
	if flags.Output != OutputJSON {
		_, _ = fmt.Fprintf(w, "%s %s\n", s.header.Render("formic"), s.dim.Render(a.cfg.Workspace.Path))
		s.field(w, "agent", a.adapter.Command)
		s.field(w, "recovered", fmt.Sprintf("%d task(s)", report.Count()))
	}

	queueOn := a.cfg.Queue.Enabled && !opts.noQueue
	sched := a.newScheduler()
	if queueOn {
		if err := sched.Start(h.Context()); err != nil {
			return err
		}
		if flags.Output != OutputJSON {
			s.field(w, "queue", fmt.Sprintf("%d slot(s), polling every %s", a.cfg.Queue.MaxConcurrentTasks, a.cfg.Queue.PollInterval))
		}
	} else if flags.Output != OutputJSON {
		s.field(w, "queue", "disabled")
	}

	<-h.Context().Done()
	logger.Info().Msg("shutting down")

	if queueOn {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.shutdownTimeout)
	defer cancel()
	go func() {
		select {
		case <-h.Forced():
			cancel()
		case <-shutdownCtx.Done():
		}
	}()

	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("workflows did not stop in time; killing agents")
		a.procs.StopAll(context.WithoutCancel(ctx))
	}
	return nil
}
