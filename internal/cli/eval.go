package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kd5/internal/channel"
	"kd5/internal/inspector"
	"kd5/pkg/types"
)

// execSlack is added to the configured execution timeout when waiting for
// a result, covering the watcher's tick delay.
const execSlack = 5 * time.Second

func (a *app) daemon() daemonBackend {
	return daemonBackend{client: a.client, base: "http://" + a.cfg.Listen}
}

func (a *app) snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the latest namespace snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.daemon().Snapshot(cmd.Context())
			if isStatus(err, http.StatusNotFound) {
				return errors.New("no snapshot yet: connect a kernel first")
			}
			if err != nil {
				return err
			}
			renderSnapshot(a.out, s)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the watcher loop state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.daemon().Status(cmd.Context())
			if err != nil {
				return err
			}
			kernel := st.KernelID
			if kernel == "" {
				kernel = "none"
			}
			fmt.Fprintf(a.out, "state %s  kernel %s  seq %d  variables %d  ticks %d  uptime %ds\n",
				st.State, kernel, st.Seq, st.Variables, st.Ticks, st.UptimeSeconds)
			if st.LastError != "" {
				fmt.Fprintln(a.out, statusStyle(types.StatusDied).UnsetWidth().Render("last error: "+st.LastError))
			}
			return nil
		},
	}
}

func (a *app) execCmd() *cobra.Command {
	var (
		reset   bool
		long    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "exec <code>",
		Short:   "Run code in the watched kernel",
		Example: "  kd5 exec 'x = 42'\n  kd5 exec --long 'train()'\n  kd5 exec --reset '%reset -f'",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := channel.NewRequest(strings.Join(args, " "))
			req.Reset = reset || channel.IsResetCode(req.Code)
			req.LongRunning = long
			if timeout <= 0 && !long {
				timeout = a.cfg.ExecTimeout() + execSlack
			}
			res, err := a.exec(cmd.Context(), req, timeout)
			if err != nil {
				return err
			}
			if res.Text != "" {
				fmt.Fprintln(a.out, res.Text)
			}
			if res.Error != "" {
				return errors.New(res.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "The code clears the namespace")
	cmd.Flags().BoolVar(&long, "long", false, "Lift the execution deadline")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait this long for the result (default exec_timeout plus slack, unbounded with --long)")
	return cmd
}

// exec submits req over the daemon channel and waits for its result. A
// zero timeout waits until ctx is done.
func (a *app) exec(ctx context.Context, req channel.Request, timeout time.Duration) (types.EvalResult, error) {
	r, err := channel.DialRemote(ctx, channel.WSURL(a.cfg.Listen))
	if err != nil {
		return types.EvalResult{}, err
	}
	defer r.Close()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := r.Submit(ctx, req); err != nil {
		return types.EvalResult{}, err
	}
	a.log.Debug().Str("request_id", req.ID).Bool("reset", req.Reset).Bool("long_running", req.LongRunning).Msg("code submitted")
	for {
		select {
		case env, ok := <-r.Envelopes():
			if !ok {
				return types.EvalResult{}, fmt.Errorf("daemon closed the channel: %w", r.Err())
			}
			if env.Result != nil && env.Result.ID == req.ID {
				return *env.Result, nil
			}
		case <-ctx.Done():
			return types.EvalResult{}, fmt.Errorf("no result for request %s: %w", req.ID, ctx.Err())
		}
	}
}

func (a *app) inspectCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:     "inspect <name>",
		Short:   "Materialise one variable of the watched namespace",
		Example: "  kd5 inspect df\n  kd5 inspect --quiet arr",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.inspect(cmd.Context(), args[0], quiet)
			if err != nil && !inspector.IsKernelBusy(err) {
				return err
			}
			renderResult(a.out, res)
			return err
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Do not draw wait progress")
	return cmd
}

// inspect looks name up in the latest snapshot and materialises it
// through the daemon channel.
func (a *app) inspect(ctx context.Context, name string, quiet bool) (inspector.Result, error) {
	s, err := a.daemon().Snapshot(ctx)
	if isStatus(err, http.StatusNotFound) {
		return inspector.Result{}, errors.New("no snapshot yet: connect a kernel first")
	}
	if err != nil {
		return inspector.Result{}, err
	}
	if s.KernelID == "" {
		return inspector.Result{}, errors.New("no kernel watched: connect a kernel first")
	}
	v, ok := s.Variables[name]
	if !ok {
		return inspector.Result{}, fmt.Errorf("no variable %q in kernel %s", name, s.KernelID)
	}
	r, err := channel.DialRemote(ctx, channel.WSURL(a.cfg.Listen))
	if err != nil {
		return inspector.Result{}, err
	}
	defer r.Close()

	cfg := inspector.Config{
		Dir:     a.cfg.ArtifactDir,
		Timeout: a.cfg.InspectTimeout(),
		Poll:    a.cfg.InspectPoll(),
		Logger:  a.log,
	}
	if !quiet {
		cfg.Progress = func(frame string, elapsed time.Duration) {
			fmt.Fprintf(a.errOut, "\r%s waiting for %s %.1fs", frame, name, elapsed.Seconds())
		}
		defer fmt.Fprint(a.errOut, "\r\x1b[K")
	}
	sub := newSerialSubmitter(r, a.cfg.InspectTimeout()+a.cfg.Delay())
	in := inspector.New(sub, cfg)
	if _, err := in.Sweep(); err != nil {
		a.log.Warn().Err(err).Msg("artifact sweep failed")
	}
	return in.Inspect(ctx, v)
}
