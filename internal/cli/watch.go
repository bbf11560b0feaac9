package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kd5/internal/channel"
	"kd5/internal/daemon"
	"kd5/internal/httpapi"
	"kd5/internal/watcher"
)

const shutdownGrace = 5 * time.Second

func (a *app) watchCmd() *cobra.Command {
	var (
		kernelID    string
		stopKernels bool
		opTimeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Run the watcher daemon and its HTTP/WebSocket channel",
		Example: "  kd5 watch\n  kd5 watch --kernel 27146 --addr 127.0.0.1:8000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			httpapi.SetOpTimeout(opTimeout)
			return a.watch(ctx, kernelID, stopKernels)
		},
	}
	cmd.Flags().StringVar(&kernelID, "kernel", "", "Kernel id to connect at startup")
	cmd.Flags().BoolVar(&stopKernels, "stop-kernels", false, "Stop kernels spawned by the daemon when it exits")
	cmd.Flags().DurationVar(&opTimeout, "op-timeout", 0, "Bound on each kernel management request (0 = manager timeouts only)")
	return cmd
}

// watch serves until ctx is done. The listener is bound before the loop
// starts so a taken address fails fast.
func (a *app) watch(ctx context.Context, kernelID string, stopKernels bool) error {
	cfg := a.cfg
	log := a.log

	mgr := a.manager()
	ch := channel.New(channel.Config{SubmitWait: cfg.SubmitWait(), Logger: log})
	defer ch.Close()
	w := watcher.New(ch, watcher.Config{
		Delay:        cfg.Delay(),
		ExecTimeout:  cfg.ExecTimeout(),
		DrainTimeout: cfg.DrainTimeout(),
		Logger:       log,
	})
	d := daemon.New(mgr, ch, w, log)

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	if len(cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			[]string{"Content-Type", "X-Log-Level"})
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: httpapi.NewMux(d), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("kd5 listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		d.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if kernelID != "" {
		g.Go(func() error {
			if _, err := d.Connect(gctx, kernelID); err != nil {
				log.Error().Err(err).Str("kernel_id", kernelID).Str("op", "connect").Msg("startup connect failed")
			}
			return nil
		})
	}

	err = g.Wait()
	if stopKernels {
		mgr.Close()
	}
	return err
}
