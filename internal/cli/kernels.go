package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kd5/internal/channel"
	"kd5/pkg/types"
)

func (a *app) kernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "kernels",
		Aliases: []string{"ls"},
		Short:   "List kernels found in the runtime directories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := a.backend().Kernels(cmd.Context())
			if err != nil {
				return err
			}
			renderKernels(a.out, ks)
			return nil
		},
	}
}

func (a *app) newCmd() *cobra.Command {
	var req types.SpawnRequest
	cmd := &cobra.Command{
		Use:     "new",
		Short:   "Start a new kernel",
		Example: "  kd5 new\n  kd5 new --version 3 --exclude 1234,5678",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.backend().Spawn(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, k.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Version, "version", "", "Interpreter version key from kernel_versions")
	cmd.Flags().StringSliceVar(&req.Exclude, "exclude", nil, "Ids the new kernel must not take")
	return cmd
}

func (a *app) connectCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:     "connect <id>",
		Short:   "Switch the daemon to a kernel",
		Example: "  kd5 connect 27146\n  kd5 connect 27146 --wait 5s",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd.Context(), args[0], wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait this long for the first snapshot of the kernel")
	return cmd
}

// connect resolves id to its connection file and announces it on the
// daemon's channel. With wait set it blocks until a snapshot of that
// kernel arrives.
func (a *app) connect(ctx context.Context, id string, wait time.Duration) error {
	k, err := a.manager().Lookup(ctx, id)
	if err != nil {
		return err
	}
	if k.Status == types.StatusDied {
		return fmt.Errorf("kernel %s is not answering", id)
	}
	r, err := channel.DialRemote(ctx, channel.WSURL(a.cfg.Listen))
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Announce(k.ConnectionFile); err != nil {
		return err
	}
	if wait <= 0 {
		fmt.Fprintf(a.out, "connect requested for kernel %s\n", id)
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		select {
		case env, ok := <-r.Envelopes():
			if !ok {
				return fmt.Errorf("daemon closed the channel: %w", r.Err())
			}
			if env.Type == types.EnvelopeSnapshot && env.Snapshot != nil && env.Snapshot.KernelID == id {
				fmt.Fprintf(a.out, "connected to kernel %s (%d variables)\n", id, env.Snapshot.Len())
				return nil
			}
		case <-wctx.Done():
			return fmt.Errorf("no snapshot of kernel %s within %s", id, wait)
		}
	}
}

func (a *app) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Restart a kernel on its existing connection file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.backend().Restart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "kernel %s %s\n", k.ID, k.Status)
			return nil
		},
	}
}

func (a *app) shutdownCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "shutdown <id>",
		Short:   "Shut a kernel down",
		Example: "  kd5 shutdown 27146\n  kd5 shutdown --all-alive",
		Args:    bulkArgs(&all, "--all-alive"),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.backend()
			if all {
				ids, err := shutdownAllAlive(cmd.Context(), b)
				a.reportBulk("stopped", ids)
				return err
			}
			if err := b.Shutdown(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "kernel %s stopped\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all-alive", false, "Shut down every alive kernel")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Short:   "Remove the connection file of a died kernel",
		Example: "  kd5 rm 27146\n  kd5 rm --all-died",
		Args:    bulkArgs(&all, "--all-died"),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.backend()
			if all {
				ids, err := removeAllDied(cmd.Context(), b)
				a.reportBulk("removed", ids)
				return err
			}
			if err := b.RemoveConnectionFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "kernel %s removed\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all-died", false, "Remove every died kernel")
	return cmd
}

// bulkArgs accepts exactly one id, or none when the bulk flag is set.
func bulkArgs(all *bool, flag string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		switch {
		case *all && len(args) > 0:
			return fmt.Errorf("%s takes no kernel id", flag)
		case !*all && len(args) != 1:
			return fmt.Errorf("requires a kernel id or %s", flag)
		}
		return nil
	}
}

func (a *app) reportBulk(verb string, ids []string) {
	if len(ids) == 0 {
		fmt.Fprintf(a.out, "no kernels %s\n", verb)
		return
	}
	fmt.Fprintf(a.out, "%s %s\n", verb, strings.Join(ids, " "))
}

func (a *app) lastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Print the id of the most recently spawned kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.manager().LastSpawned()
			if errors.Is(err, os.ErrNotExist) {
				return errors.New("no kernel spawned yet")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
}
