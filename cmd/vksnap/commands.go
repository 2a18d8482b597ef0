package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/willibrandon/vksnap/pkg/codec"
	"github.com/willibrandon/vksnap/pkg/decoder"
	"github.com/willibrandon/vksnap/pkg/handle"
	"github.com/willibrandon/vksnap/pkg/monitor"
	"github.com/willibrandon/vksnap/pkg/reconstruction"
	"github.com/willibrandon/vksnap/pkg/replay"
	"github.com/willibrandon/vksnap/pkg/store"
	"github.com/willibrandon/vksnap/pkg/vk"
)

func (a *app) inspectCmd() *cobra.Command {
	var showHandles, showTraces bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the handle graph and replay order of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			snap, err := codec.Unmarshal(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			table, log := snap.Restore()
			plan, err := replay.NewPlan(table, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d bytes, %d handles, %d traces\n", args[0], len(data), table.Len(), log.Len())
			if snap.HasPending {
				fmt.Fprintf(out, "%s %d extra handles staged for the next call\n", colorWarn("pending:"), len(snap.Pending))
			}

			fmt.Fprintln(out, "replay order:")
			for i, step := range plan.Steps {
				fmt.Fprintf(out, "  %3d  %s %s  %s\n", i+1, colorOp(step.Trace.Opcode), colorFaint("#%d", step.Trace.Ref), describe(table, step.Handles))
				for _, ir := range step.Inits {
					fmt.Fprintf(out, "         %s %s\n", ir.Opcode, colorFaint("#%d", ir.Ref))
				}
			}
			for _, rec := range plan.Modifies {
				fmt.Fprintf(out, "  mod  %s %s  %s\n", colorOp(rec.Opcode), colorFaint("#%d", rec.Ref), describe(table, rec.Touched))
			}
			printInconsistencies(out, plan.Inconsistencies)

			if showHandles {
				fmt.Fprintln(out, "handles:")
				for _, rec := range table.Records() {
					fmt.Fprintf(out, "  %s %s  created by #%d", colorType(rec.Type), rec.Handle, rec.Creation)
					if len(rec.DependsOn) > 0 {
						fmt.Fprintf(out, ", depends on %s", describe(table, rec.DependsOn))
					}
					fmt.Fprintf(out, ", inits %v, modifies %v\n", rec.Inits, rec.Modifies)
				}
			}
			if showTraces {
				fmt.Fprintln(out, "traces:")
				for _, rec := range log.Records() {
					fmt.Fprintf(out, "  %s  %d payload bytes\n", rec, len(rec.Payload))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showHandles, "handles", false, "Also list every handle record")
	cmd.Flags().BoolVar(&showTraces, "traces", false, "Also list every trace record")
	return cmd
}

func (a *app) replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Load a snapshot against a simulated driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			metrics := monitor.NewMetrics(nil)
			opts := a.cfg.EngineOptions()
			opts.Logger, opts.Metrics = a.log, metrics
			engine := reconstruction.NewWithOptions(opts)

			monOpts := a.cfg.MonitorOptions()
			monOpts.Logger, monOpts.Metrics = a.log, metrics
			mon := monitor.New(monOpts)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go mon.Run(ctx)

			dec := decoder.NewSimulated()
			res, loadErr := engine.Load(ctx, f, dec, a.log, mon)
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			if loadErr != nil {
				return loadErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colorOK("loaded:"), engine.Stats())
			return nil
		},
	}
}

func printResult(out io.Writer, res *replay.Result) {
	fmt.Fprintf(out, "replayed %d traces, recreated %d handles\n", len(res.Replayed), len(res.Order))
	for _, old := range res.Order {
		typ := vk.UnknownType
		if h, ok := res.Mapping.Translate(old); ok {
			if rec, ok := res.Table.Get(h); ok {
				typ = rec.Type
			}
			fmt.Fprintf(out, "  %-22s %s -> %s\n", colorType(typ), old, h)
		}
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "%s %s\n", colorError("failure:"), f)
	}
	printInconsistencies(out, res.Inconsistencies)
}

func printInconsistencies(out io.Writer, incs []replay.Inconsistency) {
	for _, inc := range incs {
		fmt.Fprintf(out, "%s %s\n", colorWarn("inconsistency:"), inc)
	}
}

func describe(table *handle.Table, hs []vk.Handle) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		typ := vk.UnknownType
		if rec, ok := table.Get(h); ok {
			typ = rec.Type
		}
		parts[i] = fmt.Sprintf("%s %s", colorType(typ), h)
	}
	return strings.Join(parts, ", ")
}

func (a *app) pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push FILE [ID]",
		Short: "Upload a snapshot file to the store",
		Long:  "Upload a snapshot file to the store. The id defaults to the file name without its extension.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := codec.Unmarshal(data); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			id := strings.TrimSuffix(filepath.Base(args[0]), store.FileExt)
			if len(args) == 2 {
				id = args[1]
			}
			return a.withStore(cmd.Context(), func(s store.Store) error {
				if err := s.Put(cmd.Context(), id, data); err != nil {
					return err
				}
				a.log.Info("snapshot pushed", "id", id, "bytes", len(data), "backend", a.cfg.Store.Backend)
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func (a *app) pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull ID FILE",
		Short: "Download a snapshot from the store into a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s store.Store) error {
				data, err := s.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if _, err := codec.Unmarshal(data); err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				return os.WriteFile(args[1], data, 0o644)
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var checkpoints bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the snapshots in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return a.withStore(cmd.Context(), func(s store.Store) error {
				if checkpoints {
					cps, err := store.NewCheckpoints(s).List(cmd.Context())
					if err != nil {
						return err
					}
					for _, cp := range cps {
						fmt.Fprintln(out, cp)
					}
					return nil
				}
				ids, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&checkpoints, "checkpoints", false, "List checkpoint metadata instead of ids")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a snapshot from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s store.Store) error {
				return s.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func (a *app) withStore(ctx context.Context, fn func(store.Store) error) error {
	s, err := store.Open(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}
	return fn(s)
}
