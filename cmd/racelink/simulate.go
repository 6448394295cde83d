package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/racelink"
	"github.com/ystepanoff/racelink/config"
	"github.com/ystepanoff/racelink/internal/console"
	rlog "github.com/ystepanoff/racelink/internal/log"
	"github.com/ystepanoff/racelink/session"
)

type simulation struct {
	stage1 time.Duration
	stage2 time.Duration
	pause  time.Duration
	runner float64
}

var sim simulation

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scripted race over in-memory radios",
	Long: `Run the controller, master and secondary in one process joined by
in-memory radios. The script measures the course, starts a race, trips the
gates after the given stage times and prints the result.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return sim.run(ctx, cfg)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.DurationVar(&sim.stage1, "stage1", 3*time.Second, "time from the start gate to the secondary gate")
	f.DurationVar(&sim.stage2, "stage2", 2*time.Second, "time from the secondary gate to the finish")
	f.DurationVar(&sim.pause, "pause", 0, "pause the controller counters this long during stage 1")
	f.Float64Var(&sim.runner, "runner-cm", 60, "distance of a runner passing a gate")
}

func (s simulation) run(ctx context.Context, cfg config.Config) error {
	reg := prometheus.NewRegistry()
	kit := racelink.NewKit(cfg, rlog.Base(), reg)
	log := rlog.WithComponent("simulate")

	display := console.NewDisplay(rlog.WithComponent("display"))
	keys := console.NewKeypad()
	masterGate, secondaryGate := console.NewGate(), console.NewGate()
	bench := kit.Bench(display, keys, masterGate, secondaryGate)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bench.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		return s.script(gctx, bench, keys, masterGate, secondaryGate)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	lines := display.Lines()
	log.Info().Str("line1", lines[0]).Str("line2", lines[1]).Msg("final display")
	if gerr := summarize(reg, log); gerr != nil {
		log.Warn().Err(gerr).Msg("metrics unavailable")
	}
	return err
}

// script plays the operator and the runner.
func (s simulation) script(ctx context.Context, b *racelink.Bench, keys *console.Keypad, masterGate, secondaryGate *console.Gate) error {
	keys.Press(racelink.ButtonStop)
	if err := waitUntil(ctx, func() bool { return b.Controller.Distance() != racelink.SentinelValue }, 10*time.Second); err != nil {
		return fmt.Errorf("distance query: %w", err)
	}

	keys.Press(racelink.ButtonStart)
	if err := waitUntil(ctx, func() bool { return b.Master.State() == session.MasterWaitStage1 }, 10*time.Second); err != nil {
		return fmt.Errorf("race start: %w", err)
	}
	if err := masterGate.Trip(ctx, s.runner); err != nil {
		return err
	}

	if s.pause > 0 {
		keys.Press(racelink.ButtonPause)
		if err := sleep(ctx, s.pause); err != nil {
			return err
		}
		keys.Press(racelink.ButtonPause)
	}
	if err := sleep(ctx, s.stage1-s.pause); err != nil {
		return err
	}
	if err := waitUntil(ctx, func() bool { return b.Secondary.State() == session.SecondaryTimedWait }, 10*time.Second); err != nil {
		return fmt.Errorf("secondary start: %w", err)
	}
	if err := secondaryGate.Trip(ctx, s.runner); err != nil {
		return err
	}

	if err := waitUntil(ctx, func() bool { return b.Master.State() == session.MasterWaitStage2 }, 10*time.Second); err != nil {
		return fmt.Errorf("stage 2: %w", err)
	}
	if err := sleep(ctx, s.stage2); err != nil {
		return err
	}
	if err := masterGate.Trip(ctx, s.runner); err != nil {
		return err
	}

	return waitUntil(ctx, func() bool {
		return b.Master.State() == session.MasterIdle && b.Controller.State() == session.ControllerIdle
	}, 10*time.Second)
}

func waitUntil(ctx context.Context, cond func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// summarize logs every counter family summed over its labels.
func summarize(g prometheus.Gatherer, log zerolog.Logger) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		log.Info().Str("metric", mf.GetName()).Float64("total", total).Msg("metrics")
	}
	return nil
}
