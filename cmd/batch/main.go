// Batch triages a sample of a labelled transaction dataset, prompting an
// operator on the console for escalated cases, and prints run statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	wc "github.com/linnemanlabs/warden/internal/cfg"
	"github.com/linnemanlabs/warden/internal/triage"
	"github.com/linnemanlabs/warden/internal/txsource"
	"github.com/linnemanlabs/warden/internal/wiring"
)

const appName = "warden"
const component = "batch"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		batchCfg wc.Batch
		logCfg   log.Config
		traceCfg otelx.Config
	)
	batchCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf("%s (%s) %s (commit=%s, build_date=%s, go=%s)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
		return nil
	}

	// env vars with prefix WARDEN_ fill anything not set on the cmdline
	cfg.FillFromEnv(flag.CommandLine, "WARDEN_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		batchCfg.Validate(),
		logCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	scorer := wiring.NewScorer(&batchCfg.Triage, L, nil)
	if batchCfg.WaitReadySeconds > 0 {
		fmt.Printf(" Waiting for scoring service at %s...\n", batchCfg.ScoringURL)
		if err := scorer.WaitReady(ctx, time.Duration(batchCfg.WaitReadySeconds)*time.Second, time.Second); err != nil {
			return fmt.Errorf("scoring service not ready: %w", err)
		}
	}

	skip := batchCfg.Skip
	if skip < 0 {
		skip = txsource.RandomSkip(batchCfg.MaxSkip)
	}
	fmt.Printf(" Sampling %d transactions (Starting row: %d)...\n", batchCfg.Samples, skip)

	records, err := txsource.ReadFile(batchCfg.DataPath, txsource.Options{Skip: skip, Limit: batchCfg.Samples})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no transactions in %s after row %d", batchCfg.DataPath, skip)
	}
	fmt.Println(strings.Repeat("-", 50))

	reasoner, providerName := wiring.NewReasoner(&batchCfg.Triage)
	L.Info(ctx, "initialized reasoning provider", "provider", providerName, "model", batchCfg.ClaudeModel)

	var gate triage.Gate
	if batchCfg.Interactive {
		gate = triage.NewConsoleGate(os.Stdin, os.Stdout)
	} else {
		gate = triage.AlwaysGate(triage.Decision(batchCfg.AutoDecision))
	}

	// only a configured database is worth persisting to, the summary covers the rest
	var store triage.Store
	if batchCfg.DatabaseURL != "" {
		s, closeStore, err := wiring.OpenStore(ctx, &batchCfg.Triage, L)
		if err != nil {
			return err
		}
		defer closeStore()
		store = s
	}

	engine := triage.NewEngine(scorer, reasoner, gate, L, triage.EngineHooks{}, triage.EngineOptions{})

	rep := newReporter(os.Stdout, records)
	orch := triage.NewOrchestrator(engine, L, triage.OrchestratorOptions{
		Concurrency: batchCfg.Concurrency,
		Store:       store,
		OnCase:      rep.onCase,
	})

	stats := orch.Run(ctx, txsource.Transactions(records))
	if ctx.Err() != nil {
		fmt.Println("\n Stopping...")
	}
	fmt.Print(rep.summary(stats.Snapshot()))
	return nil
}
