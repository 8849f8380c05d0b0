package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/wippyai/rtcore/kernel"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to kernel YAML config (optional)")
		period      = flag.Duration("period", 50*time.Millisecond, "Sampler timer period")
		duration    = flag.Duration("for", time.Second, "How long to run before the snapshot")
		wasmHeap    = flag.Bool("wasm-heap", false, "Back the main heap with a wasm linear memory")
		logLevel    = flag.String("log", "", "Log level (debug, info, warn, error)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg := kernel.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = kernel.LoadConfig(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *wasmHeap {
		cfg.WasmHeap = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal, printing a snapshot instead")
		*interactive = false
	}

	if err := run(cfg, *period, *duration, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg kernel.Config, period, duration time.Duration, interactive bool) error {
	ctx := context.Background()

	k, err := kernel.New(kernel.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("start kernel: %w", err)
	}

	w, err := startWorkload(ctx, k, period)
	if err != nil {
		k.Close(ctx)
		return fmt.Errorf("start workload: %w", err)
	}

	if interactive {
		err = runInteractive(k, w)
	} else {
		time.Sleep(duration)
		fmt.Printf("Kernel %s (node %d)\n", k.ID(), k.Node())
		fmt.Printf("Uptime %s, %d samples logged, %d task switches\n\n",
			k.Now().Round(time.Millisecond), w.count.Load(), k.Scheduler().Switches())
		err = printSnapshot(os.Stdout, collect(k.Registry()))
	}

	if stopErr := w.Stop(ctx); stopErr != nil && err == nil {
		err = fmt.Errorf("stop workload: %w", stopErr)
	}
	if closeErr := k.Close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
