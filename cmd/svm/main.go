// svm runs stackvm assembly programs and program images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/stackvm/asm"
	"github.com/chazu/stackvm/config"
	"github.com/chazu/stackvm/image"
	"github.com/chazu/stackvm/stats"
	"github.com/chazu/stackvm/vm"
)

var log = commonlog.GetLogger("stackvm.svm")

type options struct {
	step     bool
	maxStack int
	stats    bool
	statsDB  string
	noPool   bool
	config   string
	verbose  int
	logFile  string
	output   string
	dis      bool
	trace    bool
	history  int
}

func main() {
	var opts options
	flag.BoolVar(&opts.step, "step", false, "Execute the program one instruction at a time")
	flag.IntVar(&opts.maxStack, "max-stack", 0, "Maximum operand stack size per fiber (0 = unlimited)")
	flag.BoolVar(&opts.stats, "stats", false, "Show performance stats after the program finishes")
	flag.StringVar(&opts.statsDB, "stats-db", "", "Record the run in this SQLite database")
	flag.BoolVar(&opts.noPool, "no-pool", false, "Disable value pooling")
	flag.StringVar(&opts.config, "config", "", "Configuration file (default: nearest stackvm.toml)")
	flag.IntVar(&opts.verbose, "v", 0, "Log verbosity (-4 quiet .. 2 debug)")
	flag.StringVar(&opts.logFile, "log", "", "Write logs to this file instead of stderr")
	flag.StringVar(&opts.output, "o", "", "Assemble into a program image at this path instead of running")
	flag.BoolVar(&opts.dis, "dis", false, "Print a listing of the program instead of running it")
	flag.BoolVar(&opts.trace, "trace", false, "Log every executed instruction (needs -v 2)")
	flag.IntVar(&opts.history, "history", 0, "Show the last N recorded runs and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: svm [options] <program.svm | program.svmi>\n\n")
		fmt.Fprintf(os.Stderr, "Runs a stackvm assembly file or program image.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  svm examples/fib.svm                  # Run a program\n")
		fmt.Fprintf(os.Stderr, "  svm -stats -max-stack 64 fib.svm      # Bound the stack, show stats\n")
		fmt.Fprintf(os.Stderr, "  svm -step fib.svm                     # Step through instructions\n")
		fmt.Fprintf(os.Stderr, "  svm -o fib.svmi fib.svm && svm fib.svmi  # Build and run an image\n")
		fmt.Fprintf(os.Stderr, "  svm -stats-db runs.db -history 10     # Show recorded runs\n")
	}
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(opts.config, flag.Arg(0))
	if err != nil {
		fail(err)
	}
	applyFlags(cfg, &opts, set)

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if opts.history > 0 {
		if err := showHistory(ctx, cfg.StatsDBPath(), opts.history); err != nil {
			fail(err)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)
	prog, imageID, err := loadProgram(path)
	if err != nil {
		fail(err)
	}

	switch {
	case opts.dis:
		fmt.Print(asm.Listing(prog))
		return
	case opts.output != "":
		id, err := image.WriteFile(opts.output, prog)
		if err != nil {
			fail(err)
		}
		log.Infof("wrote image %s (%s)", opts.output, id)
		return
	}

	if err := run(ctx, cfg, &opts, path, prog, imageID); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadConfig reads an explicit configuration file, or the nearest
// stackvm.toml above the program, or falls back to defaults.
func loadConfig(explicit, program string) (*config.Config, error) {
	if explicit != "" {
		data, err := os.ReadFile(explicit)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", explicit, err)
		}
		return config.Parse(explicit, data)
	}
	start := "."
	if program != "" {
		start = filepath.Dir(program)
	}
	cfg, err := config.FindAndLoad(start)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// applyFlags lets explicitly set flags override the configuration file.
func applyFlags(cfg *config.Config, opts *options, set map[string]bool) {
	if set["max-stack"] {
		cfg.Machine.MaxStack = opts.maxStack
	}
	if set["no-pool"] {
		on := !opts.noPool
		cfg.Machine.Pooling = &on
	}
	if set["stats"] {
		cfg.Run.Stats = opts.stats
	}
	if set["stats-db"] {
		cfg.Run.StatsDB = opts.statsDB
	}
	if set["trace"] {
		cfg.Run.Trace = opts.trace
	}
	if set["v"] {
		cfg.Log.Verbosity = opts.verbose
	}
	if set["log"] {
		cfg.Log.File = opts.logFile
	}
}

// loadProgram assembles .svm files and decodes anything else as an image.
func loadProgram(path string) (*vm.Program, uuid.UUID, error) {
	if strings.EqualFold(filepath.Ext(path), ".svm") {
		prog, err := asm.ParseFile(path)
		return prog, uuid.Nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if !image.Sniff(data) {
		prog, err := asm.Parse(path, string(data))
		return prog, uuid.Nil, err
	}
	prog, id, err := image.Decode(data)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("loaded image %s from %s", id, path)
	return prog, id, nil
}

func run(ctx context.Context, cfg *config.Config, opts *options, path string, prog *vm.Program, imageID uuid.UUID) error {
	input := vm.NewLineReader(os.Stdin)
	m := vm.New(prog,
		vm.WithMaxStack(cfg.Machine.MaxStack),
		vm.WithPooling(cfg.PoolingEnabled()),
		vm.WithTrace(cfg.Run.Trace),
		vm.WithInput(input),
		vm.WithOutput(os.Stdout),
		vm.WithDebug(os.Stderr),
	)

	started := time.Now()
	var runErr error
	if opts.step {
		runErr = newStepper(m, input, os.Stdout).run(ctx)
	} else {
		runErr = m.Run(ctx)
	}
	m.Close()

	if cfg.Run.Stats {
		printStats(os.Stdout, m.Stats(), useColor(os.Stdout))
	}
	if db := cfg.StatsDBPath(); db != "" {
		if err := record(ctx, db, stats.NewRun(path, imageID, started, m.Stats(), runErr)); err != nil {
			log.Errorf("%v", err)
		}
	}
	if errors.Is(runErr, errQuit) {
		return nil
	}
	return runErr
}

func record(ctx context.Context, path string, r *stats.Run) error {
	// The run context may already be cancelled; recording still happens.
	ctx = context.WithoutCancel(ctx)
	store, err := stats.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, r)
}

func showHistory(ctx context.Context, path string, n int) error {
	if path == "" {
		return errors.New("no run history configured: pass -stats-db or set run.stats-db")
	}
	store, err := stats.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	runs, err := store.Recent(ctx, n)
	if err != nil {
		return err
	}
	printHistory(os.Stdout, runs, useColor(os.Stdout))
	return nil
}
