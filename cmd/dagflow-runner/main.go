// Command dagflow-runner executes a single plugin outside a workflow, or a
// whole workflow file, and prints the outcome as JSON.
//
//	dagflow-runner -plugin core.constant -set value=42 -mode standalone -bench 100
//	dagflow-runner -workflow hello.yaml -input name=ada
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/application/standalone"
	"github.com/aescanero/dagflow/internal/engine"
	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/internal/logging"
	memcache "github.com/aescanero/dagflow/pkg/adapters/cache/memory"
	"github.com/aescanero/dagflow/pkg/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	defaultPool = 2
)

// keyValueFlag collects repeated key=value flags. Values are decoded as
// YAML scalars or collections, so 42, true and [1,2] keep their types.
type keyValueFlag map[string]any

func (f keyValueFlag) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(pairs, ",")
}

func (f keyValueFlag) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v, err := parseValue(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	f[key] = v
	return nil
}

func parseValue(raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	if v == nil {
		return raw, nil
	}
	return v, nil
}

// loadMap reads a YAML or JSON document holding a single mapping.
func loadMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

type options struct {
	plugin     string
	workflow   string
	targets    string
	mode       string
	inputs     keyValueFlag
	config     keyValueFlag
	configFile string
	inputsFile string
	bench      int
	types      string
	timeout    time.Duration
	cache      bool
	logLevel   string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{inputs: keyValueFlag{}, config: keyValueFlag{}}

	fs := flag.NewFlagSet("dagflow-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.plugin, "plugin", "", "plugin id to execute")
	fs.StringVar(&opts.workflow, "workflow", "", "YAML or JSON workflow file to run instead of a single plugin")
	fs.StringVar(&opts.targets, "targets", "", "comma separated nodes to restrict a workflow run to")
	fs.StringVar(&opts.mode, "mode", string(standalone.ModeDirect), "direct or standalone")
	fs.Var(opts.inputs, "input", "input value as key=value (repeatable)")
	fs.Var(opts.config, "set", "config value as key=value (repeatable)")
	fs.StringVar(&opts.configFile, "config-file", "", "YAML or JSON file with the plugin config")
	fs.StringVar(&opts.inputsFile, "inputs-file", "", "YAML or JSON file with the inputs")
	fs.IntVar(&opts.bench, "bench", 0, "run N iterations and report latency statistics")
	fs.StringVar(&opts.types, "types", "", "YAML or JSON file extending the type system")
	fs.DurationVar(&opts.timeout, "timeout", 0, "overall time limit")
	fs.BoolVar(&opts.cache, "cache", false, "let standalone iterations reuse cached results")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if (opts.plugin == "") == (opts.workflow == "") {
		return nil, errors.New("exactly one of -plugin or -workflow is required")
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if _, err := standalone.ParseMode(opts.mode); err != nil {
		return nil, err
	}
	if opts.bench < 0 {
		return nil, errors.New("-bench must not be negative")
	}
	return opts, nil
}

// merge overlays flag values on file values.
func merge(path string, flags keyValueFlag) (map[string]any, error) {
	out := map[string]any{}
	if path != "" {
		m, err := loadMap(path)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range flags {
		out[k] = v
	}
	return out, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "dagflow-runner: %v\n", err)
		}
		return exitUsage
	}

	inputs, err := merge(opts.inputsFile, opts.inputs)
	if err != nil {
		return die(stderr, err)
	}
	cfg, err := merge(opts.configFile, opts.config)
	if err != nil {
		return die(stderr, err)
	}

	logger, err := logging.NewStderr(opts.logLevel)
	if err != nil {
		return die(stderr, err)
	}
	defer func() { _ = logger.Sync() }()

	engOpts := engine.Options{
		Logger:    logger,
		TypesFile: opts.types,
		PoolSize:  defaultPool,
	}
	if opts.cache {
		engOpts.Cache = memcache.NewResultCache()
		engOpts.CacheEnabled = true
	}
	eng := engine.New(engOpts)
	if err := eng.Init(); err != nil {
		return die(stderr, err)
	}
	defer func() {
		if err := eng.Shutdown(context.Background()); err != nil {
			logger.Warn("engine shutdown error", zap.Error(err))
		}
	}()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	if opts.workflow != "" {
		return runWorkflow(ctx, eng, opts, inputs, stdout, stderr)
	}

	req := standalone.Request{
		PluginID: opts.plugin,
		Mode:     standalone.Mode(opts.mode),
		Inputs:   inputs,
		Config:   cfg,
		UseCache: opts.cache,
	}

	if opts.bench > 0 {
		res, err := eng.Runner().Benchmark(ctx, req, opts.bench)
		if res != nil {
			if werr := writeJSON(stdout, res); werr != nil {
				return die(stderr, werr)
			}
		}
		if err != nil {
			return die(stderr, err)
		}
		if res.Failures > 0 {
			return exitFailed
		}
		return exitOK
	}

	res, err := eng.Runner().Execute(ctx, req)
	if res != nil {
		if werr := writeJSON(stdout, res); werr != nil {
			return die(stderr, werr)
		}
	}
	if err != nil {
		logger.Debug("plugin failed", zap.String("plugin", opts.plugin), zap.Error(err))
		if res == nil {
			return die(stderr, err)
		}
		return exitFailed
	}
	return exitOK
}

// runWorkflow submits a workflow file and prints its final state.
func runWorkflow(ctx context.Context, eng *engine.Engine, opts *options, inputs map[string]any, stdout, stderr io.Writer) int {
	wf, err := graph.LoadFile(opts.workflow)
	if err != nil {
		return die(stderr, err)
	}

	var targets []string
	for _, t := range strings.Split(opts.targets, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}

	runID, err := eng.Manager().SubmitWorkflow(ctx, wf, orchestrator.SubmitOptions{
		Inputs:   inputs,
		Targets:  targets,
		UseCache: opts.cache,
	})
	if err != nil {
		return die(stderr, err)
	}

	state, err := eng.Manager().Wait(ctx, runID)
	if err != nil {
		return die(stderr, err)
	}
	if err := writeJSON(stdout, state); err != nil {
		return die(stderr, err)
	}
	if state.Status != domain.RunStatusCompleted {
		return exitFailed
	}
	return exitOK
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func die(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "dagflow-runner: %v\n", err)
	return exitFailed
}
