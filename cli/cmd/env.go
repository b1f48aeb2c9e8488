package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/adapter"
	redisadapter "github.com/babi2707/segmark/adapter/redis"
	"github.com/babi2707/segmark/adapter/webhook"
	"github.com/babi2707/segmark/artifact"
	"github.com/babi2707/segmark/cli/config"
	"github.com/babi2707/segmark/lock"
	"github.com/babi2707/segmark/lode"
	"github.com/babi2707/segmark/log"
	"github.com/babi2707/segmark/metrics"
	"github.com/babi2707/segmark/runtime"
)

// DefaultConfigFile is loaded when --config is not given and the file exists.
const DefaultConfigFile = "segmark.yaml"

// env is the wired set of collaborators for one command invocation.
type env struct {
	cfg       *config.Config
	logger    *log.Logger
	records   *lode.RecordStore
	artifacts *artifact.Store
	locker    lock.Locker
	notifier  adapter.Adapter
	mirror    *lode.Mirror
	collector *metrics.Collector

	stats   bool
	errOut  io.Writer
	closers []func() error
}

// loadConfig resolves env files, the config file and flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotenv(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}

	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cannot stat %s: %w", DefaultConfigFile, err)
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("storage-backend"); v != "" {
		cfg.Storage.Backend = v
		if v == lode.BackendMemory && !c.IsSet("storage-path") {
			cfg.Storage.Path = ""
		}
	}
	if v := c.String("storage-path"); v != "" {
		cfg.Storage.Path = v
	}
	if v := c.String("artifacts-root"); v != "" {
		cfg.Artifacts.Root = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newEnv builds every collaborator named by the resolved config.
// Callers must call close when done.
func newEnv(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	errOut := c.App.ErrWriter
	if errOut == nil {
		errOut = os.Stderr
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	e := &env{
		cfg:       cfg,
		logger:    log.NewLoggerTo(errOut, level),
		collector: metrics.NewCollector(cfg.Storage.Backend, cfg.Lock.Backend),
		stats:     c.Bool("stats"),
		errOut:    errOut,
	}
	e.closers = append(e.closers, e.logger.Sync)

	if err := e.wire(c.Context); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) wire(ctx context.Context) error {
	cfg := e.cfg

	factory, err := lode.NewFactory(ctx, lode.FactoryConfig{
		Backend:      cfg.Storage.Backend,
		Path:         cfg.Storage.Path,
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.Endpoint,
		UsePathStyle: cfg.Storage.S3PathStyle,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	codec, err := lode.NewCodec(cfg.Storage.Codec)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if e.records, err = lode.NewRecordStore(factory, codec); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if cfg.Storage.Mirror {
		if e.mirror, err = lode.NewMirror(factory, cfg.Storage.MirrorPrefix); err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
	}

	if e.artifacts, err = artifact.NewStore(cfg.Layout()); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}

	switch cfg.Lock.Backend {
	case "redis":
		rl, err := lock.NewRedis(lock.RedisConfig{
			URL:    cfg.Lock.URL,
			TTL:    cfg.Lock.TTL.Duration,
			Prefix: cfg.Lock.Prefix,
		})
		if err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		e.locker = rl
		e.closers = append(e.closers, rl.Close)
	case "none":
		e.locker = lock.Nop{}
	default:
		e.locker = lock.NewMemory()
	}

	retries := e.retries()
	switch cfg.Adapter.Type {
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Secret:  cfg.Adapter.Secret,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return fmt.Errorf("adapter: %w", err)
		}
		e.notifier = a
	case "redis":
		a, err := redisadapter.New(redisadapter.Config{
			URL:     cfg.Adapter.URL,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return fmt.Errorf("adapter: %w", err)
		}
		e.notifier = a
	}
	if e.notifier != nil {
		e.closers = append(e.closers, e.notifier.Close)
	}
	return nil
}

// deps returns the orchestrator collaborators.
// Optional interfaces stay nil when unconfigured.
func (e *env) deps() runtime.Deps {
	d := runtime.Deps{
		Records:   e.records,
		Artifacts: e.artifacts,
		Locker:    e.locker,
		Logger:    e.logger,
		Collector: e.collector,
	}
	if e.notifier != nil {
		d.Notifier = e.notifier
	}
	if e.mirror != nil {
		d.Mirror = e.mirror
	}
	if t := e.cfg.Adapter.Timeout.Duration; t > 0 {
		d.NotifyTimeout = notifyBudget(t, e.retries())
	}
	return d
}

func (e *env) retries() int {
	if e.cfg.Adapter.Retries == nil {
		return 0
	}
	return *e.cfg.Adapter.Retries
}

// notifyBudget bounds one notification: every attempt at the per-request
// timeout plus the backoff between attempts.
func notifyBudget(timeout time.Duration, retries int) time.Duration {
	budget := timeout * time.Duration(retries+1)
	for i := range retries {
		budget += time.Duration(1<<uint(i)) * adapter.BaseBackoff
	}
	return budget
}

// runner builds the process runner for one configured tool.
func (e *env) runner(tc config.ToolConfig) (*runtime.ExecRunner, error) {
	rc := runtime.ToolConfig{
		InterpreterPath: tc.Interpreter,
		ScriptPath:      tc.Script,
		Env:             tc.Env,
		Timeout:         tc.Timeout.Duration,
		Dir:             tc.Dir,
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return runtime.NewExecRunner(rc, e.logger, e.collector), nil
}

// close prints counters when --stats is set and releases resources.
func (e *env) close() {
	if e.stats {
		enc := json.NewEncoder(e.errOut)
		enc.SetIndent("", "  ")
		_ = enc.Encode(e.collector.Snapshot())
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}
