// Package harness is the process-scoped context of a test run. It owns every
// component and drives the per-test lifecycle: group start, setup, test body
// and teardown.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/mobile-harness/pkg/artifact"
	"github.com/devicelab-dev/mobile-harness/pkg/capability"
	"github.com/devicelab-dev/mobile-harness/pkg/capture"
	"github.com/devicelab-dev/mobile-harness/pkg/config"
	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/history"
	"github.com/devicelab-dev/mobile-harness/pkg/interact"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
	"github.com/devicelab-dev/mobile-harness/pkg/remote"
	"github.com/devicelab-dev/mobile-harness/pkg/report"
	"github.com/devicelab-dev/mobile-harness/pkg/run"
	"github.com/devicelab-dev/mobile-harness/pkg/session"
	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

var log = logger.ForComponent(logger.CompHarness)

// ErrSkipped marks a test body that skipped itself.
var ErrSkipped = errors.New("test skipped")

// Skip returns an error that ends the test as skipped.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

// Harness holds the components shared by every worker of the process.
type Harness struct {
	cfg      *config.Config
	identity run.Identity

	Resolver *config.Resolver
	Builder  *capability.Builder
	Sessions *session.Manager
	Store    *artifact.Store
	Runs     *run.Coordinator
	Report   *report.Writer
	Capture  *capture.Capturer
	History  *history.Store

	tracer      *telemetry.TracerProvider
	metricsFile string
	timeouts    interact.Timeouts

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	dialer   remote.Dialer
	identity run.Identity
	lookup   func(string) (string, bool)
	history  *history.Store
	tracer   *telemetry.TracerProvider
	lockWait time.Duration
	metrics  string
}

// Option configures New.
type Option func(*options)

// WithDialer replaces the HTTP dialer.
func WithDialer(d remote.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithIdentity sets the process identity instead of generating one.
func WithIdentity(id run.Identity) Option {
	return func(o *options) { o.identity = id }
}

// WithLookupEnv replaces os.LookupEnv for profile indirection.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = fn }
}

// WithHistory uses an already open history store. The harness closes it.
func WithHistory(s *history.Store) Option {
	return func(o *options) { o.history = s }
}

// WithTracerProvider shuts tp down on Close.
func WithTracerProvider(tp *telemetry.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithLockWait bounds the wait for another process's run lock.
func WithLockWait(d time.Duration) Option {
	return func(o *options) { o.lockWait = d }
}

// WithMetricsFile writes the process metrics to path on Close.
func WithMetricsFile(path string) Option {
	return func(o *options) { o.metrics = path }
}

// New builds the harness from cfg. Paths in cfg must already be resolved.
func New(cfg *config.Config, opts ...Option) (*Harness, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	o := options{dialer: remote.HTTPDialer{}, lockWait: run.DefaultLockWait}
	for _, opt := range opts {
		opt(&o)
	}
	if o.identity.IsZero() {
		o.identity = run.NewIdentity()
	}

	var resolverOpts []config.Option
	if o.lookup != nil {
		resolverOpts = append(resolverOpts, config.WithLookupEnv(o.lookup))
	}
	resolver := config.NewResolver(cfg.ConfigDir, resolverOpts...)

	store := artifact.NewStore(cfg.Artifacts.ScreenshotDir, cfg.Artifacts.ResultsDir)
	writer := report.NewWriter(cfg.Artifacts.ResultsDir)
	writer.SetEnvironment("env", cfg.Environment)
	writer.SetEnvironment("device", cfg.Device)
	writer.SetEnvironment("run.id", o.identity.RunID)

	hist := o.history
	if hist == nil && cfg.History.Enabled {
		var err error
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	sessions := session.NewManager(o.dialer, resolver)
	env := cfg.Environment
	coord := run.NewCoordinator(o.identity, store, cfg.Artifacts.MarkerFile,
		run.WithLockWait(o.lockWait),
		run.WithSink(func(group string) report.Sink { return writer.Group(group) }),
	)
	capturer := capture.New(sessions, store,
		capture.WithRecorder(hist, o.identity.RunID),
		capture.WithArtifactConfig(cfg.Capture),
		capture.WithPersistGate(func() bool { return resolver.GetBool("screenshot.enabled", env) }),
	)
	timeouts := interact.Timeouts{
		Default: cfg.Timeouts.Default,
		Probe:   cfg.Timeouts.Probe,
		Long:    cfg.Timeouts.Long,
		Poll:    cfg.Timeouts.PollInterval,
	}

	h := &Harness{
		cfg:         cfg,
		identity:    o.identity,
		Resolver:    resolver,
		Builder:     capability.NewBuilder(resolver),
		Sessions:    sessions,
		Store:       store,
		Runs:        coord,
		Report:      writer,
		Capture:     capturer,
		History:     hist,
		tracer:      o.tracer,
		metricsFile: o.metrics,
		timeouts:    timeouts,
	}
	return h, nil
}

// Config returns the workspace configuration.
func (h *Harness) Config() *config.Config { return h.cfg }

// Identity returns the process identity.
func (h *Harness) Identity() run.Identity { return h.identity }

// Env returns the target environment.
func (h *Harness) Env() string { return h.cfg.Environment }

// StartGroup runs the group start hook. Call it before the group's first
// Setup. It never fails; problems are logged and reported in the outcome.
func (h *Harness) StartGroup(ctx context.Context, group string) run.Outcome {
	out := h.Runs.OnGroupStart(ctx, group)
	if err := h.History.RecordRun(ctx, history.Run{
		RunID:     h.identity.RunID,
		StartedAt: time.UnixMilli(h.identity.StartTime),
		Env:       h.cfg.Environment,
		Cleaned:   out.Cleaned,
		Deleted:   out.Deleted,
	}); err != nil {
		log.Warn("could not record run", "error", err)
	}
	return out
}

// Test is one running test bound to a worker's session.
type Test struct {
	Name   string
	Group  string
	Worker string
	Device string
	Env    string

	Caps    capability.Capabilities
	Session *session.Handle
	// UI is nil when setup failed.
	UI     *interact.Primitives
	Report *report.TestCase

	started time.Time
}

// Descriptor resolves the device descriptor for name, substituting the
// default descriptor when the catalog has no entry.
func (h *Harness) Descriptor(device string) config.Descriptor {
	env := h.cfg.Environment
	desc, ok := h.Resolver.DeviceDescriptor(env, device)
	if !ok {
		log.Warn("no device configuration found, using default", "env", env, "device", device)
		desc = config.DefaultDescriptor()
	}
	return desc
}

// Setup builds capabilities and opens the worker's session. The returned
// Test is never nil so Teardown can run on every exit path.
func (h *Harness) Setup(ctx context.Context, group, name, worker, device string) (*Test, error) {
	if device == "" {
		device = h.cfg.Device
	}
	env := h.cfg.Environment
	t := &Test{
		Name:    name,
		Group:   group,
		Worker:  worker,
		Device:  device,
		Env:     env,
		Report:  h.Report.StartTest(group, name, worker),
		started: time.Now(),
	}
	t.Report.Label("host", device)

	log.Info("setting up test", "test", name, "env", env, "device", device, "worker", worker)

	desc := h.Descriptor(device)
	caps, err := h.Builder.Build(env, desc)
	if err != nil {
		return t, err
	}
	t.Caps = caps

	handle, err := h.Sessions.Create(ctx, worker, env, caps)
	if err != nil {
		return t, err
	}
	t.Session = handle
	t.UI = interact.New(handle.Session, h.timeouts, interact.WithSteps(t.Report))

	for _, a := range []core.Attachment{
		core.NewTextAttachment(core.AttachmentEnv, env),
		core.NewTextAttachment(core.AttachmentDevice, device),
		core.NewTextAttachment(core.AttachmentPlatform, caps.String("platformName")+" "+caps.String("platformVersion")),
	} {
		if _, err := t.Report.Attach(a.Name, a.Body, a.ContentType); err != nil {
			log.Warn("setup attachment failed", "label", a.Name, "error", err)
		}
	}
	log.Info("test setup completed", "test", name, "session", handle.Session.ID())
	return t, nil
}

// Teardown captures failure evidence, releases the session and writes the
// test result.
func (h *Harness) Teardown(ctx context.Context, t *Test, status core.TestStatus, err error) capture.Result {
	res := h.Capture.OnOutcome(ctx, capture.Outcome{
		Worker:   t.Worker,
		Group:    t.Group,
		TestName: t.Name,
		Device:   t.Device,
		Session:  t.Session,
		Status:   status,
		Err:      err,
		Duration: time.Since(t.started),
		Sink:     t.Report,
	})
	if ferr := t.Report.Finish(status, err); ferr != nil {
		log.Warn("could not write test result", "test", t.Name, "error", ferr)
	}
	log.Info("test finished", "test", t.Name, "status", status.String(), "worker", t.Worker)
	return res
}

// TestFunc is a test body.
type TestFunc func(ctx context.Context, t *Test) error

// Result is the outcome of Run.
type Result struct {
	Name     string
	Worker   string
	Status   core.TestStatus
	Err      error
	Duration time.Duration
	Capture  capture.Result
}

// Run performs setup, fn and teardown for one test. A panic in fn fails the
// test; teardown always runs.
func (h *Harness) Run(ctx context.Context, group, name, worker, device string, fn TestFunc) Result {
	ctx, span := telemetry.StartSpan(ctx, "harness.test",
		telemetry.AttrTest.String(name),
		telemetry.AttrGroup.String(group),
		telemetry.AttrWorker.String(worker),
	)
	start := time.Now()

	t, err := h.Setup(ctx, group, name, worker, device)
	if err == nil {
		err = call(ctx, t, fn)
	}
	status := statusOf(err)

	res := Result{
		Name:     name,
		Worker:   worker,
		Status:   status,
		Err:      err,
		Capture:  h.Teardown(ctx, t, status, err),
		Duration: time.Since(start),
	}
	telemetry.EndSpan(span, err)
	return res
}

func call(ctx context.Context, t *Test, fn TestFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.ErrAssertion.WithMessage(fmt.Sprintf("test panicked: %v", r))
		}
	}()
	return fn(ctx, t)
}

func statusOf(err error) core.TestStatus {
	switch {
	case err == nil:
		return core.StatusPassed
	case errors.Is(err, ErrSkipped):
		return core.StatusSkipped
	case core.IsInfrastructure(err):
		return core.StatusErrored
	default:
		return core.StatusFailed
	}
}

// Close destroys leftover sessions and flushes the report, history and
// traces. Only the first call has an effect.
func (h *Harness) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.Sessions.DestroyAll(ctx)
		var errs []error
		if err := h.Report.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := h.History.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := h.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if h.metricsFile != "" {
			if err := telemetry.WriteMetrics(h.metricsFile, nil); err != nil {
				errs = append(errs, err)
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}
