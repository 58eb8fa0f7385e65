// Package capture handles test teardown: failure screenshots, report
// attachments, outcome history and session release.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/history"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
	"github.com/devicelab-dev/mobile-harness/pkg/report"
	"github.com/devicelab-dev/mobile-harness/pkg/session"
	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

var log = logger.ForComponent(logger.CompCapture)

// AttachmentStatus labels the final status attachment.
const AttachmentStatus = "Test Status"

// DefaultCaptureTimeout bounds the screenshot request.
const DefaultCaptureTimeout = 10 * time.Second

// Sessions is the part of the session manager used at teardown.
type Sessions interface {
	Release(ctx context.Context, h *session.Handle)
}

// Persister saves failure screenshots. Implemented by artifact.Store.
type Persister interface {
	SaveScreenshot(testName string, png []byte) (string, error)
}

// Recorder stores outcomes. Implemented by history.Store.
type Recorder interface {
	RecordOutcome(ctx context.Context, o history.Outcome) (string, error)
}

// Outcome is a finished test as seen by teardown.
type Outcome struct {
	Worker   string
	Group    string
	TestName string
	Device   string
	// Session is the handle this test created. Nil when setup never obtained
	// one; teardown then neither screenshots nor destroys anything.
	Session  *session.Handle
	Status   core.TestStatus
	Err      error
	Duration time.Duration
	// Sink receives the attachments. Nil means report.Discard.
	Sink report.Sink
}

// Result reports what teardown managed to do. Errors are soft.
type Result struct {
	Captured       bool
	Attachment     string
	ScreenshotPath string
	Errors         []error
}

// Capturer runs the teardown sequence.
type Capturer struct {
	sessions Sessions
	store    Persister
	recorder Recorder
	runID    string
	persist  func() bool
	cfg      core.ArtifactConfig
	timeout  time.Duration
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithRecorder records every outcome under runID.
func WithRecorder(r Recorder, runID string) Option {
	return func(c *Capturer) {
		c.recorder = r
		c.runID = runID
	}
}

// WithPersistGate decides per outcome whether screenshots are written to the
// store. It is consulted at teardown so a profile reload takes effect.
func WithPersistGate(fn func() bool) Option {
	return func(c *Capturer) { c.persist = fn }
}

// WithArtifactConfig sets when screenshots are captured and whether they
// may be written to the store at all.
func WithArtifactConfig(cfg core.ArtifactConfig) Option {
	return func(c *Capturer) { c.cfg = cfg }
}

// WithCaptureTimeout bounds the screenshot request.
func WithCaptureTimeout(d time.Duration) Option {
	return func(c *Capturer) { c.timeout = d }
}

// New creates a Capturer.
func New(sessions Sessions, store Persister, opts ...Option) *Capturer {
	c := &Capturer{
		sessions: sessions,
		store:    store,
		persist:  func() bool { return true },
		cfg:      core.DefaultArtifactConfig(),
		timeout:  DefaultCaptureTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnOutcome captures failure evidence and always releases the test's session.
// Screenshot, report attachment, file persistence and history each run behind
// their own failure boundary, so one failing never prevents the others.
func (c *Capturer) OnOutcome(ctx context.Context, o Outcome) (res Result) {
	// Teardown runs even when the test's context already expired.
	base := context.WithoutCancel(ctx)
	defer c.sessions.Release(base, o.Session)

	sink := o.Sink
	if sink == nil {
		sink = report.Discard
	}
	infra := core.IsInfrastructure(o.Err)
	telemetry.TestOutcomes.WithLabelValues(o.Status.String(), fmt.Sprint(infra)).Inc()

	if err := guard("test status", func() error {
		_, err := sink.Attach(AttachmentStatus, []byte(strings.ToUpper(o.Status.String())), core.ContentTypeText)
		return err
	}); err != nil {
		res.Errors = append(res.Errors, err)
	}
	if o.Err != nil && o.Status.IsFailure() {
		if err := guard("failure reason", func() error {
			_, err := sink.Attach(core.AttachmentFailure, []byte(o.Err.Error()), core.ContentTypeText)
			return err
		}); err != nil {
			res.Errors = append(res.Errors, err)
		}
	}

	var png []byte
	if c.cfg.ShouldCapture(o.Status) {
		png = c.screenshot(base, o, &res)
	}

	if png != nil {
		if err := guard("report attachment", func() error {
			source, err := sink.Attach(core.AttachmentScreenshot, png, core.ContentTypePNG)
			res.Attachment = source
			return err
		}); err != nil {
			record(&res, "report", err)
		} else {
			telemetry.Captures.WithLabelValues("report", "ok").Inc()
		}

		if c.cfg.PersistScreenshots && c.persist() {
			if err := guard("screenshot file", func() error {
				path, err := c.store.SaveScreenshot(o.TestName, png)
				res.ScreenshotPath = path
				return err
			}); err != nil {
				record(&res, "store", err)
			} else {
				telemetry.Captures.WithLabelValues("store", "ok").Inc()
			}
		} else {
			telemetry.Captures.WithLabelValues("store", "skipped").Inc()
		}
	}

	if c.recorder != nil {
		if err := guard("history", func() error {
			_, err := c.recorder.RecordOutcome(base, c.historyOutcome(o, infra, res.ScreenshotPath))
			return err
		}); err != nil {
			res.Errors = append(res.Errors, err)
			log.Warn("could not record outcome", "test", o.TestName, "error", err)
		}
	}
	return res
}

func (c *Capturer) screenshot(ctx context.Context, o Outcome, res *Result) []byte {
	h := o.Session
	if h == nil || h.Session == nil {
		log.Info("test owns no session, skipping screenshot", "worker", o.Worker, "test", o.TestName)
		telemetry.Captures.WithLabelValues("screenshot", "skipped").Inc()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "capture.screenshot",
		telemetry.AttrWorker.String(o.Worker),
		telemetry.AttrTest.String(o.TestName),
	)

	var png []byte
	err := guard("screenshot", func() error {
		data, err := h.Session.Screenshot(ctx)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return fmt.Errorf("empty screenshot")
		}
		png = data
		return nil
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		record(res, "screenshot", err)
		return nil
	}
	res.Captured = true
	telemetry.Captures.WithLabelValues("screenshot", "ok").Inc()
	return png
}

func (c *Capturer) historyOutcome(o Outcome, infra bool, screenshot string) history.Outcome {
	h := history.Outcome{
		RunID:          c.runID,
		Group:          o.Group,
		Test:           o.TestName,
		Worker:         o.Worker,
		Device:         o.Device,
		Status:         o.Status.String(),
		Infrastructure: infra,
		Screenshot:     screenshot,
		Duration:       o.Duration,
	}
	if o.Err != nil {
		h.Message = o.Err.Error()
	}
	return h
}

func record(res *Result, target string, err error) {
	telemetry.Captures.WithLabelValues(target, "error").Inc()
	log.Warn("failure capture step failed", "target", target, "error", err)
	res.Errors = append(res.Errors, err)
}

// guard runs fn and converts a panic into an ArtifactIO error.
func guard(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.ErrArtifactIO.WithMessage(fmt.Sprintf("%s panicked: %v", step, r))
		}
	}()
	if err := fn(); err != nil {
		return core.ErrArtifactIO.WithMessage(step + " failed").WithCause(err)
	}
	return nil
}
